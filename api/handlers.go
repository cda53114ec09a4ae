package api

import (
	"context"
	"io"
	"net/http"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	"github.com/sci-ndp/ndp-catalog-adapter/dataset"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/search"

	"github.com/gorilla/mux"
)

type termsQuery struct {
	Terms  []string `schema:"terms"`
	Keys   []string `schema:"keys"`
	Server string   `schema:"server"`
}

type organizationQuery struct {
	Name   string `schema:"name"`
	Server string `schema:"server"`
}

type deleteQuery struct {
	ResourceID   string `schema:"resource_id"`
	ResourceName string `schema:"resource_name"`
	Server       string `schema:"server"`
}

type serverQuery struct {
	Server string `schema:"server"`
}

func (s *Server) decodeQuery(r *http.Request, v interface{}) error {
	if err := s.decoder.Decode(v, r.URL.Query()); err != nil {
		return cErrors.InvalidInput("malformed query: %v", err)
	}
	return nil
}

// selector parses a read selector, falling back to def when absent.
func selector(raw string, def catalog.Selector) (catalog.Selector, error) {
	if raw == "" {
		return def, nil
	}
	return catalog.ParseSelector(raw)
}

// writeSelector parses the selector of a write route. Writes never target
// the global catalog.
func (s *Server) writeSelector(r *http.Request) (catalog.Selector, error) {
	var q serverQuery
	if err := s.decodeQuery(r, &q); err != nil {
		return "", err
	}
	sel, err := selector(q.Server, catalog.Local)
	if err != nil {
		return "", err
	}
	if sel == catalog.Global {
		return "", cErrors.InvalidInput("server must be local or pre_catalog")
	}
	return sel, nil
}

func (s *Server) handleSearchByTerms(w http.ResponseWriter, r *http.Request) {
	var q termsQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := selector(q.Server, catalog.Local)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.searches.SearchByTerms(r.Context(), sel, q.Terms, q.Keys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := selector(req.Server, catalog.Global)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.searches.Search(r.Context(), sel, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	var q organizationQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := selector(q.Server, catalog.Local)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orgs, err := s.searches.ListOrganizations(r.Context(), sel, q.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) handleKafkaDetails(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		s.writeError(w, r, cErrors.BackendDisabled("kafka is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.prober.Details(r.Context()))
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, cErrors.InvalidInput("reading request body: %v", err))
		return
	}
	req, err := dataset.DecodeCreateRequest(doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.datasets.Create(r.Context(), sel, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{ID: id})
}

func (s *Server) handleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	s.updateDataset(w, r, s.datasets.Update)
}

func (s *Server) handlePatchDataset(w http.ResponseWriter, r *http.Request) {
	s.updateDataset(w, r, s.datasets.Patch)
}

type updateFunc func(ctx context.Context, sel catalog.Selector, id string, req dataset.UpdateRequest) (string, error)

func (s *Server) updateDataset(w http.ResponseWriter, r *http.Request, update updateFunc) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req dataset.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := update(r.Context(), sel, mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{ID: id, Message: "Dataset updated successfully"})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	var q deleteQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := q.ResourceName
	if v, ok := mux.Vars(r)["name"]; ok {
		name = v
	}
	if err := s.datasets.Delete(r.Context(), sel, name, q.ResourceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	target := name
	if target == "" {
		target = q.ResourceID
	}
	writeJSON(w, http.StatusOK, messageBody{Message: target + " deleted successfully"})
}

func (s *Server) handleRegisterKafka(w http.ResponseWriter, r *http.Request) {
	var req dataset.KafkaRequest
	s.register(w, r, &req, func(ctx context.Context, sel catalog.Selector) (string, error) {
		return s.datasets.RegisterKafka(ctx, sel, req)
	})
}

func (s *Server) handleRegisterS3(w http.ResponseWriter, r *http.Request) {
	var req dataset.S3Request
	s.register(w, r, &req, func(ctx context.Context, sel catalog.Selector) (string, error) {
		return s.datasets.RegisterS3(ctx, sel, req)
	})
}

func (s *Server) handleRegisterURL(w http.ResponseWriter, r *http.Request) {
	var req dataset.URLRequest
	s.register(w, r, &req, func(ctx context.Context, sel catalog.Selector) (string, error) {
		return s.datasets.RegisterURL(ctx, sel, req)
	})
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req dataset.ServiceRequest
	s.register(w, r, &req, func(ctx context.Context, sel catalog.Selector) (string, error) {
		return s.datasets.RegisterService(ctx, sel, req)
	})
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req dataset.OrganizationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.datasets.CreateOrganization(r.Context(), sel, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{ID: id, Message: "Organization created successfully"})
}

func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.datasets.DeleteOrganization(r.Context(), sel, mux.Vars(r)["name"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Organization deleted successfully"})
}

func (s *Server) handleUpdateKafka(w http.ResponseWriter, r *http.Request) {
	var req dataset.KafkaUpdate
	s.updatePointer(w, r, &req, func(ctx context.Context, sel catalog.Selector, id string) (string, error) {
		return s.datasets.UpdateKafka(ctx, sel, id, req)
	})
}

func (s *Server) handleUpdateS3(w http.ResponseWriter, r *http.Request) {
	var req dataset.S3Update
	s.updatePointer(w, r, &req, func(ctx context.Context, sel catalog.Selector, id string) (string, error) {
		return s.datasets.UpdateS3(ctx, sel, id, req)
	})
}

func (s *Server) handleUpdateURL(w http.ResponseWriter, r *http.Request) {
	var req dataset.URLUpdate
	s.updatePointer(w, r, &req, func(ctx context.Context, sel catalog.Selector, id string) (string, error) {
		return s.datasets.UpdateURL(ctx, sel, id, req)
	})
}

// register decodes the body into req and runs fn against the selected
// backend.
func (s *Server) register(w http.ResponseWriter, r *http.Request, req interface{}, fn func(context.Context, catalog.Selector) (string, error)) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := decodeBody(r, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := fn(r.Context(), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{ID: id})
}

func (s *Server) updatePointer(w http.ResponseWriter, r *http.Request, req interface{}, fn func(context.Context, catalog.Selector, string) (string, error)) {
	sel, err := s.writeSelector(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := decodeBody(r, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := fn(r.Context(), sel, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{ID: id, Message: "Dataset updated successfully"})
}
