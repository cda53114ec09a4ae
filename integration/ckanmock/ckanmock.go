// Package ckanmock serves the subset of the CKAN action API used by the
// adapter from an in-memory catalog.
package ckanmock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	"github.com/sci-ndp/ndp-catalog-adapter/internal/testutil"

	"github.com/pkg/errors"
)

type Backend struct {
	URL     string
	APIKey  string
	Catalog *testutil.FakeCatalog

	mu         sync.Mutex
	authorized map[string]int
	anonymous  map[string]int

	ln net.Listener

	t    *testing.T
	stop chan chan struct{}
}

func New(t *testing.T) *Backend {
	b := &Backend{
		APIKey:     "secret",
		Catalog:    testutil.NewFakeCatalog(),
		authorized: map[string]int{},
		anonymous:  map[string]int{},
		t:          t,
		stop:       make(chan chan struct{}),
	}

	ln, err := net.Listen("tcp4", "localhost:")
	if err != nil {
		b.t.Fatal("Cannot create network listener:", err)
	}
	b.ln = ln
	b.URL = fmt.Sprintf("http://%s/catalog", ln.Addr().String())

	go b.createServer()
	go b.loop()

	return b
}

func (b *Backend) createServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/api/3/action/", b.handleAction)
	err := http.Serve(b.ln, mux)
	if err != nil {
		b.t.Log("Catalog server is now closed:", err)
	}
}

func (b *Backend) loop() {
	ch := <-b.stop
	b.ln.Close()
	close(ch)
}

// Calls returns how many times the action was requested with and without
// the API key.
func (b *Backend) Calls(action string) (authorized, anonymous int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authorized[action], b.anonymous[action]
}

func (b *Backend) handleAction(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/catalog/api/3/action/")

	b.mu.Lock()
	if r.Header.Get("Authorization") == b.APIKey {
		b.authorized[action]++
	} else {
		b.anonymous[action]++
	}
	b.mu.Unlock()

	result, err := b.dispatch(r.Context(), action, r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "result": result})
}

type idPayload struct {
	ID string `json:"id"`
}

func (b *Backend) dispatch(ctx context.Context, action string, r *http.Request) (interface{}, error) {
	dec := json.NewDecoder(r.Body)
	c := b.Catalog
	switch action {
	case "package_create", "package_update":
		d := &catalog.Dataset{}
		if err := dec.Decode(d); err != nil {
			return nil, err
		}
		if action == "package_create" {
			return c.PackageCreate(ctx, d)
		}
		return c.PackageUpdate(ctx, d)
	case "package_show", "dataset_purge":
		p := idPayload{}
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
		if action == "package_show" {
			return c.PackageShow(ctx, p.ID)
		}
		return nil, c.DatasetPurge(ctx, p.ID)
	case "resource_create", "resource_update":
		res := &catalog.Resource{}
		if err := dec.Decode(res); err != nil {
			return nil, err
		}
		if action == "resource_create" {
			return c.ResourceCreate(ctx, res)
		}
		return c.ResourceUpdate(ctx, res)
	case "package_search":
		p := catalog.SearchParams{}
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
		return c.PackageSearch(ctx, p)
	case "organization_list":
		return c.OrganizationList(ctx)
	case "organization_create":
		o := &catalog.Organization{}
		if err := dec.Decode(o); err != nil {
			return nil, err
		}
		return c.OrganizationCreate(ctx, o)
	case "organization_show", "organization_delete", "organization_purge":
		p := idPayload{}
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
		switch action {
		case "organization_show":
			return c.OrganizationShow(ctx, p.ID)
		case "organization_delete":
			return nil, c.OrganizationDelete(ctx, p.ID)
		}
		return nil, c.OrganizationPurge(ctx, p.ID)
	}
	return nil, &catalog.APIError{Type: "Not Found Error", Message: "Action name not known: " + action, Status: http.StatusBadRequest}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"__type": "Internal Server Error", "message": err.Error()}
	status := http.StatusInternalServerError
	var apiErr *catalog.APIError
	if errors.As(err, &apiErr) {
		for k, v := range apiErr.Fields {
			body[k] = v
		}
		body["__type"] = apiErr.Type
		body["message"] = apiErr.Message
		status = apiErr.Status
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": body})
}

func (b *Backend) Stop() {
	ch := make(chan struct{})
	b.stop <- ch
	<-ch
}
