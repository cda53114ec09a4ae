package api

import (
	"encoding/json"
	"io"
	"net/http"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/pkg/errors"
)

type errorBody struct {
	Kind       string   `json:"kind"`
	Detail     string   `json:"detail"`
	Keys       []string `json:"keys,omitempty"`
	DatasetID  string   `json:"dataset_id,omitempty"`
	RolledBack *bool    `json:"rolled_back,omitempty"`
}

type messageBody struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind cErrors.Kind) int {
	switch kind {
	case cErrors.KindNotFound:
		return http.StatusNotFound
	case cErrors.KindConflict:
		return http.StatusConflict
	case cErrors.KindPartialCreation, cErrors.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := cErrors.KindOf(err)
	body := errorBody{Kind: kind.String(), Detail: err.Error()}

	var reserved *cErrors.ReservedKeyError
	if errors.As(err, &reserved) {
		body.Keys = reserved.Keys
	}
	var partial *cErrors.PartialCreationError
	if errors.As(err, &partial) {
		body.DatasetID = partial.DatasetID
		body.RolledBack = &partial.RolledBack
	}

	status := statusOf(kind)
	logger := s.logger.WithField("path", r.URL.Path).WithError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Debug("Request rejected")
	}
	writeJSON(w, status, body)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cErrors.InvalidInput("malformed request body: %v", err)
	}
	return nil
}

// decodeOptionalBody is decodeBody for routes whose body may be omitted.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return cErrors.InvalidInput("malformed request body: %v", err)
}
