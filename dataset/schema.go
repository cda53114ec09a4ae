package dataset

import (
	"encoding/json"
	"strings"
	"sync"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes the JSON document accepted by Create.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "title", "owner_org"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9_-]{2,100}$"},
    "title": {"type": "string", "minLength": 1},
    "owner_org": {"type": "string", "minLength": 1},
    "notes": {"type": ["string", "null"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "groups": {"type": ["array", "null"], "items": {"type": "string"}},
    "extras": {"type": ["object", "null"]},
    "private": {"type": ["boolean", "null"]},
    "license_id": {"type": ["string", "null"]},
    "version": {"type": ["string", "null"]},
    "resources": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["url", "name"],
        "properties": {
          "url": {"type": "string"},
          "name": {"type": "string"},
          "format": {"type": ["string", "null"]},
          "description": {"type": ["string", "null"]},
          "mimetype": {"type": ["string", "null"]},
          "size": {"type": ["integer", "null"], "minimum": 0}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return schema, schemaErr
}

// ValidateDocument checks a dataset document against the dataset schema.
// Violations are reported as invalid input.
func ValidateDocument(doc []byte) error {
	s, err := loadSchema()
	if err != nil {
		return errors.Wrap(err, "error loading dataset schema")
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return cErrors.InvalidInput("dataset document is not valid JSON: %v", err)
	}
	if res.Valid() {
		return nil
	}
	issues := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		issues = append(issues, e.String())
	}
	return cErrors.InvalidInput("dataset document is invalid: %s", strings.Join(issues, "; "))
}

// DecodeCreateRequest validates doc and decodes it into a CreateRequest.
func DecodeCreateRequest(doc []byte) (CreateRequest, error) {
	var req CreateRequest
	if err := ValidateDocument(doc); err != nil {
		return req, err
	}
	if err := json.Unmarshal(doc, &req); err != nil {
		return req, cErrors.InvalidInput("dataset document cannot be decoded: %v", err)
	}
	return req, nil
}
