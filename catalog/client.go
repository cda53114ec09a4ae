// Package catalog talks to the CKAN-like catalog backends and selects which
// backend instance serves a request.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Client is the subset of the catalog action API used by the adapter.
type Client interface {
	PackageCreate(ctx context.Context, d *Dataset) (*Dataset, error)
	PackageShow(ctx context.Context, idOrName string) (*Dataset, error)
	PackageUpdate(ctx context.Context, d *Dataset) (*Dataset, error)
	DatasetPurge(ctx context.Context, idOrName string) error
	ResourceCreate(ctx context.Context, r *Resource) (*Resource, error)
	ResourceUpdate(ctx context.Context, r *Resource) (*Resource, error)
	PackageSearch(ctx context.Context, p SearchParams) (*SearchResult, error)
	OrganizationList(ctx context.Context) ([]string, error)
	OrganizationCreate(ctx context.Context, o *Organization) (*Organization, error)
	OrganizationShow(ctx context.Context, idOrName string) (*Organization, error)
	OrganizationDelete(ctx context.Context, id string) error
	OrganizationPurge(ctx context.Context, id string) error
}

// APIError is the error object returned by the action API when success is
// false. Fields holds validation messages keyed by field name.
type APIError struct {
	Type    string
	Message string
	Fields  map[string]interface{}
	Status  int
}

func (e *APIError) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Fields = map[string]interface{}{}
	for k, v := range raw {
		switch k {
		case "__type":
			e.Type, _ = v.(string)
		case "message":
			e.Message, _ = v.(string)
		default:
			e.Fields[k] = v
		}
	}
	return nil
}

func (e *APIError) Error() string {
	parts := []string{}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fieldMessage(e.Fields[k])))
	}
	msg := strings.Join(parts, "; ")
	switch {
	case e.Type == "" && msg == "":
		return fmt.Sprintf("catalog request failed with status %d", e.Status)
	case e.Type == "":
		return msg
	case msg == "":
		return e.Type
	}
	return e.Type + ": " + msg
}

func fieldMessage(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		s := make([]string, 0, len(t))
		for _, item := range t {
			s = append(s, fmt.Sprint(item))
		}
		return strings.Join(s, " ")
	}
	return fmt.Sprint(v)
}

// IsNotFound reports whether err is a backend "not found" response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound || apiErr.Type == "Not Found Error"
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
}

// ckanClient implements Client over the CKAN action API.
type ckanClient struct {
	baseURL   *url.URL
	apiKey    string
	client    *http.Client
	userAgent string
}

var _ Client = (*ckanClient)(nil)

// NewClient returns a Client for the backend at baseURL. The API key is sent
// in the Authorization header when not empty.
func NewClient(baseURL *url.URL, apiKey string, client *http.Client, userAgent string) *ckanClient {
	u := *baseURL
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ckanClient{
		baseURL:   &u,
		apiKey:    apiKey,
		client:    client,
		userAgent: userAgent,
	}
}

func (c *ckanClient) PackageCreate(ctx context.Context, d *Dataset) (*Dataset, error) {
	out := &Dataset{}
	if err := c.call(ctx, "package_create", d, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) PackageShow(ctx context.Context, idOrName string) (*Dataset, error) {
	out := &Dataset{}
	if err := c.call(ctx, "package_show", map[string]string{"id": idOrName}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) PackageUpdate(ctx context.Context, d *Dataset) (*Dataset, error) {
	out := &Dataset{}
	if err := c.call(ctx, "package_update", d, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) DatasetPurge(ctx context.Context, idOrName string) error {
	return c.call(ctx, "dataset_purge", map[string]string{"id": idOrName}, nil)
}

func (c *ckanClient) ResourceCreate(ctx context.Context, r *Resource) (*Resource, error) {
	out := &Resource{}
	if err := c.call(ctx, "resource_create", r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) ResourceUpdate(ctx context.Context, r *Resource) (*Resource, error) {
	out := &Resource{}
	if err := c.call(ctx, "resource_update", r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) PackageSearch(ctx context.Context, p SearchParams) (*SearchResult, error) {
	out := &SearchResult{}
	if err := c.call(ctx, "package_search", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) OrganizationList(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, "organization_list", map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) OrganizationCreate(ctx context.Context, o *Organization) (*Organization, error) {
	out := &Organization{}
	if err := c.call(ctx, "organization_create", o, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ckanClient) OrganizationShow(ctx context.Context, idOrName string) (*Organization, error) {
	out := &Organization{}
	if err := c.call(ctx, "organization_show", map[string]string{"id": idOrName}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrganizationDelete marks the organization as deleted. It is only removed
// by OrganizationPurge.
func (c *ckanClient) OrganizationDelete(ctx context.Context, id string) error {
	return c.call(ctx, "organization_delete", map[string]string{"id": id}, nil)
}

func (c *ckanClient) OrganizationPurge(ctx context.Context, id string) error {
	return c.call(ctx, "organization_purge", map[string]string{"id": id}, nil)
}

// call posts the payload to the named action and decodes the result into
// out. Failures are not retried.
func (c *ckanClient) call(ctx context.Context, action string, payload, out interface{}) error {
	resp, err := c.request(ctx, action, payload)
	if err != nil {
		return err
	}

	env := &envelope{}
	if err := decodeResponse(resp.Body, env); err != nil {
		return errors.Wrapf(err, "%s (status %d)", action, resp.StatusCode)
	}
	if !env.Success || resp.StatusCode >= 400 {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.Wrapf(err, "error decoding %s result", action)
	}
	return nil
}

func (c *ckanClient) request(ctx context.Context, action string, payload interface{}) (*http.Response, error) {
	buf := new(bytes.Buffer)
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, errors.Wrap(err, "error encoding the request")
		}
	}

	rel, err := url.Parse("api/3/action/" + action)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing the URL string")
	}
	dest := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.String(), buf)
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}

	const mediaTypeJSON = "application/json"
	req.Header.Add("Content-Type", mediaTypeJSON)
	req.Header.Add("Accept", mediaTypeJSON)
	if c.userAgent != "" {
		req.Header.Add("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Add("Authorization", c.apiKey)
	}

	return c.client.Do(req)
}

func decodeResponse(body io.ReadCloser, payload interface{}) (err error) {
	defer func() {
		if rerr := body.Close(); rerr != nil && err == nil {
			err = errors.Wrap(rerr, "error closing the response body")
		}
	}()

	if err = json.NewDecoder(body).Decode(payload); err != nil {
		err = errors.Wrap(err, "error decoding the response payload")
	}
	return err
}
