package catalog

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, apiKey string, h http.HandlerFunc) *ckanClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL + "/ckan")
	require.NoError(t, err)
	return NewClient(u, apiKey, ts.Client(), "ndp-catalog-adapter/test")
}

func TestClient_PackageShow(t *testing.T) {
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ckan/api/3/action/package_show", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.Equal(t, "ndp-catalog-adapter/test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := ioutil.ReadAll(r.Body)
		assert.JSONEq(t, `{"id":"ds1"}`, string(body))

		_, _ = w.Write([]byte(`{"success":true,"result":{
			"id":"1234","name":"ds1","title":"Dataset","private":false,
			"organization":{"name":"org"},
			"tags":[{"name":"a"}],
			"extras":[{"key":"project","value":"x"}],
			"resources":[{"id":"r1","url":"http://x","format":"CSV","size":12}]}}`))
	})

	d, err := c.PackageShow(context.Background(), "ds1")
	require.NoError(t, err)
	assert.Equal(t, "1234", d.ID)
	assert.Equal(t, []string{"a"}, d.TagNames())
	assert.Equal(t, "org", *d.OrganizationName())
	assert.Equal(t, []extras.Pair{{Key: "project", Value: "x"}}, d.Extras)
	require.Len(t, d.Resources, 1)
	require.NotNil(t, d.Resources[0].Size)
	assert.EqualValues(t, 12, *d.Resources[0].Size)
}

func TestClient_AnonymousOmitsAuthorization(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["Authorization"]
		assert.False(t, ok)
		_, _ = w.Write([]byte(`{"success":true,"result":["org-a","org-b"]}`))
	})

	orgs, err := c.OrganizationList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, orgs)
}

func TestClient_Errors(t *testing.T) {
	tests := map[string]struct {
		status   int
		body     string
		notFound bool
		message  string
		kind     cErrors.Kind
	}{
		"not found": {
			status:   http.StatusNotFound,
			body:     `{"success":false,"error":{"__type":"Not Found Error","message":"Not found"}}`,
			notFound: true,
			message:  "Not Found Error: Not found",
			kind:     cErrors.KindNotFound,
		},
		"validation": {
			status:  http.StatusConflict,
			body:    `{"success":false,"error":{"__type":"Validation Error","name":["That URL is already in use."]}}`,
			message: "Validation Error: name: That URL is already in use.",
			kind:    cErrors.KindConflict,
		},
		"authorization": {
			status:  http.StatusForbidden,
			body:    `{"success":false,"error":{"__type":"Authorization Error","message":"Access denied"}}`,
			message: "Authorization Error: Access denied",
			kind:    cErrors.KindBackend,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.PackageShow(context.Background(), "missing")
			require.Error(t, err)
			assert.Equal(t, tc.notFound, IsNotFound(err))
			assert.Equal(t, tc.message, err.Error())
			assert.Equal(t, tc.kind, cErrors.KindOf(cErrors.Classify(err, "fetching dataset")))
		})
	}
}

func TestClient_UndecodableResponse(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	err := c.DatasetPurge(context.Background(), "ds1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset_purge (status 502)")
}

func TestClient_PackageSearch(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		var p SearchParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, SearchParams{Q: "a AND b", Rows: 1000}, p)
		_, _ = w.Write([]byte(`{"success":true,"result":{"count":1,"results":[{"id":"1","name":"ds"}]}}`))
	})

	res, err := c.PackageSearch(context.Background(), SearchParams{Q: "a AND b", Rows: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "ds", res.Results[0].Name)
}

func TestAPIError_UnmarshalJSON(t *testing.T) {
	e := &APIError{}
	require.NoError(t, json.Unmarshal([]byte(`{"__type":"Validation Error","url":["Missing value"],"name":"bad"}`), e))
	assert.Equal(t, "Validation Error", e.Type)
	assert.Equal(t, "Validation Error: name: bad; url: Missing value", e.Error())
}

func TestClient_Organizations(t *testing.T) {
	var actions []string
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		action := strings.TrimPrefix(r.URL.Path, "/ckan/api/3/action/")
		actions = append(actions, action)
		body, _ := ioutil.ReadAll(r.Body)
		switch action {
		case "organization_create":
			assert.JSONEq(t, `{"name":"noaa","title":"NOAA","description":"Oceans"}`, string(body))
			_, _ = w.Write([]byte(`{"success":true,"result":{"id":"o1","name":"noaa","title":"NOAA"}}`))
		case "organization_show":
			assert.JSONEq(t, `{"id":"noaa"}`, string(body))
			_, _ = w.Write([]byte(`{"success":true,"result":{"id":"o1","name":"noaa"}}`))
		default:
			assert.JSONEq(t, `{"id":"o1"}`, string(body))
			_, _ = w.Write([]byte(`{"success":true,"result":null}`))
		}
	})
	ctx := context.Background()

	o, err := c.OrganizationCreate(ctx, &Organization{Name: "noaa", Title: "NOAA", Description: "Oceans"})
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	o, err = c.OrganizationShow(ctx, "noaa")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	require.NoError(t, c.OrganizationDelete(ctx, "o1"))
	require.NoError(t, c.OrganizationPurge(ctx, "o1"))
	assert.Equal(t, []string{"organization_create", "organization_show", "organization_delete", "organization_purge"}, actions)
}
