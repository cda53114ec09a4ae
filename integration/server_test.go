package integration

import (
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sci-ndp/ndp-catalog-adapter/api"
	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	"github.com/sci-ndp/ndp-catalog-adapter/dataset"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"
	"github.com/sci-ndp/ndp-catalog-adapter/integration/ckanmock"
	"github.com/sci-ndp/ndp-catalog-adapter/search"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	flagDebug = flag.Bool("debug", false, "")
)

type environment struct {
	api     *httptest.Server
	local   *ckanmock.Backend
	metrics *catalog.Metrics
}

// start serves the API over a local catalog. The pre-publication catalog is
// configured but disabled.
func start(t *testing.T) *environment {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if *flagDebug {
		logger.SetLevel(logrus.DebugLevel)
	}

	local := ckanmock.New(t)
	metrics := catalog.NewMetrics(prometheus.NewRegistry())
	router := catalog.NewRouter(catalog.Config{
		catalog.Local:      {URL: local.URL, APIKey: local.APIKey, Enabled: true},
		catalog.Global:     {URL: local.URL, Enabled: true},
		catalog.PreCatalog: {URL: "localhost:1", Enabled: false},
	}, func(sel catalog.Selector, u *url.URL, apiKey string) catalog.Client {
		return catalog.Instrument(catalog.NewClient(u, apiKey, http.DefaultClient, "integration"), sel, metrics)
	})

	srv := api.New(logger, dataset.New(logger, router), search.New(logger, router), nil)
	env := &environment{api: httptest.NewServer(srv), local: local, metrics: metrics}
	t.Cleanup(func() {
		env.api.Close()
		local.Stop()
	})
	return env
}

func (e *environment) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.api.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp, raw
}

func TestDatasetRoundTrip(t *testing.T) {
	env := start(t)

	resp, body := env.do(t, "POST", "/dataset", `{"name":"ds1","title":"Dataset 1","owner_org":"org",
		"extras":{"project":"x","mapping":{"a":"b"}},
		"resources":[{"url":"http://example.org/u1","name":"n1"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(body, &created))

	// Writes are always keyed.
	authorized, anonymous := env.local.Calls("package_create")
	assert.Equal(t, 1, authorized)
	assert.Zero(t, anonymous)

	resp, body = env.do(t, "PUT", "/dataset/"+created.ID, `{"extras":{"project":"y","owner":"z"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, "PATCH", "/dataset/"+created.ID, `{"resources":[{"url":"http://example.org/u1","name":"n1","format":"CSV"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	stored := env.local.Catalog.Datasets()
	require.Len(t, stored, 1)
	assert.Equal(t, map[string]string{
		"project": "y",
		"owner":   "z",
		"mapping": `{"a":"b"}`,
	}, extras.Decode(stored[0].Extras))
	require.Len(t, stored[0].Resources, 1)
	assert.Equal(t, "CSV", stored[0].Resources[0].Format)

	resp, body = env.do(t, "GET", "/search?terms=ds1&keys=name", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var results []search.Result
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, map[string]interface{}{"a": "b"}, results[0].Extras.Map()["mapping"])

	// Searches are anonymous.
	authorized, anonymous = env.local.Calls("package_search")
	assert.Zero(t, authorized)
	assert.Equal(t, 1, anonymous)

	resp, _ = env.do(t, "DELETE", "/resource/ds1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, env.local.Catalog.Datasets())

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Requests.WithLabelValues("local", "dataset_purge", "success")))
}

func TestBackendErrorsAreClassified(t *testing.T) {
	env := start(t)
	doc := `{"name":"ds1","title":"Dataset 1","owner_org":"org"}`

	resp, _ := env.do(t, "POST", "/dataset", doc)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, "POST", "/dataset", doc)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = env.do(t, "PUT", "/dataset/missing", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	resp, body = env.do(t, "POST", "/dataset?server=pre_catalog", doc)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "backend_disabled")
}

func TestOrganizationDeletePurgesDatasets(t *testing.T) {
	env := start(t)

	resp, body := env.do(t, "POST", "/organization", `{"name":"noaa","title":"NOAA"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, "POST", "/dataset", `{"name":"sst","title":"SST","owner_org":"noaa",
		"resources":[{"url":"http://example.org/sst.csv","name":"sst","hash":"abc"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// Resource fields unknown to the adapter reach the backend.
	stored := env.local.Catalog.Datasets()
	require.Len(t, stored, 1)
	require.Len(t, stored[0].Resources, 1)
	assert.JSONEq(t, `"abc"`, string(stored[0].Resources[0].Other["hash"]))

	resp, body = env.do(t, "DELETE", "/organization/noaa", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Empty(t, env.local.Catalog.Datasets())

	authorized, _ := env.local.Calls("organization_purge")
	assert.Equal(t, 1, authorized)
}
