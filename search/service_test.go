package search

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"
	"github.com/sci-ndp/ndp-catalog-adapter/internal/testutil"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *testutil.FakeCatalog, *testutil.FakeResolver) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	fake := testutil.NewFakeCatalog()
	resolver := &testutil.FakeResolver{Catalog: fake}
	return New(logger, resolver), fake, resolver
}

func oceanDataset() catalog.Dataset {
	return catalog.Dataset{
		ID:       "d1",
		Name:     "ocean-temperature",
		Title:    "Ocean Temperature",
		OwnerOrg: "noaa",
		Notes:    "Sea surface temperature",
		Extras: []extras.Pair{
			{Key: "mapping", Value: `{"sst":"sea_surface_temperature"}`},
			{Key: "processing", Value: "not json"},
			{Key: "project", Value: "ndp"},
		},
		Resources: []catalog.Resource{
			{ID: "r1", URL: "http://example.org/sst.csv", Name: "sst", Format: "CSV"},
		},
	}
}

func TestService_SearchByTerms(t *testing.T) {
	s, fake, resolver := newTestService(t)
	fake.Put(oceanDataset())

	results, err := s.SearchByTerms(context.Background(), catalog.Local, []string{"ocean+sst"}, nil)
	require.NoError(t, err)

	require.NotNil(t, fake.LastSearch)
	assert.Equal(t, `ocean\+sst`, fake.LastSearch.Q)
	assert.Equal(t, 1000, fake.LastSearch.Rows)
	assert.Equal(t, []bool{false}, resolver.Keyed)

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "ocean-temperature", r.Name)
	assert.Equal(t, "Sea surface temperature", r.Description)
	require.NotNil(t, r.OwnerOrg)
	assert.Equal(t, "noaa", *r.OwnerOrg)
	assert.Equal(t, []Resource{{ID: "r1", URL: "http://example.org/sst.csv", Name: "sst", Format: "CSV"}}, r.Resources)

	m := r.Extras.Map()
	assert.Equal(t, map[string]interface{}{"sst": "sea_surface_temperature"}, m["mapping"])
	assert.Equal(t, "not json", m["processing"])
	assert.Equal(t, "ndp", m["project"])
}

func TestService_SearchByTerms_LengthMismatchNeverCallsBackend(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.SearchByTerms(context.Background(), catalog.Local, []string{"a", "b"}, []string{"k1"})
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))
	assert.Zero(t, fake.TotalCalls())
}

func TestService_SearchByTerms_NoTerms(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.SearchByTerms(context.Background(), catalog.Local, nil, nil)
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))
	assert.Zero(t, fake.TotalCalls())
}

func TestService_SearchByTerms_NotFoundIsEmpty(t *testing.T) {
	s, fake, _ := newTestService(t)
	fake.SearchErr = &catalog.APIError{Type: "Not Found Error", Message: "Not found", Status: http.StatusNotFound}

	results, err := s.SearchByTerms(context.Background(), catalog.Global, []string{"x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	blob, err := json.Marshal(results)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(blob))
}

func TestService_SearchByTerms_BackendError(t *testing.T) {
	s, fake, _ := newTestService(t)
	fake.SearchErr = errors.New("solr exploded")

	_, err := s.SearchByTerms(context.Background(), catalog.Local, []string{"x"}, nil)
	assert.Equal(t, cErrors.KindSearch, cErrors.KindOf(err))
	assert.Contains(t, err.Error(), "solr exploded")
}

func TestService_SearchByTerms_MissingScheme(t *testing.T) {
	s, fake, _ := newTestService(t)
	fake.SearchErr = errors.New("Get catalog.test/api: unsupported protocol scheme \"\"")

	_, err := s.SearchByTerms(context.Background(), catalog.Local, []string{"x"}, nil)
	assert.Equal(t, cErrors.KindBackendMisconfigured, cErrors.KindOf(err))
}

func TestService_DisabledServerIsInvalidInput(t *testing.T) {
	s, fake, resolver := newTestService(t)
	resolver.Disabled = map[catalog.Selector]bool{catalog.PreCatalog: true}

	_, err := s.SearchByTerms(context.Background(), catalog.PreCatalog, []string{"x"}, nil)
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))

	_, err = s.Search(context.Background(), catalog.PreCatalog, Request{SearchTerm: "x"})
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))

	_, err = s.Search(context.Background(), catalog.Selector("elsewhere"), Request{SearchTerm: "x"})
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))

	assert.Zero(t, fake.TotalCalls())
}

func TestService_PreCatalogSearchIsAnonymous(t *testing.T) {
	s, _, resolver := newTestService(t)

	_, err := s.SearchByTerms(context.Background(), catalog.PreCatalog, []string{"x"}, nil)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), catalog.PreCatalog, Request{SearchTerm: "x"})
	require.NoError(t, err)
	_, err = s.ListOrganizations(context.Background(), catalog.PreCatalog, "")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, resolver.Keyed)
}

func TestService_Search_BuildsQuery(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.Search(context.Background(), catalog.Global, Request{
		DatasetName:    "ocean-temperature",
		ResourceFormat: "CSV",
		SearchTerm:     "sea, temperature ,",
		FilterList:     []string{"project:ndp"},
		Timestamp:      "<2024",
	})
	require.NoError(t, err)

	require.NotNil(t, fake.LastSearch)
	assert.Equal(t, catalog.SearchParams{
		Q:    `name:ocean\-temperature AND res_format:csv AND sea AND temperature`,
		FQ:   "project:ndp AND timestamp:[* TO 2024]",
		Rows: 1,
		Sort: "timestamp desc",
	}, *fake.LastSearch)
}

func TestService_Search_EmptyRequestMatchesEverything(t *testing.T) {
	s, fake, _ := newTestService(t)
	fake.Put(oceanDataset())

	results, err := s.Search(context.Background(), catalog.Global, Request{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "*:*", fake.LastSearch.Q)
	assert.Empty(t, fake.LastSearch.FQ)
}

func TestService_Search_KeepsOnlyRecordsContainingEveryTerm(t *testing.T) {
	s, fake, _ := newTestService(t)
	partial := oceanDataset()
	partial.ID, partial.Name, partial.Title, partial.Notes = "d2", "ocean-salinity", "Ocean Salinity", "Salt"
	partial.Extras = nil
	fake.SearchResults = []catalog.Dataset{oceanDataset(), partial}

	results, err := s.Search(context.Background(), catalog.Global, Request{SearchTerm: "OCEAN,temperature"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ocean-temperature", results[0].Name)

	// The ranked search trusts the backend.
	ranked, err := s.SearchByTerms(context.Background(), catalog.Global, []string{"ocean", "temperature"}, nil)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
}

func TestService_Search_MatchesFieldsNotModelled(t *testing.T) {
	s, fake, _ := newTestService(t)

	var res catalog.SearchResult
	require.NoError(t, json.Unmarshal([]byte(`{"count":2,"results":[
		{"id":"d1","name":"sst","title":"SST","author":"Alice Smith",
		 "organization":{"name":"noaa","title":"Oceanic Administration"},
		 "resources":[{"id":"r1","url":"http://example.org/a","hash":"ABC123"}]},
		{"id":"d2","name":"salinity","title":"Salinity","author":"Bob",
		 "resources":[]}]}`), &res))
	fake.SearchResults = res.Results

	results, err := s.Search(context.Background(), catalog.Global, Request{SearchTerm: "alice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sst", results[0].Name)

	results, err = s.Search(context.Background(), catalog.Global, Request{SearchTerm: "abc123"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)

	results, err = s.Search(context.Background(), catalog.Global, Request{SearchTerm: "oceanic"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestService_Search_InvalidFilter(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.Search(context.Background(), catalog.Global, Request{FilterList: []string{"novalue"}})
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))

	_, err = s.Search(context.Background(), catalog.Global, Request{Timestamp: "a/b/c"})
	assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))
	assert.Zero(t, fake.TotalCalls())
}

func TestService_ListOrganizations(t *testing.T) {
	s, fake, _ := newTestService(t)
	fake.Organizations = []string{"NOAA", "noaa-ncei", "usgs"}

	orgs, err := s.ListOrganizations(context.Background(), catalog.Local, "Noaa")
	require.NoError(t, err)
	assert.Equal(t, []string{"NOAA", "noaa-ncei"}, orgs)

	all, err := s.ListOrganizations(context.Background(), catalog.Local, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
