package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"

	"github.com/google/uuid"
)

// FakeCatalog is an in-memory catalog.Client. It mimics the error objects
// returned by CKAN so that classification can be exercised end to end.
type FakeCatalog struct {
	mu       sync.Mutex
	datasets map[string]*catalog.Dataset      // Keyed by ID.
	orgs     map[string]*catalog.Organization // Keyed by ID.
	calls    map[string]int

	// ResourceCreateErr is returned by the FailResourceCreateAt-th call to
	// ResourceCreate (1-based, zero disables).
	FailResourceCreateAt int
	ResourceCreateErr    error

	// PurgeFailures is the number of DatasetPurge calls that fail with
	// PurgeErr before purging succeeds.
	PurgeFailures int
	PurgeErr      error

	// SearchResults, when not nil, replaces the stored datasets as the
	// result of PackageSearch. Otherwise an owner_org filter query is
	// honoured.
	SearchResults []catalog.Dataset
	SearchErr     error
	LastSearch    *catalog.SearchParams

	// Organizations is the result of OrganizationList. Created
	// organizations are appended to it and deleted ones removed.
	Organizations []string
}

var _ catalog.Client = (*FakeCatalog)(nil)

func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		datasets: map[string]*catalog.Dataset{},
		orgs:     map[string]*catalog.Organization{},
		calls:    map[string]int{},
	}
}

// Calls returns how many times the action was invoked.
func (f *FakeCatalog) Calls(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

// TotalCalls returns the number of calls across all actions.
func (f *FakeCatalog) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Datasets returns a copy of the stored datasets sorted by name.
func (f *FakeCatalog) Datasets() []catalog.Dataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]catalog.Dataset, 0, len(f.datasets))
	for _, d := range f.datasets {
		out = append(out, *clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put stores a dataset as is, assigning missing IDs, and returns its copy.
func (f *FakeCatalog) Put(d catalog.Dataset) catalog.Dataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.store(&d)
	return *clone(stored)
}

func (f *FakeCatalog) PackageCreate(ctx context.Context, d *catalog.Dataset) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["package_create"]++

	if d.Name == "" {
		return nil, validationError("name", "Missing value")
	}
	if f.byName(d.Name) != nil {
		return nil, validationError("name", "That URL is already in use.")
	}
	n := clone(d)
	n.ID = ""
	return clone(f.store(n)), nil
}

func (f *FakeCatalog) PackageShow(ctx context.Context, idOrName string) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["package_show"]++

	d := f.lookup(idOrName)
	if d == nil {
		return nil, notFound()
	}
	return clone(d), nil
}

func (f *FakeCatalog) PackageUpdate(ctx context.Context, d *catalog.Dataset) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["package_update"]++

	key := d.ID
	if key == "" {
		key = d.Name
	}
	current := f.lookup(key)
	if current == nil {
		return nil, notFound()
	}
	if other := f.byName(d.Name); other != nil && other.ID != current.ID {
		return nil, validationError("name", "That URL is already in use.")
	}
	n := clone(d)
	n.ID = current.ID
	return clone(f.store(n)), nil
}

func (f *FakeCatalog) DatasetPurge(ctx context.Context, idOrName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["dataset_purge"]++

	if f.PurgeFailures > 0 {
		f.PurgeFailures--
		return f.PurgeErr
	}
	d := f.lookup(idOrName)
	if d == nil {
		return notFound()
	}
	delete(f.datasets, d.ID)
	return nil
}

func (f *FakeCatalog) ResourceCreate(ctx context.Context, r *catalog.Resource) (*catalog.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["resource_create"]++

	if f.FailResourceCreateAt > 0 && f.calls["resource_create"] == f.FailResourceCreateAt {
		return nil, f.ResourceCreateErr
	}
	d := f.lookup(r.PackageID)
	if d == nil {
		return nil, notFound()
	}
	n := *r
	n.ID = uuid.New().String()
	n.PackageID = d.ID
	d.Resources = append(d.Resources, n)
	return &n, nil
}

func (f *FakeCatalog) ResourceUpdate(ctx context.Context, r *catalog.Resource) (*catalog.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["resource_update"]++

	for _, d := range f.datasets {
		for i := range d.Resources {
			if d.Resources[i].ID != r.ID {
				continue
			}
			n := *r
			n.PackageID = d.ID
			d.Resources[i] = n
			return &n, nil
		}
	}
	return nil, notFound()
}

func (f *FakeCatalog) PackageSearch(ctx context.Context, p catalog.SearchParams) (*catalog.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["package_search"]++

	params := p
	f.LastSearch = &params
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var results []catalog.Dataset
	if f.SearchResults != nil {
		results = append(results, f.SearchResults...)
	} else {
		owner := strings.TrimPrefix(p.FQ, "owner_org:")
		for _, d := range f.datasets {
			if owner != p.FQ && (d.Organization == nil || d.Organization.ID != owner) {
				continue
			}
			results = append(results, *clone(d))
		}
		sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	}
	return &catalog.SearchResult{Count: len(results), Results: results}, nil
}

func (f *FakeCatalog) OrganizationList(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["organization_list"]++

	return append([]string(nil), f.Organizations...), nil
}

func (f *FakeCatalog) OrganizationCreate(ctx context.Context, o *catalog.Organization) (*catalog.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["organization_create"]++

	if o.Name == "" {
		return nil, validationError("name", "Missing value")
	}
	if f.orgByName(o.Name) != nil {
		return nil, validationError("name", "Group name already exists in database")
	}
	n := *o
	n.ID = uuid.New().String()
	f.orgs[n.ID] = &n
	f.Organizations = append(f.Organizations, n.Name)
	out := n
	return &out, nil
}

func (f *FakeCatalog) OrganizationShow(ctx context.Context, idOrName string) (*catalog.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["organization_show"]++

	o := f.orgLookup(idOrName)
	if o == nil {
		return nil, notFound()
	}
	out := *o
	return &out, nil
}

func (f *FakeCatalog) OrganizationDelete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["organization_delete"]++

	o := f.orgLookup(id)
	if o == nil {
		return notFound()
	}
	var names []string
	for _, name := range f.Organizations {
		if name != o.Name {
			names = append(names, name)
		}
	}
	f.Organizations = names
	return nil
}

func (f *FakeCatalog) OrganizationPurge(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["organization_purge"]++

	o := f.orgLookup(id)
	if o == nil {
		return notFound()
	}
	delete(f.orgs, o.ID)
	return nil
}

func (f *FakeCatalog) orgLookup(idOrName string) *catalog.Organization {
	if o, ok := f.orgs[idOrName]; ok {
		return o
	}
	return f.orgByName(idOrName)
}

func (f *FakeCatalog) orgByName(name string) *catalog.Organization {
	for _, o := range f.orgs {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func (f *FakeCatalog) store(d *catalog.Dataset) *catalog.Dataset {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if o := f.orgLookup(d.OwnerOrg); o != nil {
		org := *o
		d.Organization = &org
	} else if d.OwnerOrg != "" {
		d.Organization = &catalog.Organization{Name: d.OwnerOrg}
	}
	for i := range d.Resources {
		if d.Resources[i].ID == "" {
			d.Resources[i].ID = uuid.New().String()
		}
		d.Resources[i].PackageID = d.ID
	}
	f.datasets[d.ID] = d
	return d
}

func (f *FakeCatalog) lookup(idOrName string) *catalog.Dataset {
	if d, ok := f.datasets[idOrName]; ok {
		return d
	}
	return f.byName(idOrName)
}

func (f *FakeCatalog) byName(name string) *catalog.Dataset {
	for _, d := range f.datasets {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func clone(d *catalog.Dataset) *catalog.Dataset {
	blob, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	out := &catalog.Dataset{}
	if err := json.Unmarshal(blob, out); err != nil {
		panic(err)
	}
	return out
}

func notFound() error {
	return &catalog.APIError{Type: "Not Found Error", Message: "Not found", Status: http.StatusNotFound}
}

func validationError(field, msg string) error {
	return &catalog.APIError{
		Type:   "Validation Error",
		Fields: map[string]interface{}{field: []interface{}{msg}},
		Status: http.StatusConflict,
	}
}

// FakeResolver resolves every enabled selector to the same fake catalog and
// records the handle variant requested.
type FakeResolver struct {
	Catalog  *FakeCatalog
	Disabled map[catalog.Selector]bool
	Keyed    []bool
}

var _ catalog.Resolver = (*FakeResolver)(nil)

func (r *FakeResolver) Resolve(sel catalog.Selector, needsAPIKey bool) (catalog.Client, error) {
	config := catalog.Config{}
	for _, s := range catalog.Selectors {
		config[s] = catalog.Instance{URL: "http://catalog.test", Enabled: !r.Disabled[s]}
	}
	router := catalog.NewRouter(config, func(catalog.Selector, *url.URL, string) catalog.Client {
		return r.Catalog
	})
	c, err := router.Resolve(sel, needsAPIKey)
	if err == nil {
		r.Keyed = append(r.Keyed, needsAPIKey)
	}
	return c, err
}
