package search

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"

	"github.com/sirupsen/logrus"
)

// maxRows is the page size requested from the backend.
const maxRows = 1000

// Resource is the public projection of a catalog resource.
type Resource struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Result is the public projection of a dataset found by a search.
type Result struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	OwnerOrg    *string       `json:"owner_org"`
	Description string        `json:"description,omitempty"`
	Resources   []Resource    `json:"resources"`
	Extras      extras.Extras `json:"extras"`
}

// Request holds the fields of a strict search. Every non-empty field must
// match.
type Request struct {
	DatasetName         string   `json:"dataset_name,omitempty" schema:"dataset_name"`
	DatasetTitle        string   `json:"dataset_title,omitempty" schema:"dataset_title"`
	OwnerOrg            string   `json:"owner_org,omitempty" schema:"owner_org"`
	ResourceURL         string   `json:"resource_url,omitempty" schema:"resource_url"`
	ResourceName        string   `json:"resource_name,omitempty" schema:"resource_name"`
	DatasetDescription  string   `json:"dataset_description,omitempty" schema:"dataset_description"`
	ResourceDescription string   `json:"resource_description,omitempty" schema:"resource_description"`
	ResourceFormat      string   `json:"resource_format,omitempty" schema:"resource_format"`
	SearchTerm          string   `json:"search_term,omitempty" schema:"search_term"`
	FilterList          []string `json:"filter_list,omitempty" schema:"filter_list"`
	Timestamp           string   `json:"timestamp,omitempty" schema:"timestamp"`
	Server              string   `json:"server,omitempty" schema:"server"`
}

// fields pairs each scoped request field with the backend key it matches.
func (r Request) fields() []struct{ key, value string } {
	return []struct{ key, value string }{
		{"name", r.DatasetName},
		{"title", r.DatasetTitle},
		{"organization", r.OwnerOrg},
		{"res_url", r.ResourceURL},
		{"res_name", r.ResourceName},
		{"notes", r.DatasetDescription},
		{"res_description", r.ResourceDescription},
		{"res_format", strings.ToLower(r.ResourceFormat)},
	}
}

// Terms returns the comma-separated search terms, trimmed, without blanks.
func (r Request) Terms() []string {
	var terms []string
	for _, t := range strings.Split(r.SearchTerm, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Service runs searches against the catalog backends.
type Service struct {
	logger   logrus.FieldLogger
	resolver catalog.Resolver
}

func New(logger logrus.FieldLogger, resolver catalog.Resolver) *Service {
	return &Service{logger: logger, resolver: resolver}
}

// client resolves the anonymous handle used for reads.
func (s *Service) client(sel catalog.Selector) (catalog.Client, error) {
	c, err := s.resolver.Resolve(sel, false)
	switch cErrors.KindOf(err) {
	case cErrors.KindUnknown:
		return c, err
	case cErrors.KindBackendDisabled:
		return nil, cErrors.InvalidInput("server %s is disabled and cannot be used", sel)
	}
	return nil, err
}

// SearchByTerms compiles terms and keys into a conjunctive query and trusts
// the ranking of the backend.
func (s *Service) SearchByTerms(ctx context.Context, sel catalog.Selector, terms, keys []string) ([]Result, error) {
	if len(terms) == 0 {
		return nil, cErrors.InvalidInput("at least one search term is required")
	}
	q, err := Compile(terms, keys)
	if err != nil {
		return nil, err
	}
	c, err := s.client(sel)
	if err != nil {
		return nil, err
	}
	datasets, err := s.query(ctx, c, sel, catalog.SearchParams{Q: q, Rows: maxRows})
	if err != nil {
		return nil, err
	}
	return project(datasets), nil
}

// Search matches every non-empty field of req and then keeps only the
// records that contain every requested value.
func (s *Service) Search(ctx context.Context, sel catalog.Selector, req Request) ([]Result, error) {
	var (
		clauses  []string
		keywords []string
		filters  []string
	)
	for _, f := range req.fields() {
		if f.value == "" {
			continue
		}
		clauses = append(clauses, Clause(f.key, f.value))
		keywords = append(keywords, f.value)
	}
	for _, t := range req.Terms() {
		clauses = append(clauses, Clause("", t))
		keywords = append(keywords, t)
	}
	for _, item := range req.FilterList {
		key, value, ok := splitFilter(item)
		if !ok {
			return nil, cErrors.InvalidInput("filter %q must have the form key:value", item)
		}
		filters = append(filters, Clause(key, value))
	}

	params := catalog.SearchParams{Q: strings.Join(clauses, " AND "), Rows: maxRows}
	if params.Q == "" {
		params.Q = "*:*"
	}
	if req.Timestamp != "" {
		tr, err := ParseTimestamp(req.Timestamp)
		if err != nil {
			return nil, err
		}
		filters = append(filters, tr.FilterQuery)
		params.Sort = tr.Sort
		if tr.Rows > 0 {
			params.Rows = tr.Rows
		}
	}
	params.FQ = strings.Join(filters, " AND ")

	c, err := s.client(sel)
	if err != nil {
		return nil, err
	}
	datasets, err := s.query(ctx, c, sel, params)
	if err != nil {
		return nil, err
	}
	return project(matchAll(datasets, keywords)), nil
}

// ListOrganizations returns the organizations of the backend whose name
// contains filter, ignoring case.
func (s *Service) ListOrganizations(ctx context.Context, sel catalog.Selector, filter string) ([]string, error) {
	c, err := s.client(sel)
	if err != nil {
		return nil, err
	}
	orgs, err := c.OrganizationList(ctx)
	if err != nil {
		s.logger.WithField("server", sel).WithError(err).Warn("Error listing organizations")
		return nil, cErrors.Classify(err, "error listing organizations")
	}
	filter = strings.ToLower(filter)
	out := make([]string, 0, len(orgs))
	for _, o := range orgs {
		if strings.Contains(strings.ToLower(o), filter) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Service) query(ctx context.Context, c catalog.Client, sel catalog.Selector, params catalog.SearchParams) ([]catalog.Dataset, error) {
	logger := s.logger.WithFields(logrus.Fields{"server": sel, "q": params.Q, "fq": params.FQ})
	res, err := c.PackageSearch(ctx, params)
	if err != nil {
		if catalog.IsNotFound(err) {
			logger.Debug("No datasets found")
			return nil, nil
		}
		if classified := cErrors.Classify(err, ""); cErrors.Is(classified, cErrors.KindBackendMisconfigured) {
			return nil, classified
		}
		logger.WithError(err).Warn("Error searching for datasets")
		return nil, cErrors.Search(err)
	}
	logger.WithField("count", res.Count).Debug("Search completed")
	return res.Results, nil
}

func splitFilter(item string) (key, value string, ok bool) {
	i := strings.Index(item, ":")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(item[:i]), strings.TrimSpace(item[i+1:]), true
}

// matchAll keeps the datasets whose lower-cased JSON form contains every
// lower-cased keyword. The JSON form includes the fields of the backend
// record that are not modelled by catalog.Dataset.
func matchAll(datasets []catalog.Dataset, keywords []string) []catalog.Dataset {
	if len(keywords) == 0 {
		return datasets
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	var out []catalog.Dataset
	for _, d := range datasets {
		doc, err := marshal(d)
		if err != nil {
			continue
		}
		if containsAll(strings.ToLower(doc), lowered) {
			out = append(out, d)
		}
	}
	return out
}

func marshal(d catalog.Dataset) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func project(datasets []catalog.Dataset) []Result {
	results := make([]Result, 0, len(datasets))
	for _, d := range datasets {
		resources := make([]Resource, 0, len(d.Resources))
		for _, r := range d.Resources {
			resources = append(resources, Resource{
				ID:          r.ID,
				URL:         r.URL,
				Name:        r.Name,
				Description: r.Description,
				Format:      r.Format,
			})
		}
		results = append(results, Result{
			ID:          d.ID,
			Name:        d.Name,
			Title:       d.Title,
			OwnerOrg:    d.OrganizationName(),
			Description: d.Notes,
			Resources:   resources,
			Extras:      extras.DecodeExtras(d.Extras),
		})
	}
	return results
}
