package catalog

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors describing backend calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ndp_catalog_adapter",
				Name:      "backend_requests_total",
				Help:      "Catalog backend calls by instance, action and outcome.",
			},
			[]string{"instance", "action", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ndp_catalog_adapter",
				Name:      "backend_request_duration_seconds",
				Help:      "Time spent in catalog backend calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"instance", "action"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

// Instrument wraps c so that every call is counted and timed.
func Instrument(c Client, instance Selector, m *Metrics) Client {
	if m == nil {
		return c
	}
	return &instrumented{next: c, instance: string(instance), m: m}
}

type instrumented struct {
	next     Client
	instance string
	m        *Metrics
}

var _ Client = (*instrumented)(nil)

func (i *instrumented) observe(action string, start time.Time, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	i.m.Requests.WithLabelValues(i.instance, action, outcome).Inc()
	i.m.Duration.WithLabelValues(i.instance, action).Observe(time.Since(start).Seconds())
}

func (i *instrumented) PackageCreate(ctx context.Context, d *Dataset) (*Dataset, error) {
	start := time.Now()
	out, err := i.next.PackageCreate(ctx, d)
	i.observe("package_create", start, err)
	return out, err
}

func (i *instrumented) PackageShow(ctx context.Context, idOrName string) (*Dataset, error) {
	start := time.Now()
	out, err := i.next.PackageShow(ctx, idOrName)
	i.observe("package_show", start, err)
	return out, err
}

func (i *instrumented) PackageUpdate(ctx context.Context, d *Dataset) (*Dataset, error) {
	start := time.Now()
	out, err := i.next.PackageUpdate(ctx, d)
	i.observe("package_update", start, err)
	return out, err
}

func (i *instrumented) DatasetPurge(ctx context.Context, idOrName string) error {
	start := time.Now()
	err := i.next.DatasetPurge(ctx, idOrName)
	i.observe("dataset_purge", start, err)
	return err
}

func (i *instrumented) ResourceCreate(ctx context.Context, r *Resource) (*Resource, error) {
	start := time.Now()
	out, err := i.next.ResourceCreate(ctx, r)
	i.observe("resource_create", start, err)
	return out, err
}

func (i *instrumented) ResourceUpdate(ctx context.Context, r *Resource) (*Resource, error) {
	start := time.Now()
	out, err := i.next.ResourceUpdate(ctx, r)
	i.observe("resource_update", start, err)
	return out, err
}

func (i *instrumented) PackageSearch(ctx context.Context, p SearchParams) (*SearchResult, error) {
	start := time.Now()
	out, err := i.next.PackageSearch(ctx, p)
	i.observe("package_search", start, err)
	return out, err
}

func (i *instrumented) OrganizationList(ctx context.Context) ([]string, error) {
	start := time.Now()
	out, err := i.next.OrganizationList(ctx)
	i.observe("organization_list", start, err)
	return out, err
}

func (i *instrumented) OrganizationCreate(ctx context.Context, o *Organization) (*Organization, error) {
	start := time.Now()
	out, err := i.next.OrganizationCreate(ctx, o)
	i.observe("organization_create", start, err)
	return out, err
}

func (i *instrumented) OrganizationShow(ctx context.Context, idOrName string) (*Organization, error) {
	start := time.Now()
	out, err := i.next.OrganizationShow(ctx, idOrName)
	i.observe("organization_show", start, err)
	return out, err
}

func (i *instrumented) OrganizationDelete(ctx context.Context, id string) error {
	start := time.Now()
	err := i.next.OrganizationDelete(ctx, id)
	i.observe("organization_delete", start, err)
	return err
}

func (i *instrumented) OrganizationPurge(ctx context.Context, id string) error {
	start := time.Now()
	err := i.next.OrganizationPurge(ctx, id)
	i.observe("organization_purge", start, err)
	return err
}
