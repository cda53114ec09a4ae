// Package dataset implements the registration, update and deletion of
// datasets and their resources against the catalog backends.
package dataset

import (
	"context"
	"strings"
	"time"

	"github.com/sci-ndp/ndp-catalog-adapter/broker"
	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"
	"github.com/sci-ndp/ndp-catalog-adapter/s3"

	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
)

// Service orchestrates dataset operations. Calls issued by one operation are
// sequential and not transactional.
type Service struct {
	logger   logrus.FieldLogger
	resolver catalog.Resolver

	// Optional collaborators. Verification is skipped when nil.
	objects s3.ObjectStorage
	prober  broker.Prober

	// rollback enables the compensating purge of partially created datasets.
	rollback   bool
	newBackOff func() backoff.BackOff
}

type Option func(*Service)

// WithObjectStorage makes S3 registrations verify that the object exists.
func WithObjectStorage(objects s3.ObjectStorage) Option {
	return func(s *Service) { s.objects = objects }
}

// WithTopicProber makes Kafka registrations verify that the topic exists.
func WithTopicProber(prober broker.Prober) Option {
	return func(s *Service) { s.prober = prober }
}

// WithRollback enables purging datasets whose resources could not be
// created.
func WithRollback(enabled bool) Option {
	return func(s *Service) { s.rollback = enabled }
}

func New(logger logrus.FieldLogger, resolver catalog.Resolver, opts ...Option) *Service {
	s := &Service{
		logger:   logger,
		resolver: resolver,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a general dataset to be registered.
type CreateRequest struct {
	Name      string             `json:"name"`
	Title     string             `json:"title"`
	OwnerOrg  string             `json:"owner_org"`
	Notes     string             `json:"notes,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
	Groups    []string           `json:"groups,omitempty"`
	Extras    interface{}        `json:"extras,omitempty"`
	Resources []catalog.Resource `json:"resources,omitempty"`
	Private   bool               `json:"private"`
	LicenseID string             `json:"license_id,omitempty"`
	Version   string             `json:"version,omitempty"`
}

func (r CreateRequest) validate() error {
	return requireFields(
		field{"name", r.Name},
		field{"title", r.Title},
		field{"owner_org", r.OwnerOrg},
	)
}

// UpdateRequest describes the fields to change on a dataset. Nil fields are
// left untouched; empty name, title or owner_org values keep the current
// ones.
type UpdateRequest struct {
	Name      *string            `json:"name,omitempty"`
	Title     *string            `json:"title,omitempty"`
	OwnerOrg  *string            `json:"owner_org,omitempty"`
	Notes     *string            `json:"notes,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
	Groups    []string           `json:"groups,omitempty"`
	Extras    interface{}        `json:"extras,omitempty"`
	Resources []catalog.Resource `json:"resources,omitempty"`
	Private   *bool              `json:"private,omitempty"`
	LicenseID *string            `json:"license_id,omitempty"`
	Version   *string            `json:"version,omitempty"`
}

func (r UpdateRequest) overlay(d *catalog.Dataset) {
	setNonEmpty(&d.Name, r.Name)
	setNonEmpty(&d.Title, r.Title)
	setNonEmpty(&d.OwnerOrg, r.OwnerOrg)
	if r.Notes != nil {
		d.Notes = *r.Notes
	}
	if r.Private != nil {
		d.Private = *r.Private
	}
	if r.LicenseID != nil {
		d.LicenseID = *r.LicenseID
	}
	if r.Version != nil {
		d.Version = *r.Version
	}
	if r.Tags != nil {
		d.Tags = catalog.Tags(r.Tags)
	}
	if r.Groups != nil {
		d.Groups = catalog.Groups(r.Groups)
	}
}

// Create registers a general dataset and then each of its resources.
func (s *Service) Create(ctx context.Context, sel catalog.Selector, req CreateRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	pairs, err := extras.Encode(req.Extras, extras.GeneralDataset)
	if err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}
	if err := checkPreCatalog(sel, preCatalogDocument{
		title:         req.Title,
		notes:         req.Notes,
		tags:          req.Tags,
		extras:        extras.Decode(pairs),
		resources:     req.Resources,
		withTags:      true,
		withResources: true,
	}); err != nil {
		return "", err
	}

	d := &catalog.Dataset{
		Name:      req.Name,
		Title:     req.Title,
		OwnerOrg:  req.OwnerOrg,
		Notes:     req.Notes,
		Private:   req.Private,
		LicenseID: req.LicenseID,
		Version:   req.Version,
		Tags:      catalog.Tags(req.Tags),
		Groups:    catalog.Groups(req.Groups),
		Extras:    pairs,
		Resources: []catalog.Resource{},
	}
	return s.create(ctx, client, sel, d, req.Resources)
}

// create issues the dataset call followed by one call per resource.
func (s *Service) create(ctx context.Context, client catalog.Client, sel catalog.Selector, d *catalog.Dataset, resources []catalog.Resource) (string, error) {
	logger := s.logger.WithFields(logrus.Fields{"server": sel, "dataset": d.Name})

	created, err := client.PackageCreate(ctx, d)
	if err != nil {
		logger.WithError(err).Warn("Error creating dataset")
		return "", cErrors.Classify(err, "error creating dataset")
	}

	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		r.ID = ""
		r.PackageID = created.ID
		res, err := client.ResourceCreate(ctx, &r)
		if err != nil {
			return "", s.partialCreation(ctx, client, logger, created.ID, ids, err)
		}
		ids = append(ids, res.ID)
	}

	logger.WithFields(logrus.Fields{"id": created.ID, "resources": len(ids)}).Info("Dataset created")
	return created.ID, nil
}

// partialCreation reports a dataset whose resources could not all be
// created, purging it first when rollback is enabled.
func (s *Service) partialCreation(ctx context.Context, client catalog.Client, logger logrus.FieldLogger, id string, created []string, cause error) error {
	perr := &cErrors.PartialCreationError{
		DatasetID: id,
		Resources: created,
		Err:       cErrors.Classify(cause, "error creating dataset resources"),
	}
	logger = logger.WithFields(logrus.Fields{"id": id, "created_resources": len(created)})
	if !s.rollback {
		logger.WithError(cause).Error("Dataset left partially created")
		return perr
	}

	purge := func() error {
		err := client.DatasetPurge(ctx, id)
		if catalog.IsNotFound(err) {
			return nil
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), 3), ctx)
	if err := backoff.Retry(purge, b); err != nil {
		perr.CleanupErr = err
		logger.WithError(err).Error("Error purging partially created dataset")
		return perr
	}
	perr.RolledBack = true
	logger.WithError(cause).Warn("Partially created dataset purged")
	return perr
}

// Update applies req with resources replaced by the incoming list.
func (s *Service) Update(ctx context.Context, sel catalog.Selector, id string, req UpdateRequest) (string, error) {
	return s.apply(ctx, sel, id, req, Replace)
}

// Patch applies req with resources merged into the current list.
func (s *Service) Patch(ctx context.Context, sel catalog.Selector, id string, req UpdateRequest) (string, error) {
	return s.apply(ctx, sel, id, req, Merge)
}

func (s *Service) apply(ctx context.Context, sel catalog.Selector, id string, req UpdateRequest, mode Mode) (string, error) {
	if id == "" {
		return "", cErrors.InvalidInput("dataset id is required")
	}
	var incoming map[string]string
	if req.Extras != nil {
		pairs, err := extras.Encode(req.Extras, extras.GeneralDataset)
		if err != nil {
			return "", err
		}
		incoming = extras.Decode(pairs)
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}

	logger := s.logger.WithFields(logrus.Fields{"server": sel, "id": id, "mode": mode})

	d, err := client.PackageShow(ctx, id)
	if err != nil {
		logger.WithError(err).Debug("Error fetching dataset")
		return "", cErrors.Classify(err, "error fetching dataset")
	}

	req.overlay(d)
	if incoming != nil {
		d.Extras = extras.Merge(d.Extras, incoming)
	}
	if req.Resources != nil {
		d.Resources = Reconcile(d.Resources, req.Resources, mode)
	}
	if d.Resources == nil {
		d.Resources = []catalog.Resource{}
	}

	updated, err := client.PackageUpdate(ctx, d)
	if err != nil {
		logger.WithError(err).Warn("Error updating dataset")
		return "", cErrors.Classify(err, "error updating dataset")
	}
	logger.Info("Dataset updated")
	return updated.ID, nil
}

// Delete purges a dataset identified by name, id or both. When both are
// given they must refer to the same record.
func (s *Service) Delete(ctx context.Context, sel catalog.Selector, name, id string) error {
	if name == "" && id == "" {
		return cErrors.InvalidInput("a dataset name or id is required")
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return err
	}

	target := id
	if name != "" {
		d, err := client.PackageShow(ctx, name)
		if err != nil {
			return cErrors.Classify(err, "error fetching dataset")
		}
		if id != "" && d.ID != id {
			return cErrors.Conflict("dataset %q has id %s, not %s", name, d.ID, id)
		}
		target = d.ID
	}

	if err := client.DatasetPurge(ctx, target); err != nil {
		s.logger.WithFields(logrus.Fields{"server": sel, "id": target}).WithError(err).Warn("Error deleting dataset")
		return cErrors.Classify(err, "error deleting dataset")
	}
	s.logger.WithFields(logrus.Fields{"server": sel, "id": target}).Info("Dataset deleted")
	return nil
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return cErrors.InvalidInput("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setNonEmpty(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}
