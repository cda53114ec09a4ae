package dataset

import (
	"context"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/sirupsen/logrus"
)

// maxOrganizationDatasets bounds the datasets purged with their organization.
const maxOrganizationDatasets = 1000

// OrganizationRequest describes an organization to be created.
type OrganizationRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CreateOrganization registers an organization and returns its id. A name
// already in use is reported as a conflict.
func (s *Service) CreateOrganization(ctx context.Context, sel catalog.Selector, req OrganizationRequest) (string, error) {
	if err := requireFields(
		field{"name", req.Name},
		field{"title", req.Title},
	); err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}

	logger := s.logger.WithFields(logrus.Fields{"server": sel, "organization": req.Name})

	o, err := client.OrganizationCreate(ctx, &catalog.Organization{
		Name:        req.Name,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		logger.WithError(err).Warn("Error creating organization")
		return "", cErrors.Classify(err, "error creating organization")
	}
	logger.WithField("id", o.ID).Info("Organization created")
	return o.ID, nil
}

// DeleteOrganization purges the datasets owned by the organization and then
// the organization itself.
func (s *Service) DeleteOrganization(ctx context.Context, sel catalog.Selector, name string) error {
	if name == "" {
		return cErrors.InvalidInput("organization name is required")
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return err
	}

	logger := s.logger.WithFields(logrus.Fields{"server": sel, "organization": name})

	o, err := client.OrganizationShow(ctx, name)
	if err != nil {
		if catalog.IsNotFound(err) {
			return cErrors.NotFound("organization %q not found", name)
		}
		return cErrors.Classify(err, "error fetching organization")
	}

	res, err := client.PackageSearch(ctx, catalog.SearchParams{
		Q:    "*:*",
		FQ:   "owner_org:" + o.ID,
		Rows: maxOrganizationDatasets,
	})
	if err != nil && !catalog.IsNotFound(err) {
		return cErrors.Classify(err, "error listing organization datasets")
	}
	purged := 0
	if res != nil {
		for _, d := range res.Results {
			if err := client.DatasetPurge(ctx, d.ID); err != nil && !catalog.IsNotFound(err) {
				logger.WithError(err).WithField("dataset", d.ID).Warn("Error purging organization dataset")
				return cErrors.Classify(err, "error deleting organization datasets")
			}
			purged++
		}
	}

	if err := client.OrganizationDelete(ctx, o.ID); err != nil {
		return cErrors.Classify(err, "error deleting organization")
	}
	if err := client.OrganizationPurge(ctx, o.ID); err != nil {
		return cErrors.Classify(err, "error purging organization")
	}
	logger.WithFields(logrus.Fields{"id": o.ID, "datasets": purged}).Info("Organization deleted")
	return nil
}
