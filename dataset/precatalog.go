package dataset

import (
	"fmt"
	"strings"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
)

// Extras required by the pre-publication catalog. Each entry is satisfied
// by any one of its keys.
var preCatalogExtras = [][]string{
	{"uploadType"},
	{"dataType"},
	{"purpose"},
	{"publisherName"},
	{"publisherEmail"},
	{"creatorName"},
	{"creatorEmail"},
	{"pocName"},
	{"pocEmail"},
	{"license", "otherLicense"},
	{"issueDate"},
	{"lastUpdateDate"},
}

var preCatalogResourceFields = []string{"name", "description", "mimetype", "status"}

// preCatalogDocument is the part of a registration checked before it is
// sent to the pre-publication catalog. Tags and resources are only checked
// for kinds that let the caller supply them.
type preCatalogDocument struct {
	title     string
	notes     string
	tags      []string
	extras    map[string]string
	resources []catalog.Resource

	withTags      bool
	withResources bool
}

func (d preCatalogDocument) missing() []string {
	var missing []string
	if d.title == "" {
		missing = append(missing, "title")
	}
	if d.notes == "" {
		missing = append(missing, "notes")
	}
	if d.withTags && len(d.tags) == 0 {
		missing = append(missing, "tags")
	}
	for _, keys := range preCatalogExtras {
		found := false
		for _, k := range keys {
			if d.extras[k] != "" {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "extras:"+strings.Join(keys, "|"))
		}
	}
	if !d.withResources {
		return missing
	}
	if len(d.resources) == 0 {
		missing = append(missing, "resources")
	}
	for i, r := range d.resources {
		for _, f := range preCatalogResourceFields {
			if !r.Field(f) {
				missing = append(missing, fmt.Sprintf("resources[%d]:%s", i, f))
			}
		}
	}
	return missing
}

// checkPreCatalog rejects registrations to the pre-publication catalog that
// lack its required fields. Other backends are not checked.
func checkPreCatalog(sel catalog.Selector, doc preCatalogDocument) error {
	if sel != catalog.PreCatalog {
		return nil
	}
	if missing := doc.missing(); len(missing) > 0 {
		return cErrors.InvalidInput("missing required fields for %s: %s", sel, strings.Join(missing, ", "))
	}
	return nil
}
