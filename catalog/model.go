package catalog

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/sci-ndp/ndp-catalog-adapter/extras"
)

// Dataset is a package record as exchanged with the catalog backend.
//
// Fields of the backend record that are not modelled here are kept in Other
// and written back on encoding, so a record read with package_show can be
// sent to package_update without losing them.
type Dataset struct {
	ID           string        `json:"id,omitempty"`
	Name         string        `json:"name"`
	Title        string        `json:"title,omitempty"`
	OwnerOrg     string        `json:"owner_org,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Private      bool          `json:"private"`
	LicenseID    string        `json:"license_id,omitempty"`
	Version      string        `json:"version,omitempty"`
	State        string        `json:"state,omitempty"`
	Tags         []Tag         `json:"tags,omitempty"`
	Groups       []Group       `json:"groups,omitempty"`
	Extras       []extras.Pair `json:"extras,omitempty"`
	Resources    []Resource    `json:"resources"`
	Organization *Organization `json:"organization,omitempty"`

	Other map[string]json.RawMessage `json:"-"`
}

type datasetFields Dataset

var datasetKeys = jsonKeys(reflect.TypeOf(datasetFields{}))

func (d *Dataset) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var known datasetFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	other, err := unknownFields(data, datasetKeys)
	if err != nil {
		return err
	}
	*d = Dataset(known)
	d.Other = other
	return nil
}

func (d Dataset) MarshalJSON() ([]byte, error) {
	return encodeWithOther(datasetFields(d), d.Other)
}

// TagNames returns the names of the tags of the dataset in order.
func (d Dataset) TagNames() []string {
	if d.Tags == nil {
		return nil
	}
	names := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		names = append(names, t.Name)
	}
	return names
}

// OrganizationName returns the name of the owning organization, or nil.
func (d Dataset) OrganizationName() *string {
	if d.Organization == nil || d.Organization.Name == "" {
		return nil
	}
	name := d.Organization.Name
	return &name
}

type Tag struct {
	Name string `json:"name"`
}

type Group struct {
	Name string `json:"name"`
}

// Tags builds the tag list from names.
func Tags(names []string) []Tag {
	if names == nil {
		return nil
	}
	tags := make([]Tag, 0, len(names))
	for _, n := range names {
		tags = append(tags, Tag{Name: n})
	}
	return tags
}

// Groups builds the group list from names.
func Groups(names []string) []Group {
	if names == nil {
		return nil
	}
	groups := make([]Group, 0, len(names))
	for _, n := range names {
		groups = append(groups, Group{Name: n})
	}
	return groups
}

type Organization struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Resource belongs to exactly one dataset (PackageID).
type Resource struct {
	ID           string `json:"id,omitempty"`
	PackageID    string `json:"package_id,omitempty"`
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Format       string `json:"format,omitempty"`
	Mimetype     string `json:"mimetype,omitempty"`
	Size         *int64 `json:"size,omitempty"`
	Created      string `json:"created,omitempty"`
	LastModified string `json:"last_modified,omitempty"`

	Other map[string]json.RawMessage `json:"-"`
}

type resourceFields Resource

var resourceKeys = jsonKeys(reflect.TypeOf(resourceFields{}))

func (r *Resource) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var known resourceFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	other, err := unknownFields(data, resourceKeys)
	if err != nil {
		return err
	}
	*r = Resource(known)
	r.Other = other
	return nil
}

func (r Resource) MarshalJSON() ([]byte, error) {
	return encodeWithOther(resourceFields(r), r.Other)
}

// Field reports whether the resource carries a non-empty value for key,
// modelled or not.
func (r Resource) Field(key string) bool {
	blob, err := r.MarshalJSON()
	if err != nil {
		return false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(blob, &m); err != nil {
		return false
	}
	switch v := m[key].(type) {
	case nil:
		return false
	case string:
		return v != ""
	}
	return true
}

// SearchParams are the package_search parameters used by the adapter.
type SearchParams struct {
	Q    string `json:"q,omitempty"`
	FQ   string `json:"fq,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Sort string `json:"sort,omitempty"`
}

type SearchResult struct {
	Count   int       `json:"count"`
	Results []Dataset `json:"results"`
}

// jsonKeys returns the JSON names of the fields of a struct type.
func jsonKeys(t reflect.Type) map[string]bool {
	keys := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// unknownFields returns the members of the JSON object that are not in
// known, or nil when there are none.
func unknownFields(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var other map[string]json.RawMessage
	for k, v := range all {
		if known[k] {
			continue
		}
		if other == nil {
			other = map[string]json.RawMessage{}
		}
		other[k] = v
	}
	return other, nil
}

// encodeWithOther encodes v and adds the members of other it does not set.
// HTML characters are not escaped.
func encodeWithOther(v interface{}, other map[string]json.RawMessage) ([]byte, error) {
	blob, err := encode(v)
	if err != nil || len(other) == 0 {
		return blob, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(blob, &all); err != nil {
		return nil, err
	}
	for k, raw := range other {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return encode(all)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
