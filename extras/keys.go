package extras

import "sort"

// KeySet is a set of extras key names.
type KeySet map[string]struct{}

// NewKeySet returns a set holding the given keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// With returns a new set holding the keys of s plus the given keys.
func (s KeySet) With(keys ...string) KeySet {
	n := make(KeySet, len(s)+len(keys))
	for k := range s {
		n[k] = struct{}{}
	}
	for _, k := range keys {
		n[k] = struct{}{}
	}
	return n
}

// Has reports whether key belongs to the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Intersect returns the keys of m that belong to the set, sorted.
func (s KeySet) Intersect(m map[string]interface{}) []string {
	var out []string
	for k := range m {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Reserved key sets per resource kind. Extras keys that collide with a
// structural dataset field are rejected at the codec boundary.
var (
	baseReserved = NewKeySet(
		"name", "title", "owner_org", "notes", "id", "resources", "tags",
		"private", "license_id", "version", "state",
	)

	// singleResource is shared by the kinds that hold exactly one resource.
	singleResource = baseReserved.With("collection")

	// GeneralDataset applies to datasets with any number of resources.
	GeneralDataset = baseReserved.With("created", "last_modified", "url")

	// KafkaTopic applies to datasets pointing at a broker topic.
	KafkaTopic = singleResource.With("host", "port", "topic", "mapping", "processing")

	// S3Object applies to datasets pointing at an object store key.
	S3Object = singleResource

	// URLPointer applies to datasets pointing at a remote URL.
	URLPointer = singleResource.With("url", "file_type", "mapping", "processing")

	// ServiceRegistry applies to datasets describing a service endpoint.
	ServiceRegistry = singleResource.With("service_url", "service_type", "health_check_url", "documentation_url")
)
