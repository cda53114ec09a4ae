package dataset

import "github.com/sci-ndp/ndp-catalog-adapter/catalog"

// Mode selects how an incoming resource list is reconciled with the current
// one.
type Mode int

const (
	// Replace drops the current resources in favour of the incoming list.
	Replace Mode = iota

	// Merge updates matching resources in place and appends the rest.
	Merge
)

func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Merge:
		return "merge"
	default:
		return "unknown"
	}
}

// Reconcile returns the resource list that results from applying incoming to
// existing under the given mode. Neither input is modified.
//
// Under Merge, each incoming resource is matched against the working list by
// URL or, failing that, by name; empty values never match. A match is
// overlaid with the non-empty fields of the incoming resource, otherwise the
// resource is appended. Incoming entries are processed in order so later
// entries win when several match the same resource.
func Reconcile(existing, incoming []catalog.Resource, mode Mode) []catalog.Resource {
	if mode == Replace {
		return append([]catalog.Resource{}, incoming...)
	}

	result := append([]catalog.Resource{}, existing...)
	for _, in := range incoming {
		if i := match(result, in); i >= 0 {
			result[i] = overlay(result[i], in)
			continue
		}
		result = append(result, in)
	}
	return result
}

func match(list []catalog.Resource, r catalog.Resource) int {
	for i, cur := range list {
		if (r.URL != "" && cur.URL == r.URL) || (r.Name != "" && cur.Name == r.Name) {
			return i
		}
	}
	return -1
}

func overlay(dst, src catalog.Resource) catalog.Resource {
	if src.URL != "" {
		dst.URL = src.URL
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Format != "" {
		dst.Format = src.Format
	}
	if src.Mimetype != "" {
		dst.Mimetype = src.Mimetype
	}
	if src.Size != nil {
		size := *src.Size
		dst.Size = &size
	}
	return dst
}
