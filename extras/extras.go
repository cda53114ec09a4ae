// Package extras converts dataset extras between the flat key/value mapping
// exposed by the adapter and the list of key/value pairs stored by the
// catalog backend.
package extras

import (
	"encoding/json"
	"sort"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Keys holding JSON documents serialised into a string.
const (
	MappingKey    = "mapping"
	ProcessingKey = "processing"
)

// Pair is the backend representation of a single extra.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Encode validates the user-supplied extras against the reserved key set and
// returns them as pairs sorted by key. raw may be nil, a map[string]string or
// a map[string]interface{}; anything else is invalid input.
func Encode(raw interface{}, reserved KeySet) ([]Pair, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}
	if bad := reserved.Intersect(m); len(bad) > 0 {
		return nil, cErrors.NewReservedKeyError(bad)
	}
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		s, err := EncodeValue(v)
		if err != nil {
			return nil, cErrors.InvalidInput("extras value for key %q cannot be encoded: %v", k, err)
		}
		pairs = append(pairs, Pair{Key: k, Value: s})
	}
	sortPairs(pairs)
	return pairs, nil
}

// EncodeValue turns a single extras value into its stored string form.
// Objects and lists are serialised as JSON.
func EncodeValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.RawMessage:
		return string(t), nil
	case map[string]interface{}, []interface{}, map[string]string, []string:
		blob, err := json.Marshal(t)
		if err != nil {
			return "", errors.Wrap(err, "serialising structured value")
		}
		return string(blob), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		blob, jerr := json.Marshal(v)
		if jerr != nil {
			return "", err
		}
		return string(blob), nil
	}
	return s, nil
}

// Decode returns the pairs as a mapping. Later duplicates win.
func Decode(pairs []Pair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// Merge overlays incoming onto the existing pairs: incoming values win for
// overlapping keys, the rest is the union of both. The result is sorted.
func Merge(existing []Pair, incoming map[string]string) []Pair {
	m := Decode(existing)
	for k, v := range incoming {
		m[k] = v
	}
	return FromMap(m)
}

// FromMap returns the mapping as pairs sorted by key.
func FromMap(m map[string]string) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	sortPairs(pairs)
	return pairs
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
}

func asMap(raw interface{}) (map[string]interface{}, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return t, nil
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, v := range t {
			m[k] = v
		}
		return m, nil
	}
	return nil, cErrors.InvalidInput("extras must be a mapping or absent, got %T", raw)
}
