package extras

import (
	"encoding/json"
	"testing"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_ReservedKeyExclusion(t *testing.T) {
	reserved := NewKeySet("name", "title", "id")
	tests := map[string]struct {
		extras  map[string]interface{}
		wantErr bool
		keys    []string
	}{
		"disjoint":     {map[string]interface{}{"project": "x", "owner": "z"}, false, nil},
		"one overlap":  {map[string]interface{}{"project": "x", "name": "n"}, true, []string{"name"}},
		"all overlap":  {map[string]interface{}{"title": "t", "id": "i", "name": "n"}, true, []string{"id", "name", "title"}},
		"empty extras": {map[string]interface{}{}, false, nil},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(tc.extras, reserved)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, cErrors.KindReservedKey, cErrors.KindOf(err))
			rerr, ok := err.(*cErrors.ReservedKeyError)
			require.True(t, ok)
			assert.Equal(t, tc.keys, rerr.Keys)
		})
	}
}

func TestEncode_RejectsNonMapping(t *testing.T) {
	for _, raw := range []interface{}{"a string", []interface{}{"x"}, 42} {
		_, err := Encode(raw, GeneralDataset)
		require.Error(t, err)
		assert.Equal(t, cErrors.KindInvalidInput, cErrors.KindOf(err))
	}

	pairs, err := Encode(nil, GeneralDataset)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestEncode_Values(t *testing.T) {
	pairs, err := Encode(map[string]interface{}{
		"project": "x",
		"count":   float64(3),
		"enabled": true,
		"mapping": map[string]interface{}{"b": "2", "a": "1"},
		"list":    []interface{}{"x", "y"},
	}, GeneralDataset)
	require.NoError(t, err)

	assert.Equal(t, []Pair{
		{Key: "count", Value: "3"},
		{Key: "enabled", Value: "true"},
		{Key: "list", Value: `["x","y"]`},
		{Key: "mapping", Value: `{"a":"1","b":"2"}`},
		{Key: "project", Value: "x"},
	}, pairs)
}

func TestEncode_StringMap(t *testing.T) {
	pairs, err := Encode(map[string]string{"b": "2", "a": "1"}, GeneralDataset)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"a", "1"}, {"b", "2"}}, pairs)
}

func TestMerge_NewWins(t *testing.T) {
	base := []Pair{{"project", "x"}, {"keep", "k"}}
	got := Merge(base, map[string]string{"project": "y", "owner": "z"})
	assert.Equal(t, map[string]string{"project": "y", "owner": "z", "keep": "k"}, Decode(got))
}

func TestMerge_Idempotent(t *testing.T) {
	base := []Pair{{"project", "x"}, {"keep", "k"}}
	x := map[string]string{"project": "y", "owner": "z"}

	once := Merge(base, x)
	twice := Merge(once, x)
	assert.Equal(t, once, twice)
}

func TestDecodeExtras_BestEffort(t *testing.T) {
	e := DecodeExtras([]Pair{
		{"project", "x"},
		{"mapping", `{"temp":"t2m"}`},
		{"processing", "not json at all"},
	})

	require.True(t, e.Mapping.Decoded())
	assert.Equal(t, map[string]interface{}{"temp": "t2m"}, e.Mapping.Value)
	assert.False(t, e.Processing.Decoded())
	assert.Nil(t, e.ProcessingMap())

	assert.Equal(t, map[string]interface{}{
		"project":    "x",
		"mapping":    map[string]interface{}{"temp": "t2m"},
		"processing": "not json at all",
	}, e.Map())

	blob, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"project":"x","mapping":{"temp":"t2m"},"processing":"not json at all"}`, string(blob))
}

func TestDecodeExtras_NoStructuredFields(t *testing.T) {
	e := DecodeExtras([]Pair{{"a", "1"}})
	assert.Nil(t, e.Mapping)
	assert.Nil(t, e.Processing)
	assert.Equal(t, map[string]interface{}{"a": "1"}, e.Map())
}

func TestReservedSets(t *testing.T) {
	for _, k := range []string{"name", "title", "owner_org", "notes", "id", "resources", "tags", "private", "license_id", "version", "state"} {
		assert.True(t, GeneralDataset.Has(k), k)
		assert.True(t, KafkaTopic.Has(k), k)
		assert.True(t, ServiceRegistry.Has(k), k)
	}
	assert.True(t, KafkaTopic.Has("topic"))
	assert.True(t, URLPointer.Has("file_type"))
	assert.True(t, ServiceRegistry.Has("service_url"))
	assert.False(t, GeneralDataset.Has("mapping"))
	assert.False(t, S3Object.Has("host"))

	assert.False(t, GeneralDataset.Has("collection"))
	for _, set := range []KeySet{KafkaTopic, S3Object, URLPointer, ServiceRegistry} {
		assert.True(t, set.Has("collection"))
	}
}
