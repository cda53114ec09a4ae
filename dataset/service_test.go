package dataset

import (
	"context"
	"testing"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"
	"github.com/sci-ndp/ndp-catalog-adapter/internal/testutil"

	"github.com/cenkalti/backoff/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *testutil.FakeCatalog, *testutil.FakeResolver) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	fake := testutil.NewFakeCatalog()
	resolver := &testutil.FakeResolver{Catalog: fake}
	s := New(logger, resolver, opts...)
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s, fake, resolver
}

func strPtr(s string) *string { return &s }

func TestService_CreateThenUpdateMergesExtras(t *testing.T) {
	s, fake, resolver := newTestService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, catalog.Local, CreateRequest{
		Name:     "ds1",
		Title:    "Dataset 1",
		OwnerOrg: "org",
		Extras:   map[string]interface{}{"project": "x"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.Update(ctx, catalog.Local, id, UpdateRequest{
		Extras: map[string]interface{}{"project": "y", "owner": "z"},
	})
	require.NoError(t, err)

	datasets := fake.Datasets()
	require.Len(t, datasets, 1)
	assert.Equal(t, map[string]string{"project": "y", "owner": "z"}, extras.Decode(datasets[0].Extras))
	assert.Equal(t, []bool{true, true}, resolver.Keyed)
}

func TestService_PatchUpdatesMatchingResourceInPlace(t *testing.T) {
	s, fake, _ := newTestService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, catalog.Local, CreateRequest{
		Name:     "ds1",
		Title:    "Dataset 1",
		OwnerOrg: "org",
		Resources: []catalog.Resource{
			{URL: "http://example.org/a.csv", Name: "a"},
			{URL: "http://example.org/b.csv", Name: "b"},
		},
	})
	require.NoError(t, err)
	before := fake.Datasets()[0].Resources

	_, err = s.Patch(ctx, catalog.Local, id, UpdateRequest{
		Resources: []catalog.Resource{{URL: "http://example.org/a.csv", Name: "a-renamed", Format: "CSV"}},
	})
	require.NoError(t, err)

	after := fake.Datasets()[0].Resources
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, "a-renamed", after[0].Name)
	assert.Equal(t, "CSV", after[0].Format)
	assert.Equal(t, before[1], after[1])

	_, err = s.Patch(ctx, catalog.Local, id, UpdateRequest{
		Resources: []catalog.Resource{{URL: "http://example.org/c.csv", Name: "c"}},
	})
	require.NoError(t, err)
	assert.Len(t, fake.Datasets()[0].Resources, 3)
}

func TestService_UpdateReplacesResources(t *testing.T) {
	s, fake, _ := newTestService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, catalog.Local, CreateRequest{
		Name: "ds1", Title: "Dataset 1", OwnerOrg: "org",
		Resources: []catalog.Resource{{URL: "u1", Name: "n1"}, {URL: "u2", Name: "n2"}},
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, catalog.Local, id, UpdateRequest{
		Resources: []catalog.Resource{{URL: "u3", Name: "n3"}},
	})
	require.NoError(t, err)

	resources := fake.Datasets()[0].Resources
	require.Len(t, resources, 1)
	assert.Equal(t, "u3", resources[0].URL)
}

func TestService_PatchLeavesOmittedFields(t *testing.T) {
	s, fake, _ := newTestService(t)
	ctx := context.Background()

	id, err := s.Create(ctx, catalog.Local, CreateRequest{
		Name: "ds1", Title: "Dataset 1", OwnerOrg: "org",
		Notes:     "notes",
		Tags:      []string{"a", "b"},
		LicenseID: "cc-by",
		Extras:    map[string]interface{}{"project": "x"},
		Resources: []catalog.Resource{{URL: "u1", Name: "n1"}},
	})
	require.NoError(t, err)

	_, err = s.Patch(ctx, catalog.Local, id, UpdateRequest{Title: strPtr("Renamed"), Name: strPtr("")})
	require.NoError(t, err)

	d := fake.Datasets()[0]
	assert.Equal(t, "ds1", d.Name)
	assert.Equal(t, "Renamed", d.Title)
	assert.Equal(t, "notes", d.Notes)
	assert.Equal(t, "cc-by", d.LicenseID)
	assert.Equal(t, []string{"a", "b"}, d.TagNames())
	assert.Equal(t, map[string]string{"project": "x"}, extras.Decode(d.Extras))
	assert.Len(t, d.Resources, 1)
}

func TestService_CreateValidation(t *testing.T) {
	tests := map[string]struct {
		req  CreateRequest
		kind cErrors.Kind
	}{
		"missing name": {
			req:  CreateRequest{Title: "t", OwnerOrg: "o"},
			kind: cErrors.KindInvalidInput,
		},
		"reserved key": {
			req:  CreateRequest{Name: "ds", Title: "t", OwnerOrg: "o", Extras: map[string]interface{}{"url": "x", "title": "y"}},
			kind: cErrors.KindReservedKey,
		},
		"extras not a mapping": {
			req:  CreateRequest{Name: "ds", Title: "t", OwnerOrg: "o", Extras: []interface{}{"x"}},
			kind: cErrors.KindInvalidInput,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, fake, resolver := newTestService(t)
			_, err := s.Create(context.Background(), catalog.Local, tc.req)
			assert.Equal(t, tc.kind, cErrors.KindOf(err))
			assert.Zero(t, fake.TotalCalls())
			assert.Empty(t, resolver.Keyed)
		})
	}
}

func TestService_DisabledBackend(t *testing.T) {
	s, fake, resolver := newTestService(t)
	resolver.Disabled = map[catalog.Selector]bool{catalog.PreCatalog: true}

	_, err := s.Create(context.Background(), catalog.PreCatalog, CreateRequest{Name: "ds", Title: "t", OwnerOrg: "o"})
	assert.Equal(t, cErrors.KindBackendDisabled, cErrors.KindOf(err))
	assert.Zero(t, fake.TotalCalls())
}

func TestService_CreateDuplicate(t *testing.T) {
	s, _, _ := newTestService(t)
	req := CreateRequest{Name: "ds", Title: "t", OwnerOrg: "o"}

	_, err := s.Create(context.Background(), catalog.Local, req)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), catalog.Local, req)
	assert.Equal(t, cErrors.KindConflict, cErrors.KindOf(err))
}

func TestService_PartialCreation(t *testing.T) {
	req := CreateRequest{
		Name: "ds", Title: "t", OwnerOrg: "o",
		Resources: []catalog.Resource{{URL: "u1", Name: "n1"}, {URL: "", Name: "n2"}},
	}

	t.Run("left in place", func(t *testing.T) {
		s, fake, _ := newTestService(t)
		fake.FailResourceCreateAt = 2
		fake.ResourceCreateErr = errors.New("Validation Error: url: Missing value")

		_, err := s.Create(context.Background(), catalog.Local, req)
		require.Error(t, err)
		assert.Equal(t, cErrors.KindPartialCreation, cErrors.KindOf(err))

		perr, ok := err.(*cErrors.PartialCreationError)
		require.True(t, ok)
		assert.False(t, perr.RolledBack)
		assert.Len(t, perr.Resources, 1)
		assert.Len(t, fake.Datasets(), 1)
		assert.Equal(t, fake.Datasets()[0].ID, perr.DatasetID)
		assert.Zero(t, fake.Calls("dataset_purge"))
	})

	t.Run("rolled back", func(t *testing.T) {
		s, fake, _ := newTestService(t, WithRollback(true))
		fake.FailResourceCreateAt = 2
		fake.ResourceCreateErr = errors.New("boom")
		fake.PurgeFailures = 1
		fake.PurgeErr = errors.New("timeout")

		_, err := s.Create(context.Background(), catalog.Local, req)
		perr, ok := err.(*cErrors.PartialCreationError)
		require.True(t, ok)
		assert.True(t, perr.RolledBack)
		assert.NoError(t, perr.CleanupErr)
		assert.Empty(t, fake.Datasets())
		assert.Equal(t, 2, fake.Calls("dataset_purge"))
	})

	t.Run("rollback fails", func(t *testing.T) {
		s, fake, _ := newTestService(t, WithRollback(true))
		fake.FailResourceCreateAt = 1
		fake.ResourceCreateErr = errors.New("boom")
		fake.PurgeFailures = 100
		fake.PurgeErr = errors.New("timeout")

		_, err := s.Create(context.Background(), catalog.Local, req)
		perr, ok := err.(*cErrors.PartialCreationError)
		require.True(t, ok)
		assert.False(t, perr.RolledBack)
		assert.EqualError(t, perr.CleanupErr, "timeout")
		assert.Equal(t, 4, fake.Calls("dataset_purge"))
		assert.Len(t, fake.Datasets(), 1)
	})
}

func TestService_UpdateNotFound(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.Update(context.Background(), catalog.Local, "missing", UpdateRequest{Title: strPtr("x")})
	assert.Equal(t, cErrors.KindNotFound, cErrors.KindOf(err))
	assert.Zero(t, fake.Calls("package_update"))
}

func TestService_UpdateReservedKeyBeforeBackend(t *testing.T) {
	s, fake, _ := newTestService(t)

	_, err := s.Patch(context.Background(), catalog.Local, "ds", UpdateRequest{
		Extras: map[string]interface{}{"state": "deleted"},
	})
	assert.Equal(t, cErrors.KindReservedKey, cErrors.KindOf(err))
	assert.Zero(t, fake.TotalCalls())
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		name, id func(d catalog.Dataset) string
		kind     cErrors.Kind
		purged   bool
	}{
		"by name": {
			name:   func(d catalog.Dataset) string { return d.Name },
			id:     func(catalog.Dataset) string { return "" },
			purged: true,
		},
		"by id": {
			name:   func(catalog.Dataset) string { return "" },
			id:     func(d catalog.Dataset) string { return d.ID },
			purged: true,
		},
		"both matching": {
			name:   func(d catalog.Dataset) string { return d.Name },
			id:     func(d catalog.Dataset) string { return d.ID },
			purged: true,
		},
		"both mismatching": {
			name: func(d catalog.Dataset) string { return d.Name },
			id:   func(catalog.Dataset) string { return "another-id" },
			kind: cErrors.KindConflict,
		},
		"neither": {
			name: func(catalog.Dataset) string { return "" },
			id:   func(catalog.Dataset) string { return "" },
			kind: cErrors.KindInvalidInput,
		},
		"unknown name": {
			name: func(catalog.Dataset) string { return "missing" },
			id:   func(catalog.Dataset) string { return "" },
			kind: cErrors.KindNotFound,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, fake, _ := newTestService(t)
			d := fake.Put(catalog.Dataset{Name: "ds1", Title: "t", OwnerOrg: "o"})

			err := s.Delete(ctx, catalog.Local, tc.name(d), tc.id(d))
			if tc.purged {
				require.NoError(t, err)
				assert.Empty(t, fake.Datasets())
				return
			}
			assert.Equal(t, tc.kind, cErrors.KindOf(err))
			assert.Len(t, fake.Datasets(), 1)
			assert.Zero(t, fake.Calls("dataset_purge"))
		})
	}
}
