package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

func newProfileHarness() (*fakeStore, *fakeBus, *ProfileRegistry) {
	store := newFakeStore()
	bus := &fakeBus{}
	return store, bus, NewProfileRegistry(store, bus, 0, testLogger())
}

func TestNextVersionName(t *testing.T) {
	require.Equal(t, "Default v2", NextVersionName("Default"))
	require.Equal(t, "Default v3", NextVersionName("Default v2"))
	require.Equal(t, "Default v11", NextVersionName("Default v10"))
}

func TestCreateVersionsDuplicateNameInsteadOfErroring(t *testing.T) {
	store, _, reg := newProfileHarness()
	ctx := context.Background()

	first, err := reg.Create(ctx, ProcessingProfile{Name: "Default"})
	require.NoError(t, err)
	require.Equal(t, "Default", first.Name)

	second, err := reg.Create(ctx, ProcessingProfile{Name: "Default"})
	require.NoError(t, err)
	require.Equal(t, "Default v2", second.Name)

	require.Len(t, store.profiles, 2)
}

func TestActiveSnapshotReturnsStoreUnavailableWhenNoneActive(t *testing.T) {
	_, _, reg := newProfileHarness()
	_, err := reg.ActiveSnapshot(context.Background())
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "store_unavailable"))
}

func TestActiveSnapshotResolvesTheActiveProfile(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Default", IsActive: true}
	store.profiles[p.ID] = p

	got, err := reg.ActiveSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
}

func TestActivateRejectsArchivedProfile(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Archived", IsArchived: true}
	store.profiles[p.ID] = p

	err := reg.Activate(context.Background(), p.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestArchiveRejectsDefaultAndActiveProfiles(t *testing.T) {
	store, _, reg := newProfileHarness()
	def := ProcessingProfile{ID: uuid.New(), Name: "Default", IsDefault: true}
	active := ProcessingProfile{ID: uuid.New(), Name: "Active", IsActive: true}
	store.profiles[def.ID] = def
	store.profiles[active.ID] = active

	err := reg.Archive(context.Background(), def.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))

	err = reg.Archive(context.Background(), active.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestUnarchiveRejectsNonArchivedProfile(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Plain"}
	store.profiles[p.ID] = p

	err := reg.Unarchive(context.Background(), p.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestDeleteRequiresArchivedNonDefaultNonActive(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Plain"}
	store.profiles[p.ID] = p

	_, err := reg.Delete(context.Background(), p.ID, false)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestDeleteRequiresConfirmationWhenDocumentsDependOnProfile(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Plain", IsArchived: true}
	store.profiles[p.ID] = p
	doc := Document{ID: uuid.New(), SnapshotProfileID: p.ID, ContentHash: "h", Source: SourceManual}
	store.docs[doc.ID] = doc
	store.hashKey["h|MANUAL"] = doc.ID

	result, err := reg.Delete(context.Background(), p.ID, false)
	require.NoError(t, err)
	require.True(t, result.RequiresConfirmation)
	require.Equal(t, 1, result.DependentCount)
	require.False(t, result.Deleted)
	require.Contains(t, store.profiles, p.ID)

	result, err = reg.Delete(context.Background(), p.ID, true)
	require.NoError(t, err)
	require.True(t, result.Deleted)
	require.NotContains(t, store.profiles, p.ID)
}

func TestDeleteProceedsImmediatelyWithNoDependents(t *testing.T) {
	store, _, reg := newProfileHarness()
	p := ProcessingProfile{ID: uuid.New(), Name: "Plain", IsArchived: true}
	store.profiles[p.ID] = p

	result, err := reg.Delete(context.Background(), p.ID, false)
	require.NoError(t, err)
	require.True(t, result.Deleted)
	require.False(t, result.RequiresConfirmation)
}
