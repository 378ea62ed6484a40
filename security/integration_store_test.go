package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *IntegrationStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIntegrationStore(client)
}

func testIntegration(id, userID string) *CalendarIntegration {
	return &CalendarIntegration{
		ID:             id,
		UserID:         userID,
		ClinicID:       "clinic-1",
		Provider:       ProviderGoogle,
		Email:          "pro@example.com",
		CalendarID:     "primary",
		AccessToken:    "access-" + id,
		RefreshToken:   "refresh-" + id,
		TokenExpiresAt: time.Now().Add(time.Hour),
		SyncEnabled:    true,
		SyncPreference: SyncBidirectional,
	}
}

func TestUpdateMergesOntoStoredRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	integration := testIntegration("int-1", "user-1")
	require.NoError(t, store.Activate(ctx, integration))

	// Another actor refreshes the tokens after our copy was loaded.
	refreshed, err := store.Get(ctx, "int-1")
	require.NoError(t, err)
	refreshed.AccessToken = "access-new"
	refreshed.RefreshToken = "refresh-new"
	require.NoError(t, store.Save(ctx, refreshed))

	updated, err := store.Update(ctx, "int-1", func(i *CalendarIntegration) {
		i.SyncToken = "cursor-1"
	})
	require.NoError(t, err)
	require.Equal(t, "cursor-1", updated.SyncToken)
	require.Equal(t, "access-new", updated.AccessToken)
	require.Equal(t, "refresh-new", updated.RefreshToken)

	_, err = store.Update(ctx, "int-missing", func(i *CalendarIntegration) {})
	require.Error(t, err)
}

func TestActivateDeactivatesPriorIntegrations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testIntegration("int-1", "user-1")
	require.NoError(t, store.Activate(ctx, first))

	second := testIntegration("int-2", "user-1")
	require.NoError(t, store.Activate(ctx, second))

	active, err := store.ActiveForUser(ctx, "user-1", ProviderGoogle)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "int-2", active[0].ID)

	// The prior row is deactivated, not deleted.
	prior, err := store.Get(ctx, "int-1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	require.False(t, prior.IsActive)

	all, err := store.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFindByChannel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	integration := testIntegration("int-1", "user-1")
	integration.WatchChannelID = "chan-1"
	integration.WatchResourceID = "res-1"
	integration.WatchExpiresAt = time.Now().Add(24 * time.Hour)
	require.NoError(t, store.Activate(ctx, integration))

	found, err := store.FindByChannel(ctx, "chan-1", "res-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "int-1", found.ID)

	// Mismatched resource id is rejected.
	found, err = store.FindByChannel(ctx, "chan-1", "res-other")
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = store.FindByChannel(ctx, "chan-unknown", "")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestListActiveTracksDeactivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testIntegration("int-a", "user-1")
	b := testIntegration("int-b", "user-2")
	require.NoError(t, store.Activate(ctx, a))
	require.NoError(t, store.Activate(ctx, b))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	a.IsActive = false
	require.NoError(t, store.Save(ctx, a))

	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "int-b", active[0].ID)
}

func TestParseSyncPreference(t *testing.T) {
	require.Equal(t, SyncBidirectional, ParseSyncPreference("Bidirectional"))
	require.Equal(t, SyncNone, ParseSyncPreference("none"))
	require.Equal(t, SyncOneWay, ParseSyncPreference("one_way"))
	require.Equal(t, SyncOneWay, ParseSyncPreference("whatever"))

	require.True(t, SyncBidirectional.PushEnabled())
	require.False(t, SyncOneWay.PushEnabled())
	require.False(t, SyncNone.PushEnabled())
}
