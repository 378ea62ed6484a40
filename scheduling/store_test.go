package scheduling

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreAppointmentLifecycle(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	apt := &Appointment{
		ID:                    "apt-1",
		ClinicID:              "clinic-1",
		UserID:                "pro-1",
		ScheduledAt:           "2025-07-15 10:00:00",
		DurationMinutes:       30,
		Status:                StatusScheduled,
		GoogleCalendarEventID: "gcal-1",
	}
	require.NoError(t, store.UpsertAppointment(ctx, apt))

	got, err := store.GetAppointment(ctx, "clinic-1", "apt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, apt.ScheduledAt, got.ScheduledAt)

	byEvent, err := store.FindAppointmentsByRemoteEvent(ctx, "clinic-1", "gcal-1")
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	require.Equal(t, "apt-1", byEvent[0].ID)

	require.NoError(t, store.RemoveAppointment(ctx, "clinic-1", "apt-1"))
	got, err = store.GetAppointment(ctx, "clinic-1", "apt-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStoreListAppointmentsSorted(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for _, apt := range []*Appointment{
		{ID: "b", ClinicID: "clinic-1", UserID: "pro-1", ScheduledAt: "2025-07-15 14:00:00", Status: StatusScheduled},
		{ID: "a", ClinicID: "clinic-1", UserID: "pro-1", ScheduledAt: "2025-07-15 09:00:00", Status: StatusScheduled},
		{ID: "c", ClinicID: "clinic-1", UserID: "pro-1", ScheduledAt: "2025-07-15 09:00:00", Status: StatusScheduled},
	} {
		require.NoError(t, store.UpsertAppointment(ctx, apt))
	}

	all, err := store.ListAppointments(ctx, "clinic-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "c", all[1].ID)
	require.Equal(t, "b", all[2].ID)
}

func TestRedisStoreContactEmailLookup(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContact(ctx, &Contact{
		ID:       "contact-1",
		ClinicID: "clinic-1",
		Name:     "Maria Silva",
		Email:    "Maria@Example.com",
		Status:   "lead",
	}))

	found, err := store.FindContactByEmail(ctx, "clinic-1", "maria@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "contact-1", found.ID)

	missing, err := store.FindContactByEmail(ctx, "clinic-1", "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRedisStoreProfessionals(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfessional(ctx, "clinic-1", &Professional{ID: "pro-2", Name: "Dr. Bruno"}))
	require.NoError(t, store.UpsertProfessional(ctx, "clinic-1", &Professional{ID: "pro-1", Name: "Dra. Ana"}))

	pros, err := store.ListProfessionals(ctx, "clinic-1")
	require.NoError(t, err)
	require.Len(t, pros, 2)
	require.Equal(t, "pro-1", pros[0].ID)
}
