package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"clinic-cloud/scheduling"
)

func postJSON(t *testing.T, f *routeFixture, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestAvailabilityEndpointReportsConflict(t *testing.T) {
	f := newRouteFixture(t)
	ctx := context.Background()

	// 2030-05-10 10:00 clinic-local is 13:00 UTC.
	require.NoError(t, f.store.UpsertAppointment(ctx, &scheduling.Appointment{
		ID:          "apt-1",
		ClinicID:    "clinic-1",
		UserID:      "user-1",
		Title:       "Consulta",
		ScheduledAt: "2030-05-10 10:00:00",
		Status:      scheduling.StatusScheduled,
	}))

	rr := postJSON(t, f, "/api/appointments/availability", map[string]string{
		"clinicId":      "clinic-1",
		"startDateTime": "2030-05-10T13:30:00Z",
		"endDateTime":   "2030-05-10T14:30:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp availabilityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp.Available)
	require.NotNil(t, resp.Conflict)
	require.Equal(t, "apt-1", resp.Conflict.ID)
	require.Equal(t, "2030-05-10 10:00:00", resp.Conflict.StartTime)

	// Back to back with the existing appointment is free.
	rr = postJSON(t, f, "/api/appointments/availability", map[string]string{
		"clinicId":      "clinic-1",
		"startDateTime": "2030-05-10T14:00:00Z",
		"endDateTime":   "2030-05-10T15:00:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Available)
}

func TestAvailabilityEndpointValidatesInput(t *testing.T) {
	f := newRouteFixture(t)

	rr := postJSON(t, f, "/api/appointments/availability", map[string]string{
		"clinicId":      "clinic-1",
		"startDateTime": "not-a-timestamp",
		"endDateTime":   "2030-05-10T14:30:00Z",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postJSON(t, f, "/api/appointments/availability", map[string]string{
		"startDateTime": "2030-05-10T13:30:00Z",
		"endDateTime":   "2030-05-10T14:30:00Z",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAvailableSlotsEndpoint(t *testing.T) {
	f := newRouteFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertAppointment(ctx, &scheduling.Appointment{
		ID:          "apt-1",
		ClinicID:    "clinic-1",
		UserID:      "user-1",
		ScheduledAt: "2030-05-10 10:00:00",
		Status:      scheduling.StatusScheduled,
	}))

	rr := postJSON(t, f, "/api/appointments/available-slots", map[string]any{
		"clinicId": "clinic-1",
		"date":     "2030-05-10",
		"duration": 60,
		"workingHours": map[string]string{
			"start": "08:00",
			"end":   "18:00",
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp scheduling.SlotSearchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AvailableSlots)
	require.Len(t, resp.BusyBlocks, 1)
	require.Equal(t, "10:00", resp.BusyBlocks[0].StartTime)

	// No offered slot overlaps the busy hour.
	for _, slot := range resp.AvailableSlots {
		require.False(t, slot.StartTime < "11:00" && slot.EndTime > "10:00",
			"slot %s-%s overlaps the busy block", slot.StartTime, slot.EndTime)
	}
}

func TestBookingRunsAvailabilityCheck(t *testing.T) {
	f := newRouteFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertAppointment(ctx, &scheduling.Appointment{
		ID:          "apt-1",
		ClinicID:    "clinic-1",
		UserID:      "user-1",
		ScheduledAt: "2030-05-10 10:00:00",
		Status:      scheduling.StatusScheduled,
	}))

	// Overlapping booking is refused.
	rr := postJSON(t, f, "/api/appointments", map[string]any{
		"clinicId":    "clinic-1",
		"userId":      "user-1",
		"scheduledAt": "2030-05-10 10:30:00",
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	// A free window books.
	rr = postJSON(t, f, "/api/appointments", map[string]any{
		"clinicId":    "clinic-1",
		"userId":      "user-1",
		"title":       "Avaliação",
		"scheduledAt": "2030-05-10 14:00:00",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created scheduling.Appointment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "2030-05-10 14:00:00", created.ScheduledAt)
	require.Equal(t, scheduling.StatusScheduled, created.Status)
}

func TestCancelCascadesRemoteDelete(t *testing.T) {
	f := newRouteFixture(t)
	ctx := context.Background()
	f.addIntegration(t)

	require.NoError(t, f.store.UpsertAppointment(ctx, &scheduling.Appointment{
		ID:                    "apt-1",
		ClinicID:              "clinic-1",
		UserID:                "user-1",
		ScheduledAt:           "2030-05-10 10:00:00",
		Status:                scheduling.StatusScheduled,
		GoogleCalendarEventID: "evt-1",
	}))

	rr := postJSON(t, f, "/api/appointments/apt-1/cancel", map[string]string{
		"clinicId": "clinic-1",
		"status":   "cancelled_by_patient",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := f.store.GetAppointment(ctx, "clinic-1", "apt-1")
	require.NoError(t, err)
	require.Equal(t, scheduling.StatusCancelledByPatient, stored.Status)
}
