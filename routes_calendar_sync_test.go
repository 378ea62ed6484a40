package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinic-cloud/calsync"
	"clinic-cloud/security"
)

func TestManualSyncAlwaysAnswers200(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	rr := postJSON(t, f, "/api/calendar/sync/manual", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)

	var result syncResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.True(t, result.Success)

	// A failing backend still answers 200, with success false.
	f.provider.listErr = errors.New("calendar backend unavailable")
	rr = postJSON(t, f, "/api/calendar/sync/manual", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.False(t, result.Success)
	require.Contains(t, result.Message, "calendar backend unavailable")
}

func TestManualSyncReportsDroppedTrigger(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	release, ok := f.locks.TryAcquire("user-1")
	require.True(t, ok)
	defer release()

	rr := postJSON(t, f, "/api/calendar/sync/manual", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)

	var result syncResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.False(t, result.Success)
	require.Contains(t, result.Message, "não executada")
}

func TestSyncStatusEndpoint(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	// Run a sync so the snapshot carries real bookkeeping.
	ran, err := f.manager.TriggerSync(context.Background(), "user-1", "manual", true)
	require.NoError(t, err)
	require.True(t, ran)

	req := httptest.NewRequest("GET", "/api/calendar/sync/status?user_id=user-1", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Integrations []calsync.IntegrationStatus `json:"integrations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Integrations, 1)
	require.Equal(t, "int-1", resp.Integrations[0].ID)
	require.Equal(t, "manual", resp.Integrations[0].LastTrigger)
	require.NotNil(t, resp.Integrations[0].LastSyncAt)
	require.True(t, resp.Integrations[0].WebhookActive)
	require.Empty(t, resp.Integrations[0].SyncErrors)
}

func TestSubscribeWebhookEndpoint(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	rr := postJSON(t, f, "/api/calendar/integrations/int-1/webhook", map[string]string{})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "chan-new", resp["channelId"])

	stored, err := f.integrations.Get(context.Background(), "int-1")
	require.NoError(t, err)
	require.Equal(t, "chan-new", stored.WatchChannelID)
	require.Equal(t, "res-new", stored.WatchResourceID)

	// Unknown integrations are a 404.
	rr = postJSON(t, f, "/api/calendar/integrations/int-missing/webhook", map[string]string{})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubscribeWebhookKeepsRefreshedTokens(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)
	ctx := context.Background()

	// Near-expiry token forces a refresh inside the handler; the watch-field
	// save must not write the pre-refresh token back.
	_, err := f.integrations.Update(ctx, "int-1", func(i *security.CalendarIntegration) {
		i.TokenExpiresAt = time.Now().Add(time.Minute)
	})
	require.NoError(t, err)

	rr := postJSON(t, f, "/api/calendar/integrations/int-1/webhook", map[string]string{})
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := f.integrations.Get(ctx, "int-1")
	require.NoError(t, err)
	require.Equal(t, "access-refreshed", stored.AccessToken)
	require.Equal(t, "chan-new", stored.WatchChannelID)
	require.Equal(t, "res-new", stored.WatchResourceID)
}
