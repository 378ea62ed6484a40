package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinic-cloud/calsync"
	"clinic-cloud/gcal"
	"clinic-cloud/security"
)

// CalendarSyncHandler exposes manual sync, the status snapshot, and webhook
// (re)subscription for one integration. Sync endpoints answer 200 with a
// success flag rather than surfacing internal errors as HTTP failures.
type CalendarSyncHandler struct {
	manager      *calsync.Manager
	integrations *security.IntegrationStore
	tokens       *security.TokenService
	provider     gcal.Provider
	callbackURL  string
	verifyToken  string
}

// NewCalendarSyncHandler creates the sync management handler.
func NewCalendarSyncHandler(manager *calsync.Manager, integrations *security.IntegrationStore, tokens *security.TokenService, provider gcal.Provider, callbackURL, verifyToken string) *CalendarSyncHandler {
	return &CalendarSyncHandler{
		manager:      manager,
		integrations: integrations,
		tokens:       tokens,
		provider:     provider,
		callbackURL:  callbackURL,
		verifyToken:  verifyToken,
	}
}

// RegisterRoutes registers the sync management routes.
func (h *CalendarSyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/calendar/sync/manual", h.handleManualSync).Methods("POST")
	r.HandleFunc("/api/calendar/sync/status", h.handleStatus).Methods("GET")
	r.HandleFunc("/api/calendar/integrations/{id}/webhook", h.handleSubscribeWebhook).Methods("POST")
}

type manualSyncRequest struct {
	UserID string `json:"userId"`
}

type syncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *CalendarSyncHandler) handleManualSync(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req manualSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	result := syncResult{Success: true, Message: "Sincronização concluída"}
	ran, err := h.manager.TriggerSync(r.Context(), req.UserID, "manual", true)
	if err != nil {
		result.Success = false
		result.Message = err.Error()
	} else if !ran {
		result.Success = false
		result.Message = "Sincronização não executada: outra em andamento"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *CalendarSyncHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	statuses, err := h.manager.StatusSnapshot(r.Context(), userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not load sync status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"integrations": statuses})
}

func (h *CalendarSyncHandler) handleSubscribeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	integration, err := h.integrations.Get(ctx, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not load integration")
		return
	}
	if integration == nil || !integration.IsActive {
		writeJSONError(w, http.StatusNotFound, "integration not found")
		return
	}

	creds, err := h.tokens.FreshCredentials(ctx, integration.ID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(syncResult{Success: false, Message: err.Error()})
		return
	}

	var channel *gcal.Channel
	if integration.WatchChannelID != "" {
		channel, err = h.provider.RenewWebhook(ctx, creds, integration.CalendarID, h.callbackURL, h.verifyToken, integration.WatchChannelID, integration.WatchResourceID)
	} else {
		channel, err = h.provider.SubscribeWebhook(ctx, creds, integration.CalendarID, h.callbackURL, h.verifyToken)
	}
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(syncResult{Success: false, Message: err.Error()})
		return
	}

	// Write back only the watch fields; FreshCredentials may have
	// persisted refreshed tokens since the record was loaded.
	if _, err := h.integrations.Update(ctx, integration.ID, func(stored *security.CalendarIntegration) {
		stored.WatchChannelID = channel.ID
		stored.WatchResourceID = channel.ResourceID
		stored.WatchExpiresAt = channel.ExpiresAt
	}); err != nil {
		log.Printf("Sync: persist watch channel for integration %s: %v", integration.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"channelId":      channel.ID,
		"resourceId":     channel.ResourceID,
		"webhookExpires": channel.ExpiresAt.Format(time.RFC3339),
	})
}
