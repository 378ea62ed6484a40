package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"clinic-cloud/gcal"
	"clinic-cloud/security"
)

// GoogleAuthHandler runs the OAuth dance for calendar integrations: connect
// issues the consent URL, the callback exchanges the code and activates the
// integration (deactivating any prior one), disconnect deactivates and stops
// the watch channel best effort.
type GoogleAuthHandler struct {
	provider     *gcal.GoogleProvider
	integrations *security.IntegrationStore
	states       *security.OAuthStateStore
	tokens       *security.TokenService
}

// NewGoogleAuthHandler creates the OAuth handler.
func NewGoogleAuthHandler(provider *gcal.GoogleProvider, integrations *security.IntegrationStore, states *security.OAuthStateStore, tokens *security.TokenService) *GoogleAuthHandler {
	return &GoogleAuthHandler{provider: provider, integrations: integrations, states: states, tokens: tokens}
}

// RegisterRoutes registers the OAuth routes.
func (h *GoogleAuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/calendar/auth/connect", h.handleConnect).Methods("POST")
	r.HandleFunc("/api/calendar/auth/callback", h.handleCallback).Methods("GET")
	r.HandleFunc("/api/calendar/auth/disconnect", h.handleDisconnect).Methods("POST")
}

type connectRequest struct {
	UserID         string `json:"userId"`
	ClinicID       string `json:"clinicId"`
	SyncPreference string `json:"syncPreference,omitempty"`
}

func (h *GoogleAuthHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ClinicID) == "" {
		writeJSONError(w, http.StatusBadRequest, "userId and clinicId are required")
		return
	}

	state, err := h.states.Issue(r.Context(), req.UserID, req.ClinicID, security.ParseSyncPreference(req.SyncPreference))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not issue auth state")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"authUrl": h.provider.AuthCodeURL(state),
		"state":   state,
	})
}

func (h *GoogleAuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeJSONError(w, http.StatusBadRequest, "authorization denied: "+errParam)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSONError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	userID, clinicID, preference, err := h.states.Consume(ctx, state)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	tokens, err := h.provider.ExchangeAuthCode(ctx, code)
	if err != nil {
		log.Printf("Auth: code exchange for user %s: %v", userID, err)
		writeJSONError(w, http.StatusBadGateway, "could not exchange authorization code")
		return
	}

	creds := gcal.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       tokens.ExpiresAt,
	}
	email, err := h.provider.AccountEmail(ctx, creds)
	if err != nil {
		log.Printf("Auth: resolve account email for user %s: %v", userID, err)
	}

	integration := &security.CalendarIntegration{
		ID:             uuid.NewString(),
		UserID:         userID,
		ClinicID:       clinicID,
		Provider:       security.ProviderGoogle,
		Email:          email,
		CalendarID:     "primary",
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: tokens.ExpiresAt,
		SyncEnabled:    true,
		SyncPreference: preference,
		CreatedAt:      time.Now(),
	}
	if err := h.integrations.Activate(ctx, integration); err != nil {
		log.Printf("Auth: activate integration for user %s: %v", userID, err)
		writeJSONError(w, http.StatusInternalServerError, "could not save integration")
		return
	}

	log.Printf("Auth: calendar connected for user %s (%s)", userID, email)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"integrationId": integration.ID,
		"email":         email,
	})
}

type disconnectRequest struct {
	UserID string `json:"userId"`
}

func (h *GoogleAuthHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx := r.Context()

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	active, err := h.integrations.ActiveForUser(ctx, req.UserID, security.ProviderGoogle)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not load integrations")
		return
	}

	for _, integration := range active {
		if integration.WatchChannelID != "" {
			creds, err := h.tokens.FreshCredentials(ctx, integration.ID)
			if err == nil {
				if err := h.provider.UnsubscribeWebhook(ctx, creds, integration.WatchChannelID, integration.WatchResourceID); err != nil {
					log.Printf("Auth: stop watch channel %s: %v", integration.WatchChannelID, err)
				}
			}
			integration.WatchChannelID = ""
			integration.WatchResourceID = ""
			integration.WatchExpiresAt = time.Time{}
		}
		integration.IsActive = false
		integration.SyncEnabled = false
		if err := h.integrations.Save(ctx, integration); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "could not save integration")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "disconnected": len(active)})
}
