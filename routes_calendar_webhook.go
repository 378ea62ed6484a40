package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinic-cloud/calsync"
	"clinic-cloud/security"
)

const webhookTriggerTimeout = 2 * time.Minute

// CalendarWebhookHandler receives Google push notifications. Once the id
// headers validate it always acknowledges with 200 — a failing downstream
// sync must never make the provider disable the subscription.
type CalendarWebhookHandler struct {
	integrations *security.IntegrationStore
	manager      *calsync.Manager
	verifyToken  string
}

// NewCalendarWebhookHandler creates the webhook handler. verifyToken is
// optional; when set, notifications carrying a different channel token are
// ignored (still acknowledged).
func NewCalendarWebhookHandler(integrations *security.IntegrationStore, manager *calsync.Manager, verifyToken string) *CalendarWebhookHandler {
	return &CalendarWebhookHandler{integrations: integrations, manager: manager, verifyToken: verifyToken}
}

// RegisterRoutes registers the webhook route.
func (h *CalendarWebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/calendar/webhook", h.handleNotification).Methods("POST")
}

func (h *CalendarWebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.Header.Get("X-Goog-Channel-ID"))
	resourceID := strings.TrimSpace(r.Header.Get("X-Goog-Resource-ID"))
	resourceState := strings.TrimSpace(r.Header.Get("X-Goog-Resource-State"))

	if channelID == "" || resourceID == "" {
		http.Error(w, "missing notification headers", http.StatusBadRequest)
		return
	}

	if h.verifyToken != "" && r.Header.Get("X-Goog-Channel-Token") != h.verifyToken {
		log.Printf("Webhook: channel %s carried a bad token, ignoring", channelID)
		h.acknowledge(w)
		return
	}

	switch resourceState {
	case "sync":
		// Subscription confirmation, nothing to pull yet.
		log.Printf("Webhook: channel %s confirmed", channelID)
	case "exists":
		integration, err := h.integrations.FindByChannel(r.Context(), channelID, resourceID)
		if err != nil {
			log.Printf("Webhook: resolve channel %s: %v", channelID, err)
			break
		}
		if integration == nil {
			log.Printf("Webhook: channel %s matches no active integration", channelID)
			break
		}
		// Fire and forget: the response goes out now; run outcomes stay
		// observable through the status endpoint and the activity stream.
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), webhookTriggerTimeout)
			defer cancel()
			if _, err := h.manager.TriggerSync(ctx, userID, "webhook", true); err != nil {
				log.Printf("Webhook: sync for user %s: %v", userID, err)
			}
		}(integration.UserID)
	default:
		log.Printf("Webhook: channel %s sent state %q, ignoring", channelID, resourceState)
	}

	h.acknowledge(w)
}

func (h *CalendarWebhookHandler) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
