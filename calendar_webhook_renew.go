package main

import (
	"context"
	"log"
	"time"

	"clinic-cloud/gcal"
	"clinic-cloud/security"
)

// WebhookRenewer scans active integrations on a ticker and renews push
// channels expiring within the threshold. One integration failing never
// stops the scan.
type WebhookRenewer struct {
	integrations *security.IntegrationStore
	tokens       *security.TokenService
	provider     gcal.Provider
	callbackURL  string
	verifyToken  string
	interval     time.Duration
	threshold    time.Duration
	enabled      bool
}

// NewWebhookRenewer creates the renewal loop.
func NewWebhookRenewer(integrations *security.IntegrationStore, tokens *security.TokenService, provider gcal.Provider, callbackURL, verifyToken string, interval, threshold time.Duration, enabled bool) *WebhookRenewer {
	return &WebhookRenewer{
		integrations: integrations,
		tokens:       tokens,
		provider:     provider,
		callbackURL:  callbackURL,
		verifyToken:  verifyToken,
		interval:     interval,
		threshold:    threshold,
		enabled:      enabled,
	}
}

// Start launches the renewal loop until the context is cancelled.
func (r *WebhookRenewer) Start(ctx context.Context) {
	if !r.enabled {
		log.Println("Calendar webhook renewal disabled")
		return
	}
	if r.integrations == nil || r.tokens == nil || r.provider == nil {
		log.Println("Calendar webhook renewal disabled: missing collaborators")
		return
	}
	if r.interval <= 0 {
		r.interval = time.Hour
	}
	if r.threshold <= 0 {
		r.threshold = 24 * time.Hour
	}
	go r.loop(ctx)
}

func (r *WebhookRenewer) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.scanAndRenew(ctx); err != nil {
			log.Printf("Renewal: scan error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *WebhookRenewer) scanAndRenew(ctx context.Context) error {
	active, err := r.integrations.ListActive(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, integration := range active {
		if integration.WatchChannelID == "" {
			continue
		}
		if integration.WatchExpiresAt.Sub(now) > r.threshold {
			continue
		}
		if err := r.renewOne(ctx, integration); err != nil {
			log.Printf("Renewal: integration %s: %v", integration.ID, err)
		}
	}
	return nil
}

func (r *WebhookRenewer) renewOne(ctx context.Context, integration *security.CalendarIntegration) error {
	log.Printf("Renewal: renewing watch for integration %s (channel %s expires %s)",
		integration.ID, integration.WatchChannelID, integration.WatchExpiresAt.Format(time.RFC3339))

	creds, err := r.tokens.FreshCredentials(ctx, integration.ID)
	if err != nil {
		return err
	}

	channel, err := r.provider.RenewWebhook(ctx, creds, integration.CalendarID, r.callbackURL, r.verifyToken,
		integration.WatchChannelID, integration.WatchResourceID)
	if err != nil {
		return err
	}

	// FreshCredentials may have persisted refreshed tokens, and a concurrent
	// sync may have advanced the cursor; write back only the watch fields.
	_, err = r.integrations.Update(ctx, integration.ID, func(stored *security.CalendarIntegration) {
		stored.WatchChannelID = channel.ID
		stored.WatchResourceID = channel.ResourceID
		stored.WatchExpiresAt = channel.ExpiresAt
	})
	return err
}
