package security

import (
	"strings"
	"time"
)

// Provider identifies the remote calendar backend of an integration.
type Provider string

const ProviderGoogle Provider = "google"

// SyncPreference is the closed set of sync directions for an integration.
type SyncPreference string

const (
	// SyncOneWay pulls remote events into the clinic; local changes are
	// never pushed out.
	SyncOneWay SyncPreference = "one_way"
	// SyncBidirectional pulls remote events and pushes local changes.
	SyncBidirectional SyncPreference = "bidirectional"
	// SyncNone disables synchronization entirely.
	SyncNone SyncPreference = "none"
)

// ParseSyncPreference normalizes a raw preference, defaulting to one-way.
func ParseSyncPreference(raw string) SyncPreference {
	switch SyncPreference(strings.ToLower(strings.TrimSpace(raw))) {
	case SyncBidirectional:
		return SyncBidirectional
	case SyncNone:
		return SyncNone
	default:
		return SyncOneWay
	}
}

// PushEnabled reports whether local changes flow out to the remote calendar.
func (p SyncPreference) PushEnabled() bool {
	return p == SyncBidirectional
}

// PullEnabled reports whether remote events flow into the clinic.
func (p SyncPreference) PullEnabled() bool {
	return p != SyncNone
}

// CalendarIntegration links a clinic user to one remote calendar account.
// At most one row per user+provider is active; reconnecting deactivates the
// prior row instead of deleting it.
type CalendarIntegration struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	ClinicID string   `json:"clinic_id"`
	Provider Provider `json:"provider"`
	Email    string   `json:"email"`
	CalendarID string `json:"calendar_id"`

	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	IsActive       bool           `json:"is_active"`
	SyncEnabled    bool           `json:"sync_enabled"`
	SyncPreference SyncPreference `json:"sync_preference"`

	SyncToken      string    `json:"sync_token,omitempty"`
	LastSyncAt     time.Time `json:"last_sync_at,omitempty"`
	LastTrigger    string    `json:"last_trigger,omitempty"`
	SyncInProgress bool      `json:"sync_in_progress"`
	SyncErrors     string    `json:"sync_errors,omitempty"`

	WatchChannelID  string    `json:"watch_channel_id,omitempty"`
	WatchResourceID string    `json:"watch_resource_id,omitempty"`
	WatchExpiresAt  time.Time `json:"watch_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookActive reports whether the push subscription is currently live.
func (i *CalendarIntegration) WebhookActive(now time.Time) bool {
	return i.WatchChannelID != "" && i.WatchExpiresAt.After(now)
}
