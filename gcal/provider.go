// Package gcal abstracts the remote calendar provider behind a capability
// interface so the sync manager never touches provider SDK types directly.
package gcal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSyncTokenExpired signals that the stored incremental cursor was
	// invalidated by the provider; callers fall back to a full listing.
	ErrSyncTokenExpired = errors.New("gcal: sync token expired")

	// ErrUnauthorized signals rejected credentials; callers refresh the
	// access token once and retry.
	ErrUnauthorized = errors.New("gcal: unauthorized")
)

// Credentials are passed explicitly on every call. The provider holds no
// per-user token state.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSet is the result of an auth-code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Attendee is a remote event participant.
type Attendee struct {
	Email     string
	Organizer bool
	Self      bool
}

// Event is the provider-neutral event representation.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      string
	Attendees   []Attendee
}

// Cancelled reports whether the remote event was removed or declined.
func (e *Event) Cancelled() bool {
	return e.Status == "cancelled"
}

// Channel identifies a push-notification subscription.
type Channel struct {
	ID         string
	ResourceID string
	ExpiresAt  time.Time
}

// ListQuery selects between incremental (SyncToken) and full time-bounded
// listing. Exactly one mode applies; SyncToken wins when set.
type ListQuery struct {
	SyncToken string
	TimeMin   time.Time
	TimeMax   time.Time
}

// ListPage is a fully drained listing (pagination is handled internally)
// plus the cursor for the next incremental fetch.
type ListPage struct {
	Events        []*Event
	NextSyncToken string
}

// Provider is the capability surface the sync manager depends on. Any
// calendar backend implementing it is usable.
type Provider interface {
	ExchangeAuthCode(ctx context.Context, code string) (*TokenSet, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenSet, error)

	ListEventsIncremental(ctx context.Context, creds Credentials, calendarID string, q ListQuery) (*ListPage, error)
	CreateEvent(ctx context.Context, creds Credentials, calendarID string, event *Event) (*Event, error)
	UpdateEvent(ctx context.Context, creds Credentials, calendarID string, event *Event) (*Event, error)
	DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) error

	SubscribeWebhook(ctx context.Context, creds Credentials, calendarID, callbackURL, verifyToken string) (*Channel, error)
	UnsubscribeWebhook(ctx context.Context, creds Credentials, channelID, resourceID string) error
	RenewWebhook(ctx context.Context, creds Credentials, calendarID, callbackURL, verifyToken, oldChannelID, oldResourceID string) (*Channel, error)
}
