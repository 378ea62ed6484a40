package calsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clinic-cloud/gcal"
	"clinic-cloud/scheduling"
	"clinic-cloud/security"
	"clinic-cloud/streams"
)

const (
	// Non-forced triggers within this window of the last successful run
	// are dropped. Forced triggers skip the debounce but never the lock.
	syncDebounce = 60 * time.Second
	// When no sync token exists (first run or expired cursor) events are
	// listed from this far back with no upper bound.
	fullListingLookback = 30 * 24 * time.Hour
)

// Manager pulls remote calendar events into the clinic store and pushes
// local appointment changes out, per integration. Runs for the same user are
// serialized through the keyed lock; concurrent triggers are dropped, not
// queued.
type Manager struct {
	store        scheduling.Store
	integrations *security.IntegrationStore
	tokens       *security.TokenService
	provider     gcal.Provider
	locks        KeyedLock
	activity     *streams.ActivityBus
	clinic       *scheduling.Clinic
	now          func() time.Time
}

// NewManager wires the sync manager to its collaborators.
func NewManager(
	store scheduling.Store,
	integrations *security.IntegrationStore,
	tokens *security.TokenService,
	provider gcal.Provider,
	locks KeyedLock,
	activity *streams.ActivityBus,
	clinic *scheduling.Clinic,
) *Manager {
	return &Manager{
		store:        store,
		integrations: integrations,
		tokens:       tokens,
		provider:     provider,
		locks:        locks,
		activity:     activity,
		clinic:       clinic,
		now:          time.Now,
	}
}

// WithNow overrides the manager clock, for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TriggerSync runs a pull for every active integration of the user. When the
// user's lock is already held the trigger is dropped. Failures of one
// integration do not stop the others; the first error is returned. The
// boolean reports whether any integration actually ran, so callers can tell
// a dropped or debounced trigger apart from a completed run.
func (m *Manager) TriggerSync(ctx context.Context, userID, trigger string, forced bool) (bool, error) {
	release, ok := m.locks.TryAcquire(userID)
	if !ok {
		log.Printf("Sync: run already active for user %s, dropping %s trigger", userID, trigger)
		return false, nil
	}
	defer release()

	active, err := m.integrations.ActiveForUser(ctx, userID, security.ProviderGoogle)
	if err != nil {
		return false, fmt.Errorf("list integrations for user %s: %w", userID, err)
	}

	ran := false
	var firstErr error
	for _, integration := range active {
		if !integration.SyncEnabled || !integration.SyncPreference.PullEnabled() {
			continue
		}
		if !forced && m.now().Sub(integration.LastSyncAt) < syncDebounce {
			log.Printf("Sync: integration %s synced %s ago, debouncing %s trigger",
				integration.ID, m.now().Sub(integration.LastSyncAt).Round(time.Second), trigger)
			continue
		}
		didRun, err := m.syncIntegration(ctx, integration, trigger)
		if didRun {
			ran = true
		}
		if err != nil {
			log.Printf("Sync: integration %s failed: %v", integration.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return ran, firstErr
}

// syncIntegration runs one pull. The in-progress flag is a second guard
// against overlapping runs from other instances and is always cleared, even
// when the run fails.
func (m *Manager) syncIntegration(ctx context.Context, integration *security.CalendarIntegration, trigger string) (bool, error) {
	if integration.SyncInProgress {
		log.Printf("Sync: integration %s already in progress, skipping", integration.ID)
		return false, nil
	}
	integration.SyncInProgress = true
	if err := m.integrations.Save(ctx, integration); err != nil {
		integration.SyncInProgress = false
		return false, fmt.Errorf("mark sync in progress: %w", err)
	}

	started := m.now()
	applied, runErr := m.runPull(ctx, integration)

	integration.SyncInProgress = false
	integration.LastTrigger = trigger
	if runErr != nil {
		// The cursor is left untouched so the next run resumes from the
		// same point.
		integration.SyncErrors = runErr.Error()
	} else {
		integration.LastSyncAt = m.now()
		integration.SyncErrors = ""
	}
	// The run may have refreshed tokens through the store; write back only
	// the fields this run owns so the fresh tokens survive.
	_, saveErr := m.integrations.Update(ctx, integration.ID, func(stored *security.CalendarIntegration) {
		stored.SyncToken = integration.SyncToken
		stored.SyncInProgress = false
		stored.LastTrigger = integration.LastTrigger
		stored.LastSyncAt = integration.LastSyncAt
		stored.SyncErrors = integration.SyncErrors
	})
	if saveErr != nil {
		log.Printf("Sync: persist integration %s after run: %v", integration.ID, saveErr)
		if runErr == nil {
			runErr = saveErr
		}
	}

	m.publishRun(ctx, integration, trigger, applied, m.now().Sub(started), runErr)
	return true, runErr
}

// runPull lists remote changes and applies them. The sync token cursor and
// error fields on the integration are updated in place; the caller persists.
func (m *Manager) runPull(ctx context.Context, integration *security.CalendarIntegration) (int, error) {
	creds, err := m.tokens.FreshCredentials(ctx, integration.ID)
	if err != nil {
		return 0, err
	}

	page, err := m.listRemoteChanges(ctx, integration, creds)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, event := range page.Events {
		if err := m.applyRemoteEvent(ctx, integration, event); err != nil {
			log.Printf("Sync: apply event %s for integration %s: %v", event.ID, integration.ID, err)
			continue
		}
		applied++
	}
	if page.NextSyncToken != "" {
		integration.SyncToken = page.NextSyncToken
	}
	return applied, nil
}

// listRemoteChanges fetches the next batch of events. A rejected access
// token gets one refresh-and-retry; an expired sync token gets one
// transparent fallback to a full time-bounded listing.
func (m *Manager) listRemoteChanges(ctx context.Context, integration *security.CalendarIntegration, creds gcal.Credentials) (*gcal.ListPage, error) {
	q := gcal.ListQuery{SyncToken: integration.SyncToken}
	if q.SyncToken == "" {
		q.TimeMin = m.now().Add(-fullListingLookback)
	}

	page, err := m.provider.ListEventsIncremental(ctx, creds, integration.CalendarID, q)
	if errors.Is(err, gcal.ErrUnauthorized) {
		log.Printf("Sync: access token rejected for integration %s, refreshing and retrying", integration.ID)
		creds, err = m.tokens.ForceRefresh(ctx, integration.ID, creds.AccessToken)
		if err != nil {
			return nil, err
		}
		page, err = m.provider.ListEventsIncremental(ctx, creds, integration.CalendarID, q)
	}
	if errors.Is(err, gcal.ErrSyncTokenExpired) {
		log.Printf("Sync: sync token expired for integration %s, falling back to full listing", integration.ID)
		integration.SyncToken = ""
		full := gcal.ListQuery{TimeMin: m.now().Add(-fullListingLookback)}
		page, err = m.provider.ListEventsIncremental(ctx, creds, integration.CalendarID, full)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return page, nil
}

// PushAppointment mirrors a local appointment to the user's remote calendar.
// Integrations without bidirectional sync never push; the remote event id is
// written back onto the appointment after a create.
func (m *Manager) PushAppointment(ctx context.Context, apt *scheduling.Appointment) error {
	integration, err := m.pushTarget(ctx, apt.UserID)
	if err != nil || integration == nil {
		return err
	}

	creds, err := m.tokens.FreshCredentials(ctx, integration.ID)
	if err != nil {
		return err
	}

	event, err := m.eventFromAppointment(apt)
	if err != nil {
		return err
	}

	var remote *gcal.Event
	if apt.GoogleCalendarEventID != "" {
		event.ID = apt.GoogleCalendarEventID
		remote, err = m.provider.UpdateEvent(ctx, creds, integration.CalendarID, event)
	} else {
		remote, err = m.provider.CreateEvent(ctx, creds, integration.CalendarID, event)
	}
	if errors.Is(err, gcal.ErrUnauthorized) {
		creds, err = m.tokens.ForceRefresh(ctx, integration.ID, creds.AccessToken)
		if err != nil {
			return err
		}
		if apt.GoogleCalendarEventID != "" {
			remote, err = m.provider.UpdateEvent(ctx, creds, integration.CalendarID, event)
		} else {
			remote, err = m.provider.CreateEvent(ctx, creds, integration.CalendarID, event)
		}
	}
	if err != nil {
		return fmt.Errorf("push appointment %s: %w", apt.ID, err)
	}

	if apt.GoogleCalendarEventID == "" && remote != nil && remote.ID != "" {
		apt.GoogleCalendarEventID = remote.ID
		apt.UpdatedAt = m.now()
		if err := m.store.UpsertAppointment(ctx, apt); err != nil {
			return fmt.Errorf("record remote event id: %w", err)
		}
	}
	return nil
}

// PushDelete removes the remote mirror of a deleted appointment. Deletion is
// best effort and idempotent; an already-gone remote event is not an error.
func (m *Manager) PushDelete(ctx context.Context, userID, eventID string) error {
	if eventID == "" {
		return nil
	}
	integration, err := m.pushTarget(ctx, userID)
	if err != nil || integration == nil {
		return err
	}

	creds, err := m.tokens.FreshCredentials(ctx, integration.ID)
	if err != nil {
		return err
	}
	err = m.provider.DeleteEvent(ctx, creds, integration.CalendarID, eventID)
	if errors.Is(err, gcal.ErrUnauthorized) {
		creds, err = m.tokens.ForceRefresh(ctx, integration.ID, creds.AccessToken)
		if err != nil {
			return err
		}
		err = m.provider.DeleteEvent(ctx, creds, integration.CalendarID, eventID)
	}
	if err != nil {
		return fmt.Errorf("push delete of event %s: %w", eventID, err)
	}
	return nil
}

// pushTarget returns the user's active integration when local changes should
// flow out, nil when pushing is disabled.
func (m *Manager) pushTarget(ctx context.Context, userID string) (*security.CalendarIntegration, error) {
	active, err := m.integrations.ActiveForUser(ctx, userID, security.ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("list integrations for user %s: %w", userID, err)
	}
	for _, integration := range active {
		if integration.SyncEnabled && integration.SyncPreference.PushEnabled() {
			return integration, nil
		}
	}
	return nil, nil
}

// IntegrationStatus is one integration's entry in the sync status snapshot.
type IntegrationStatus struct {
	ID             string                  `json:"id"`
	Provider       security.Provider       `json:"provider"`
	Email          string                  `json:"email"`
	SyncEnabled    bool                    `json:"syncEnabled"`
	SyncPreference security.SyncPreference `json:"syncPreference"`
	SyncInProgress bool                    `json:"syncInProgress"`
	LastSyncAt     *time.Time              `json:"lastSync,omitempty"`
	LastTrigger    string                  `json:"lastTrigger,omitempty"`
	SyncErrors     string                  `json:"errors,omitempty"`
	WebhookActive  bool                    `json:"webhookActive"`
	WatchExpiresAt *time.Time              `json:"webhookExpires,omitempty"`
}

// StatusSnapshot reports the sync state of the user's active integrations.
func (m *Manager) StatusSnapshot(ctx context.Context, userID string) ([]IntegrationStatus, error) {
	all, err := m.integrations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	statuses := make([]IntegrationStatus, 0, len(all))
	for _, integration := range all {
		if !integration.IsActive {
			continue
		}
		status := IntegrationStatus{
			ID:             integration.ID,
			Provider:       integration.Provider,
			Email:          integration.Email,
			SyncEnabled:    integration.SyncEnabled,
			SyncPreference: integration.SyncPreference,
			SyncInProgress: integration.SyncInProgress,
			LastTrigger:    integration.LastTrigger,
			SyncErrors:     integration.SyncErrors,
			WebhookActive:  integration.WebhookActive(now),
		}
		if !integration.LastSyncAt.IsZero() {
			t := integration.LastSyncAt
			status.LastSyncAt = &t
		}
		if !integration.WatchExpiresAt.IsZero() {
			t := integration.WatchExpiresAt
			status.WatchExpiresAt = &t
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// publishRun appends the run outcome to the user's activity stream. Stream
// failures are logged, never propagated.
func (m *Manager) publishRun(ctx context.Context, integration *security.CalendarIntegration, trigger string, applied int, elapsed time.Duration, runErr error) {
	values := map[string]any{
		"kind":           "sync_run",
		"integration_id": integration.ID,
		"trigger":        trigger,
		"events_applied": applied,
		"duration_ms":    elapsed.Milliseconds(),
		"status":         "ok",
	}
	if runErr != nil {
		values["status"] = "error"
		values["error"] = runErr.Error()
	}
	if _, err := m.activity.Append(ctx, integration.UserID, values); err != nil {
		log.Printf("Sync: publish run for integration %s: %v", integration.ID, err)
	}
}
