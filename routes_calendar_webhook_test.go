package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"clinic-cloud/calsync"
	"clinic-cloud/gcal"
	"clinic-cloud/scheduling"
	"clinic-cloud/security"
	"clinic-cloud/streams"
)

// stubProvider is the offline calendar backend for handler tests.
type stubProvider struct {
	mu        sync.Mutex
	listCalls int
	page      *gcal.ListPage
	listErr   error
}

func (p *stubProvider) ExchangeAuthCode(ctx context.Context, code string) (*gcal.TokenSet, error) {
	return nil, errors.New("not supported in tests")
}

func (p *stubProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*gcal.TokenSet, error) {
	return &gcal.TokenSet{AccessToken: "access-refreshed", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *stubProvider) ListEventsIncremental(ctx context.Context, creds gcal.Credentials, calendarID string, q gcal.ListQuery) (*gcal.ListPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	if p.page == nil {
		return &gcal.ListPage{NextSyncToken: "cursor-test"}, nil
	}
	return p.page, nil
}

func (p *stubProvider) CreateEvent(ctx context.Context, creds gcal.Credentials, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	created := *event
	created.ID = "evt-created"
	return &created, nil
}

func (p *stubProvider) UpdateEvent(ctx context.Context, creds gcal.Credentials, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	return event, nil
}

func (p *stubProvider) DeleteEvent(ctx context.Context, creds gcal.Credentials, calendarID, eventID string) error {
	return nil
}

func (p *stubProvider) SubscribeWebhook(ctx context.Context, creds gcal.Credentials, calendarID, callbackURL, verifyToken string) (*gcal.Channel, error) {
	return &gcal.Channel{ID: "chan-new", ResourceID: "res-new", ExpiresAt: time.Now().Add(7 * 24 * time.Hour)}, nil
}

func (p *stubProvider) UnsubscribeWebhook(ctx context.Context, creds gcal.Credentials, channelID, resourceID string) error {
	return nil
}

func (p *stubProvider) RenewWebhook(ctx context.Context, creds gcal.Credentials, calendarID, callbackURL, verifyToken, oldChannelID, oldResourceID string) (*gcal.Channel, error) {
	return p.SubscribeWebhook(ctx, creds, calendarID, callbackURL, verifyToken)
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

// routeFixture wires the handlers against miniredis and the stub provider.
type routeFixture struct {
	router       *mux.Router
	provider     *stubProvider
	store        scheduling.Store
	integrations *security.IntegrationStore
	manager      *calsync.Manager
	engine       *scheduling.Engine
	clinic       *scheduling.Clinic
	locks        calsync.KeyedLock
	tokens       *security.TokenService
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	provider := &stubProvider{}
	clinic := scheduling.DefaultClinic()
	store := scheduling.NewRedisStore(client)
	integrations := security.NewIntegrationStore(client)
	tokens := security.NewTokenService(integrations, provider)
	activity := streams.NewActivityBus(client)
	engine := scheduling.NewEngine(store, clinic)
	locks := calsync.NewLocalKeyedLock()
	manager := calsync.NewManager(store, integrations, tokens, provider, locks, activity, clinic)

	// Appointments owned by inactive professionals do not block; give the
	// test user a professional record so theirs count.
	require.NoError(t, store.UpsertProfessional(context.Background(), "clinic-1",
		&scheduling.Professional{ID: "user-1", Name: "Dra. Ana"}))

	r := mux.NewRouter()
	NewAvailabilityHandler(engine).RegisterRoutes(r)
	NewAppointmentsHandler(store, engine, manager, clinic).RegisterRoutes(r)
	NewCalendarWebhookHandler(integrations, manager, "").RegisterRoutes(r)
	NewCalendarSyncHandler(manager, integrations, tokens, provider, "http://localhost/api/calendar/webhook", "").RegisterRoutes(r)

	return &routeFixture{
		router:       r,
		provider:     provider,
		store:        store,
		integrations: integrations,
		manager:      manager,
		engine:       engine,
		clinic:       clinic,
		locks:        locks,
		tokens:       tokens,
	}
}

func (f *routeFixture) addIntegration(t *testing.T) *security.CalendarIntegration {
	t.Helper()
	integration := &security.CalendarIntegration{
		ID:              "int-1",
		UserID:          "user-1",
		ClinicID:        "clinic-1",
		Provider:        security.ProviderGoogle,
		Email:           "pro@clinic.example",
		CalendarID:      "primary",
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		TokenExpiresAt:  time.Now().Add(time.Hour),
		SyncEnabled:     true,
		SyncPreference:  security.SyncBidirectional,
		WatchChannelID:  "chan-1",
		WatchResourceID: "res-1",
		WatchExpiresAt:  time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, f.integrations.Activate(context.Background(), integration))
	return integration
}

func TestWebhookRejectsMissingHeaders(t *testing.T) {
	f := newRouteFixture(t)

	req := httptest.NewRequest("POST", "/api/calendar/webhook", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookAcksSyncState(t *testing.T) {
	f := newRouteFixture(t)

	req := httptest.NewRequest("POST", "/api/calendar/webhook", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-ID", "res-1")
	req.Header.Set("X-Goog-Resource-State", "sync")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, f.provider.calls())
}

func TestWebhookAcksUnknownChannel(t *testing.T) {
	f := newRouteFixture(t)

	req := httptest.NewRequest("POST", "/api/calendar/webhook", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-unknown")
	req.Header.Set("X-Goog-Resource-ID", "res-unknown")
	req.Header.Set("X-Goog-Resource-State", "exists")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookTriggersSyncForOwningUser(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	req := httptest.NewRequest("POST", "/api/calendar/webhook", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-ID", "res-1")
	req.Header.Set("X-Goog-Resource-State", "exists")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	// The ack goes out immediately; the pull runs in the background.
	require.Equal(t, http.StatusOK, rr.Code)
	require.Eventually(t, func() bool {
		return f.provider.calls() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookIgnoresBadChannelToken(t *testing.T) {
	f := newRouteFixture(t)
	f.addIntegration(t)

	r := mux.NewRouter()
	NewCalendarWebhookHandler(f.integrations, f.manager, "expected-token").RegisterRoutes(r)

	req := httptest.NewRequest("POST", "/api/calendar/webhook", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-ID", "res-1")
	req.Header.Set("X-Goog-Resource-State", "exists")
	req.Header.Set("X-Goog-Channel-Token", "wrong")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	// Still acknowledged, but no sync fired.
	require.Equal(t, http.StatusOK, rr.Code)
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, f.provider.calls())
}
