package security

import (
	"context"
	"fmt"
	"log"
	"time"

	"clinic-cloud/gcal"
)

// Tokens are refreshed proactively whenever their expiry is within this
// window, before any remote call is attempted.
const tokenRefreshWindow = 5 * time.Minute

// TokenRefresher is the narrow provider capability the token service needs.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*gcal.TokenSet, error)
}

// TokenService hands out fresh credentials for an integration, refreshing
// proactively near expiry. Refresh re-reads the stored record first and
// writes the result back, so concurrent refreshes for the same integration
// converge on the latest token instead of clobbering each other.
type TokenService struct {
	store     *IntegrationStore
	refresher TokenRefresher
	now       func() time.Time
}

// NewTokenService wires the token service to its store and provider.
func NewTokenService(store *IntegrationStore, refresher TokenRefresher) *TokenService {
	return &TokenService{store: store, refresher: refresher, now: time.Now}
}

// WithNow overrides the service clock, for tests.
func (s *TokenService) WithNow(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// FreshCredentials returns usable credentials for the integration,
// refreshing the access token when it expires within five minutes.
func (s *TokenService) FreshCredentials(ctx context.Context, integrationID string) (gcal.Credentials, error) {
	integration, err := s.store.Get(ctx, integrationID)
	if err != nil {
		return gcal.Credentials{}, err
	}
	if integration == nil {
		return gcal.Credentials{}, fmt.Errorf("integration %s not found", integrationID)
	}

	if integration.TokenExpiresAt.After(s.now().Add(tokenRefreshWindow)) {
		return credentialsFrom(integration), nil
	}

	log.Printf("Tokens: access token for integration %s near expiry, refreshing", integrationID)
	return s.ForceRefresh(ctx, integrationID, integration.AccessToken)
}

// ForceRefresh refreshes the access token after staleAccessToken was
// rejected (or found near expiry). It re-reads the stored record first: if a
// concurrent refresh already replaced the stale token, the newer one is
// returned without a second provider round trip.
func (s *TokenService) ForceRefresh(ctx context.Context, integrationID, staleAccessToken string) (gcal.Credentials, error) {
	integration, err := s.store.Get(ctx, integrationID)
	if err != nil {
		return gcal.Credentials{}, err
	}
	if integration == nil {
		return gcal.Credentials{}, fmt.Errorf("integration %s not found", integrationID)
	}
	if staleAccessToken != "" && integration.AccessToken != staleAccessToken {
		return credentialsFrom(integration), nil
	}
	if integration.RefreshToken == "" {
		return gcal.Credentials{}, fmt.Errorf("integration %s has no refresh token: %w", integrationID, gcal.ErrUnauthorized)
	}

	set, err := s.refresher.RefreshAccessToken(ctx, integration.RefreshToken)
	if err != nil {
		return gcal.Credentials{}, fmt.Errorf("refresh token for integration %s: %w", integrationID, err)
	}

	integration.AccessToken = set.AccessToken
	if set.RefreshToken != "" {
		integration.RefreshToken = set.RefreshToken
	}
	integration.TokenExpiresAt = set.ExpiresAt
	if err := s.store.Save(ctx, integration); err != nil {
		return gcal.Credentials{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	return credentialsFrom(integration), nil
}

func credentialsFrom(integration *CalendarIntegration) gcal.Credentials {
	return gcal.Credentials{
		AccessToken:  integration.AccessToken,
		RefreshToken: integration.RefreshToken,
		Expiry:       integration.TokenExpiresAt,
	}
}
