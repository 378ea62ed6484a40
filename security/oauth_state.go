package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStateTTL = 10 * time.Minute

// OAuthStateStore issues and validates short-lived CSRF state parameters for
// the calendar connect flow. Besides CSRF protection, the state carries the
// connect request's user, clinic, and sync preference across the redirect.
type OAuthStateStore struct {
	client *redis.Client
}

// NewOAuthStateStore creates a Redis-backed state store.
func NewOAuthStateStore(client *redis.Client) *OAuthStateStore {
	return &OAuthStateStore{client: client}
}

// Issue creates a random state bound to the connect request.
func (s *OAuthStateStore) Issue(ctx context.Context, userID, clinicID string, preference SyncPreference) (string, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	value := userID + "|" + clinicID + "|" + string(preference)
	if err := s.client.Set(ctx, oauthStateKey(state), value, oauthStateTTL).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume validates a callback state and returns what the connect request
// bound to it. The state is single-use.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (userID, clinicID string, preference SyncPreference, err error) {
	if state == "" {
		return "", "", "", fmt.Errorf("state parameter is required")
	}
	key := oauthStateKey(state)
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", "", "", fmt.Errorf("invalid or expired state parameter")
	}
	if err != nil {
		return "", "", "", fmt.Errorf("verify oauth state: %w", err)
	}
	s.client.Del(ctx, key)

	parts := strings.SplitN(value, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], ParseSyncPreference(parts[2]), nil
}

func oauthStateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}
