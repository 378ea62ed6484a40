package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// IntegrationStore persists calendar integrations in Redis, with secondary
// indexes for per-user listing, the active-integration scan, and webhook
// channel reverse lookup.
type IntegrationStore struct {
	client *redis.Client
}

// NewIntegrationStore creates a Redis-backed integration store.
func NewIntegrationStore(client *redis.Client) *IntegrationStore {
	return &IntegrationStore{client: client}
}

// Save writes the integration and maintains its indexes.
func (s *IntegrationStore) Save(ctx context.Context, integration *CalendarIntegration) error {
	if integration == nil || integration.ID == "" || integration.UserID == "" {
		return fmt.Errorf("integration requires id and user_id")
	}
	integration.UpdatedAt = time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = integration.UpdatedAt
	}

	payload, err := json.Marshal(integration)
	if err != nil {
		return fmt.Errorf("marshal integration: %w", err)
	}

	if err := s.client.Set(ctx, integrationKey(integration.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("store integration: %w", err)
	}
	if err := s.client.SAdd(ctx, userIntegrationsKey(integration.UserID), integration.ID).Err(); err != nil {
		return fmt.Errorf("index integration by user: %w", err)
	}

	if integration.IsActive {
		if err := s.client.SAdd(ctx, activeIntegrationsKey, integration.ID).Err(); err != nil {
			return fmt.Errorf("index active integration: %w", err)
		}
	} else {
		if err := s.client.SRem(ctx, activeIntegrationsKey, integration.ID).Err(); err != nil {
			return fmt.Errorf("unindex active integration: %w", err)
		}
	}

	if integration.WatchChannelID != "" {
		if err := s.client.Set(ctx, channelKey(integration.WatchChannelID), integration.ID, 0).Err(); err != nil {
			log.Printf("Integrations: failed to store channel reverse lookup for %s: %v", integration.WatchChannelID, err)
		}
	}
	return nil
}

// Update re-reads the stored record, applies mutate to it, and saves the
// result. Callers holding an in-memory copy loaded before a token refresh (or
// before a concurrent sync advanced the cursor) must go through this instead
// of Save, so only the fields they own are written back.
func (s *IntegrationStore) Update(ctx context.Context, id string, mutate func(*CalendarIntegration)) (*CalendarIntegration, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("integration %s not found", id)
	}
	mutate(stored)
	if err := s.Save(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Get loads one integration by id; nil when absent.
func (s *IntegrationStore) Get(ctx context.Context, id string) (*CalendarIntegration, error) {
	raw, err := s.client.Get(ctx, integrationKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load integration %s: %w", id, err)
	}
	var integration CalendarIntegration
	if err := json.Unmarshal([]byte(raw), &integration); err != nil {
		return nil, fmt.Errorf("decode integration %s: %w", id, err)
	}
	return &integration, nil
}

// ListForUser returns every integration (active or not) for a user, oldest
// first.
func (s *IntegrationStore) ListForUser(ctx context.Context, userID string) ([]*CalendarIntegration, error) {
	ids, err := s.client.SMembers(ctx, userIntegrationsKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list integrations for %s: %w", userID, err)
	}
	integrations := make([]*CalendarIntegration, 0, len(ids))
	for _, id := range ids {
		integration, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if integration != nil {
			integrations = append(integrations, integration)
		}
	}
	sort.SliceStable(integrations, func(i, j int) bool {
		return integrations[i].CreatedAt.Before(integrations[j].CreatedAt)
	})
	return integrations, nil
}

// ActiveForUser returns the user's active integrations, with an optional
// provider filter.
func (s *IntegrationStore) ActiveForUser(ctx context.Context, userID string, provider Provider) ([]*CalendarIntegration, error) {
	all, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]*CalendarIntegration, 0, len(all))
	for _, integration := range all {
		if !integration.IsActive {
			continue
		}
		if provider != "" && integration.Provider != provider {
			continue
		}
		active = append(active, integration)
	}
	return active, nil
}

// Activate saves the integration as the sole active row for its
// user+provider, deactivating (never deleting) any prior ones.
func (s *IntegrationStore) Activate(ctx context.Context, integration *CalendarIntegration) error {
	existing, err := s.ActiveForUser(ctx, integration.UserID, integration.Provider)
	if err != nil {
		return err
	}
	for _, prior := range existing {
		if prior.ID == integration.ID {
			continue
		}
		prior.IsActive = false
		prior.SyncEnabled = false
		if err := s.Save(ctx, prior); err != nil {
			return fmt.Errorf("deactivate prior integration %s: %w", prior.ID, err)
		}
	}
	integration.IsActive = true
	return s.Save(ctx, integration)
}

// ListActive returns all active integrations across users (renewal scan).
func (s *IntegrationStore) ListActive(ctx context.Context) ([]*CalendarIntegration, error) {
	ids, err := s.client.SMembers(ctx, activeIntegrationsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	integrations := make([]*CalendarIntegration, 0, len(ids))
	for _, id := range ids {
		integration, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if integration != nil && integration.IsActive {
			integrations = append(integrations, integration)
		}
	}
	sort.SliceStable(integrations, func(i, j int) bool {
		return integrations[i].ID < integrations[j].ID
	})
	return integrations, nil
}

// FindByChannel resolves a webhook notification back to its integration.
// When the resource id is supplied it must match.
func (s *IntegrationStore) FindByChannel(ctx context.Context, channelID, resourceID string) (*CalendarIntegration, error) {
	id, err := s.client.Get(ctx, channelKey(channelID)).Result()
	if err == redis.Nil || id == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup channel %s: %w", channelID, err)
	}
	integration, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, nil
	}
	if integration.WatchChannelID != channelID {
		return nil, nil
	}
	if resourceID != "" && integration.WatchResourceID != "" && integration.WatchResourceID != resourceID {
		return nil, nil
	}
	return integration, nil
}

func integrationKey(id string) string {
	return fmt.Sprintf("calendar_integration:%s", id)
}

func userIntegrationsKey(userID string) string {
	return fmt.Sprintf("user:%s:calendar_integrations", userID)
}

func channelKey(channelID string) string {
	return fmt.Sprintf("calendar_channel:%s", channelID)
}

const activeIntegrationsKey = "calendar_integrations:active"
