package main

import (
	"context"
	"log"
	"time"

	"clinic-cloud/calsync"
	"clinic-cloud/security"
)

// CalendarPullSync is the safety net behind push notifications: on a ticker
// it triggers a non-forced sync for every user with an active integration,
// so missed webhooks only delay a pull instead of losing it. The manager's
// debounce keeps this loop from stacking on top of webhook-driven runs.
type CalendarPullSync struct {
	integrations *security.IntegrationStore
	manager      *calsync.Manager
	interval     time.Duration
	enabled      bool
}

// NewCalendarPullSync creates the periodic pull loop.
func NewCalendarPullSync(integrations *security.IntegrationStore, manager *calsync.Manager, interval time.Duration, enabled bool) *CalendarPullSync {
	return &CalendarPullSync{
		integrations: integrations,
		manager:      manager,
		interval:     interval,
		enabled:      enabled,
	}
}

// Start launches the loop until the context is cancelled.
func (p *CalendarPullSync) Start(ctx context.Context) {
	if !p.enabled {
		log.Println("Calendar pull sync disabled")
		return
	}
	if p.interval <= 0 {
		p.interval = 15 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			p.runOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *CalendarPullSync) runOnce(ctx context.Context) {
	active, err := p.integrations.ListActive(ctx)
	if err != nil {
		log.Printf("PullSync: list integrations: %v", err)
		return
	}

	seen := make(map[string]bool)
	for _, integration := range active {
		if seen[integration.UserID] {
			continue
		}
		seen[integration.UserID] = true
		if _, err := p.manager.TriggerSync(ctx, integration.UserID, "periodic", false); err != nil {
			log.Printf("PullSync: user %s: %v", integration.UserID, err)
		}
	}
}
