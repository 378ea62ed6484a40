package streams

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activityStreamFormat = "user:%s:sync_activity"
	activityMaxLen       = 1000
	tailBlock            = 5 * time.Second
	tailBatchCount       = 50
)

// Entry is the typed form of a sync-activity stream message.
type Entry struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Values map[string]any `json:"values"`
}

// ActivityBus appends and tails the per-user sync-activity stream. Every
// sync run, webhook trigger, and watch renewal leaves an entry here, so
// fire-and-forget work stays observable after the HTTP response went out.
type ActivityBus struct {
	client *redis.Client
}

// NewActivityBus returns an ActivityBus over the given client.
func NewActivityBus(client *redis.Client) *ActivityBus {
	return &ActivityBus{client: client}
}

// ActivityStreamKey returns the canonical activity stream key for a user.
func ActivityStreamKey(userID string) string {
	return fmt.Sprintf(activityStreamFormat, userID)
}

// Append writes an entry to the user's activity stream, attaching a ts when
// missing. The stream is capped so idle users never grow unbounded.
func (b *ActivityBus) Append(ctx context.Context, userID string, values map[string]any) (string, error) {
	if b == nil || b.client == nil {
		return "", fmt.Errorf("activity bus not configured")
	}
	if values == nil {
		values = make(map[string]any)
	}
	if _, ok := values["ts"]; !ok {
		values["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ActivityStreamKey(userID),
		MaxLen: activityMaxLen,
		Approx: true,
		Values: values,
	}).Result()
}

// Tail blocks for new entries after afterID and returns them with the latest
// ID observed. An empty afterID starts at the stream tip.
func (b *ActivityBus) Tail(ctx context.Context, userID, afterID string) ([]Entry, string, error) {
	if b == nil || b.client == nil {
		return nil, afterID, fmt.Errorf("activity bus not configured")
	}
	if strings.TrimSpace(afterID) == "" {
		afterID = "$"
	}

	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{ActivityStreamKey(userID), afterID},
		Count:   tailBatchCount,
		Block:   tailBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	entries := make([]Entry, 0)
	nextID := afterID
	for _, stream := range res {
		for _, msg := range stream.Messages {
			values := make(map[string]any, len(msg.Values))
			for k, v := range msg.Values {
				values[k] = v
			}
			entries = append(entries, Entry{
				ID:     msg.ID,
				UserID: userID,
				Values: values,
			})
			nextID = msg.ID
		}
	}
	return entries, nextID, nil
}
