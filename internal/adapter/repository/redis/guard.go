package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationGuard implements usecase.NotificationGuard with SETNX keys that
// outlive the processor's redelivery window.
type NotificationGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewNotificationGuard creates a new NotificationGuard.
func NewNotificationGuard(client *redis.Client, ttl time.Duration) *NotificationGuard {
	return &NotificationGuard{
		client: client,
		prefix: "webhook:seen:",
		ttl:    ttl,
	}
}

// CheckAndMark reports whether id was already seen.
func (g *NotificationGuard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("notification id is required")
	}

	set, err := g.client.SetNX(ctx, g.prefix+id, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark notification: %w", err)
	}

	return !set, nil
}

// Forget unmarks id.
func (g *NotificationGuard) Forget(ctx context.Context, id string) error {
	return g.client.Del(ctx, g.prefix+id).Err()
}
