package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertGate lets one alert per key through within the window.
type AlertGate struct {
	client *redis.Client
	window time.Duration
}

// NewAlertGate builds a gate. A nil client lets every alert through.
func NewAlertGate(client *redis.Client, window time.Duration) *AlertGate {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &AlertGate{client: client, window: window}
}

// Allow reports whether the alert identified by key has not fired within the window.
func (g *AlertGate) Allow(ctx context.Context, key string) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	return g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.window).Result()
}
