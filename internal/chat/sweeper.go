package chat

import (
	"context"
	"log/slog"
	"time"
)

// EvictCallback is called for every session dropped by the sweeper.
type EvictCallback func(userID string)

// StartSweeper runs a background goroutine that evicts sessions idle for
// longer than ttl every interval. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, reg *Registry, interval, ttl time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(reg, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(reg *Registry, ttl time.Duration, onEvict EvictCallback) {
	evicted := reg.Evict(ttl)
	if len(evicted) == 0 {
		return
	}
	for _, userID := range evicted {
		if onEvict != nil {
			onEvict(userID)
		}
	}
	slog.Info("Session sweeper evicted idle sessions", "count", len(evicted), "remaining", reg.Len())
}
