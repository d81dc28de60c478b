// Package perception holds the model clients that turn a conversation plus a
// tool catalog into the model's next move.
package perception

import (
	"context"
	"errors"
	"time"
)

// ErrMissingAPIKey is returned when a client is used without credentials.
var ErrMissingAPIKey = errors.New("API key not configured")

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
