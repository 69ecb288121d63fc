// Package transport moves login events from the producing origin to the
// consuming one. Three strategies exist (URL handoff, session relay and
// message broadcast); each is best-effort and isolated from the others.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"loginrelay/internal/model"
)

const (
	StrategyHandoff   = "handoff"
	StrategyRelay     = "relay"
	StrategyBroadcast = "broadcast"
)

var ErrNoHandoff = errors.New("no handoff data")

// Appender receives events that crossed the origin boundary.
type Appender interface {
	Append(ctx context.Context, ev model.LoginEvent)
}

type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
	Close() error
}

// SendNonBlocking hands env to out or drops it when out is full. Broadcast
// delivery makes no queueing promise beyond the channel buffer.
func SendNonBlocking(ctx context.Context, out chan<- model.Envelope, env model.Envelope, logger *slog.Logger) bool {
	select {
	case out <- env:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("envelope channel full, dropping message", "type", env.Type, "origin", env.Origin)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
