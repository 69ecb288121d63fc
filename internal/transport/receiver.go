package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"loginrelay/internal/metrics"
	"loginrelay/internal/model"
)

// Receiver accepts pushed envelopes and appends the ones that come from a
// trusted origin and carry a usable event.
type Receiver struct {
	sink    Appender
	allow   atomic.Pointer[AllowList]
	metrics *metrics.Store
	logger  *slog.Logger
	// Replay, when set, suppresses events accepted within its window.
	Replay *ReplayGuard
	// OnEvent, when set, sees every accepted event after it was appended.
	OnEvent func(model.LoginEvent)
}

func NewReceiver(sink Appender, allowed []string, m *metrics.Store, logger *slog.Logger) *Receiver {
	r := &Receiver{sink: sink, metrics: m, logger: logger}
	r.allow.Store(NewAllowList(allowed))
	return r
}

func (r *Receiver) UpdateAllowList(origins []string) {
	r.allow.Store(NewAllowList(origins))
}

func (r *Receiver) Allowed(origin string) bool {
	return r.allow.Load().Allowed(origin)
}

// Handle reports whether env was appended. Foreign message types, untrusted
// origins and unusable payloads are ignored without error.
func (r *Receiver) Handle(ctx context.Context, env model.Envelope) bool {
	if env.Type != model.TypeLoginEvent {
		return false
	}
	if !r.Allowed(env.Origin) {
		r.metrics.Dropped(StrategyBroadcast)
		if r.logger != nil {
			r.logger.Debug("broadcast from untrusted origin ignored", "origin", env.Origin)
		}
		return false
	}
	if len(env.Payload) == 0 {
		r.metrics.Dropped(StrategyBroadcast)
		return false
	}
	var ev model.LoginEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil || !ev.Valid() {
		r.metrics.Dropped(StrategyBroadcast)
		if r.logger != nil {
			r.logger.Warn("broadcast payload unusable", "origin", env.Origin, "err", err)
		}
		return false
	}
	if r.Replay != nil && r.Replay.Seen(ev.Key(), time.Now()) {
		r.metrics.Dropped(StrategyBroadcast)
		return false
	}
	r.sink.Append(ctx, ev)
	r.metrics.Delivered(StrategyBroadcast)
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
	return true
}

// Run handles envelopes from in until ctx ends or in closes.
func (r *Receiver) Run(ctx context.Context, in <-chan model.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			r.Handle(ctx, env)
		}
	}
}

func decodeEnvelope(data []byte) (model.Envelope, error) {
	var env model.Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
