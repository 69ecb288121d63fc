package transport

import (
	"context"
	"fmt"
	"log/slog"

	"loginrelay/internal/metrics"
	"loginrelay/internal/model"
)

// Outbound is a producer-side login to be pushed across the origin
// boundary.
type Outbound struct {
	Event     model.LoginEvent
	User      model.HandoffUser
	Token     string
	SessionID string
}

type Dispatched struct {
	HandoffURL string `json:"handoffUrl,omitempty"`
	Relayed    bool   `json:"relayed"`
	Broadcast  bool   `json:"broadcast"`
}

// Dispatcher runs every configured strategy for one login. A strategy that
// errors or panics is logged and counted; the others still run.
type Dispatcher struct {
	Origin    string
	Handoff   *Handoff
	Relay     *Relay
	Publisher Publisher
	Metrics   *metrics.Store
	Logger    *slog.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, out Outbound) Dispatched {
	var res Dispatched
	if d.Handoff != nil && out.Token != "" && out.Event.UserRole == model.RoleAdmin {
		d.run(StrategyHandoff, func() error {
			u, err := d.Handoff.BuildURL(out.Token, out.User, &out.Event)
			if err != nil {
				return err
			}
			res.HandoffURL = u
			return nil
		})
	}
	if d.Relay != nil && out.SessionID != "" {
		res.Relayed = d.run(StrategyRelay, func() error {
			return d.Relay.Stash(ctx, out.SessionID, out.Event)
		})
	}
	if d.Publisher != nil {
		res.Broadcast = d.run(StrategyBroadcast, func() error {
			env, err := model.NewEnvelope(d.Origin, out.Event)
			if err != nil {
				return err
			}
			return d.Publisher.Publish(ctx, env)
		})
	}
	return res
}

func (d *Dispatcher) run(strategy string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.Metrics.Failed(strategy, err)
			if d.Logger != nil {
				d.Logger.Error("transport strategy panicked", "strategy", strategy, "err", err)
			}
			ok = false
		}
	}()
	if err := fn(); err != nil {
		d.Metrics.Failed(strategy, err)
		if d.Logger != nil {
			d.Logger.Warn("transport strategy failed", "strategy", strategy, "err", err)
		}
		return false
	}
	d.Metrics.Delivered(strategy)
	return true
}
