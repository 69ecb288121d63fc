package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"loginrelay/internal/device"
	"loginrelay/internal/model"
	"loginrelay/internal/storage"
)

const (
	keyAdminLoginInfo   = "admin_login_info"
	keyLatestLoginEvent = "latest_login_event"

	relayVisitorID = "session-handoff"
)

// Relay is a single-use, single-consumer handoff through a session-scoped
// namespace. If the consumer never loads, the stash is simply lost.
type Relay struct {
	Backend   storage.Backend
	Namespace string
	Sink      Appender
	Capturer  *device.Capturer
	Logger    *slog.Logger
}

// Stash leaves the login for the consumer. Admin logins also get the
// minimal tuple; both share the event's identity key.
func (r *Relay) Stash(ctx context.Context, sessionID string, ev model.LoginEvent) error {
	if sessionID == "" {
		return errors.New("relay: empty session id")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.Backend.Set(ctx, r.key(sessionID, keyLatestLoginEvent), data); err != nil {
		return err
	}
	if ev.UserRole != model.RoleAdmin {
		return nil
	}
	tuple, err := json.Marshal(model.RelayTuple{UserID: ev.UserID, UserEmail: ev.UserEmail, Timestamp: ev.Timestamp})
	if err != nil {
		return err
	}
	return r.Backend.Set(ctx, r.key(sessionID, keyAdminLoginInfo), tuple)
}

// Consume takes whatever the producer stashed for sessionID, appends it to
// the sink and returns it. A second call finds nothing.
func (r *Relay) Consume(ctx context.Context, sessionID string, hints device.ClientHints) []model.LoginEvent {
	if sessionID == "" {
		return nil
	}
	var out []model.LoginEvent
	if data, ok := r.take(ctx, sessionID, keyAdminLoginInfo); ok {
		var tuple model.RelayTuple
		if err := json.Unmarshal(data, &tuple); err != nil {
			r.warn("relay tuple unreadable", "err", err)
		} else if tuple.UserID != 0 && tuple.UserEmail != "" {
			out = append(out, r.fromTuple(tuple, hints))
		}
	}
	if data, ok := r.take(ctx, sessionID, keyLatestLoginEvent); ok {
		events, err := model.DecodeEvents(data)
		if err != nil {
			r.warn("relay event unreadable", "err", err)
		}
		for _, ev := range events {
			if ev.Valid() {
				out = append(out, ev)
			}
		}
	}
	if r.Sink != nil {
		for _, ev := range out {
			r.Sink.Append(ctx, ev)
		}
	}
	return out
}

// Clear drops anything stashed for sessionID without delivering it.
func (r *Relay) Clear(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := r.Backend.Delete(ctx, r.key(sessionID, keyAdminLoginInfo), r.key(sessionID, keyLatestLoginEvent)); err != nil {
		r.warn("relay clear failed", "err", err)
	}
}

func (r *Relay) fromTuple(t model.RelayTuple, hints device.ClientHints) model.LoginEvent {
	var info model.DeviceInfo
	if r.Capturer != nil {
		info = r.Capturer.Capture(hints)
	}
	info.VisitorID = relayVisitorID
	return model.LoginEvent{
		UserID:     t.UserID,
		UserName:   model.DisplayName("", "", t.UserEmail),
		UserEmail:  t.UserEmail,
		UserRole:   model.RoleAdmin,
		Timestamp:  t.Timestamp,
		DeviceInfo: info,
	}
}

func (r *Relay) take(ctx context.Context, sessionID, key string) ([]byte, bool) {
	data, err := r.Backend.Take(ctx, r.key(sessionID, key))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.warn("relay take failed", "key", key, "err", err)
		}
		return nil, false
	}
	return data, true
}

func (r *Relay) key(sessionID, key string) string {
	return storage.Key(r.Namespace, sessionID+":"+key)
}

func (r *Relay) warn(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Warn(msg, args...)
	}
}
