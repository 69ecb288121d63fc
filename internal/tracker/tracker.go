// Package tracker records logins on the producing origin and pushes them
// toward the consuming origin.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"loginrelay/internal/device"
	"loginrelay/internal/model"
	"loginrelay/internal/transport"
)

var ErrInvalidLogin = errors.New("invalid login")

type Login struct {
	UserID    int64              `json:"userId"`
	Email     string             `json:"email"`
	Role      string             `json:"role,omitempty"`
	FirstName string             `json:"firstName,omitempty"`
	LastName  string             `json:"lastName,omitempty"`
	Token     string             `json:"token,omitempty"`
	SessionID string             `json:"-"`
	Hints     device.ClientHints `json:"client"`
}

type Result struct {
	Event      model.LoginEvent `json:"event"`
	HandoffURL string           `json:"handoffUrl,omitempty"`
	SessionID  string           `json:"sessionId,omitempty"`
	Relayed    bool             `json:"relayed"`
	Broadcast  bool             `json:"broadcast"`
}

type Tracker struct {
	Store      transport.Appender
	Capturer   *device.Capturer
	Dispatcher *transport.Dispatcher
	Logger     *slog.Logger
	Now        func() time.Time
}

// RecordLogin stores the login locally and dispatches it. Only malformed
// input is reported; storage and transport trouble is logged and the
// login proceeds.
func (t *Tracker) RecordLogin(ctx context.Context, l Login) (Result, error) {
	email := strings.TrimSpace(l.Email)
	if l.UserID <= 0 {
		return Result{}, fmt.Errorf("%w: userId must be positive", ErrInvalidLogin)
	}
	if email == "" {
		return Result{}, fmt.Errorf("%w: email required", ErrInvalidLogin)
	}
	var info model.DeviceInfo
	if t.Capturer != nil {
		info = t.Capturer.Capture(l.Hints)
	}
	ev := model.LoginEvent{
		UserID:     l.UserID,
		UserName:   model.DisplayName(l.FirstName, l.LastName, email),
		UserEmail:  email,
		UserRole:   l.Role,
		Timestamp:  t.now().UnixMilli(),
		DeviceInfo: info,
	}
	if t.Store != nil {
		t.Store.Append(ctx, ev)
	}
	res := Result{Event: ev, SessionID: l.SessionID}
	if t.Dispatcher == nil {
		return res, nil
	}
	if res.SessionID == "" && t.Dispatcher.Relay != nil {
		res.SessionID = uuid.NewString()
	}
	out := t.Dispatcher.Dispatch(ctx, transport.Outbound{
		Event:     ev,
		User:      model.HandoffUser{ID: l.UserID, Email: email, Role: l.Role},
		Token:     l.Token,
		SessionID: res.SessionID,
	})
	res.HandoffURL = out.HandoffURL
	res.Relayed = out.Relayed
	res.Broadcast = out.Broadcast
	if t.Logger != nil {
		t.Logger.Info("login recorded", "user_id", ev.UserID, "role", ev.UserRole, "device", info.DeviceType,
			"handoff", res.HandoffURL != "", "relayed", res.Relayed, "broadcast", res.Broadcast)
	}
	return res, nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
