package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"loginrelay/internal/device"
	"loginrelay/internal/model"
)

const (
	ParamToken         = "token"
	ParamUser          = "user"
	ParamLoginActivity = "loginActivity"
)

type HandoffResult struct {
	Token string
	User  model.HandoffUser
	Event model.LoginEvent
	// FromActivity is true when Event came from the producer's loginActivity
	// parameter rather than being rebuilt from the user parameter.
	FromActivity bool
	// Redirect is the query-free path the consumer should land on.
	Redirect string
}

type Handoff struct {
	ConsumerURL     string
	IncludeActivity bool
	DashboardPath   string
	Sink            Appender
	Capturer        *device.Capturer
	Now             func() time.Time
}

// BuildURL produces the consumer entry URL the producer redirects to.
func (h *Handoff) BuildURL(token string, user model.HandoffUser, ev *model.LoginEvent) (string, error) {
	base, err := url.Parse(h.ConsumerURL)
	if err != nil {
		return "", fmt.Errorf("parse consumer url: %w", err)
	}
	userJSON, err := json.Marshal(model.HandoffUser{ID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set(ParamToken, token)
	q.Set(ParamUser, string(userJSON))
	if h.IncludeActivity && ev != nil {
		activity, err := json.Marshal(ev)
		if err != nil {
			return "", err
		}
		q.Set(ParamLoginActivity, string(activity))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Consume reads handoff parameters and appends the resulting event to the
// sink. Missing or malformed parameters yield ErrNoHandoff. The token is
// returned untouched.
func (h *Handoff) Consume(ctx context.Context, query url.Values, hints device.ClientHints) (HandoffResult, error) {
	token := query.Get(ParamToken)
	userParam := query.Get(ParamUser)
	if token == "" || userParam == "" {
		return HandoffResult{}, ErrNoHandoff
	}
	var user model.HandoffUser
	if err := json.Unmarshal([]byte(unescapeTwice(userParam)), &user); err != nil {
		return HandoffResult{}, fmt.Errorf("%w: user parameter: %v", ErrNoHandoff, err)
	}
	if user.ID == 0 || user.Email == "" {
		return HandoffResult{}, fmt.Errorf("%w: user parameter lacks id or email", ErrNoHandoff)
	}
	res := HandoffResult{Token: token, User: user, Redirect: h.DashboardPath}
	if res.Redirect == "" {
		res.Redirect = "/dashboard"
	}

	if raw := query.Get(ParamLoginActivity); raw != "" {
		var ev model.LoginEvent
		if err := json.Unmarshal([]byte(unescapeTwice(raw)), &ev); err == nil && ev.Valid() {
			res.Event = ev
			res.FromActivity = true
		}
	}
	if !res.FromActivity {
		res.Event = h.rebuild(user, hints)
	}
	if h.Sink != nil {
		h.Sink.Append(ctx, res.Event)
	}
	return res, nil
}

func (h *Handoff) rebuild(user model.HandoffUser, hints device.ClientHints) model.LoginEvent {
	role := user.Role
	if role == "" {
		role = model.RoleAdmin
	}
	var info model.DeviceInfo
	if h.Capturer != nil {
		info = h.Capturer.Capture(hints)
	}
	return model.LoginEvent{
		UserID:     user.ID,
		UserName:   model.DisplayName(user.FirstName, user.LastName, user.Email),
		UserEmail:  user.Email,
		UserRole:   role,
		Timestamp:  h.now().UnixMilli(),
		DeviceInfo: info,
	}
}

func (h *Handoff) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// unescapeTwice undoes the extra encodeURIComponent some producers apply
// on top of query encoding.
func unescapeTwice(v string) string {
	if strings.HasPrefix(v, "%7B") || strings.HasPrefix(v, "%7b") || strings.HasPrefix(v, "%5B") {
		if u, err := url.QueryUnescape(v); err == nil {
			return u
		}
	}
	return v
}
