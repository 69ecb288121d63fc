package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"

	OSWindows = "Windows"
	OSMacOS   = "macOS"
	OSAndroid = "Android"
	OSIOS     = "iOS"
	OSLinux   = "Linux"

	Unknown = "Unknown"

	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"

	RoleAdmin = "ADMIN"

	TypeLoginEvent = "LOGIN_EVENT"
)

// DeviceInfo is a snapshot of the client environment at login time.
// It is passed and stored by value and never modified after capture.
type DeviceInfo struct {
	VisitorID        string `json:"visitorId"`
	BrowserName      string `json:"browserName"`
	OSName           string `json:"osName"`
	DeviceType       string `json:"deviceType"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
}

type LoginEvent struct {
	UserID     int64      `json:"userId"`
	UserName   string     `json:"userName"`
	UserEmail  string     `json:"userEmail"`
	UserRole   string     `json:"userRole,omitempty"`
	Timestamp  int64      `json:"timestamp"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// EventKey identifies a login for deduplication. Two logins of the same
// user within one millisecond share a key.
type EventKey struct {
	UserID    int64
	Timestamp int64
}

func (e LoginEvent) Key() EventKey {
	return EventKey{UserID: e.UserID, Timestamp: e.Timestamp}
}

func (e LoginEvent) Valid() bool {
	return e.UserID != 0 && e.Timestamp != 0
}

func (e LoginEvent) HasRole() bool {
	return e.UserRole != ""
}

func (k EventKey) String() string {
	return strconv.FormatInt(k.UserID, 10) + "-" + strconv.FormatInt(k.Timestamp, 10)
}

// Envelope is the cross-window message carrying a pushed login event.
type Envelope struct {
	Type    string          `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(origin string, ev LoginEvent) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeLoginEvent, Origin: origin, Payload: payload}, nil
}

// HandoffUser is the JSON carried in the "user" handoff parameter.
type HandoffUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// RelayTuple is the minimal login notice left in the session relay.
type RelayTuple struct {
	UserID    int64  `json:"userId"`
	UserEmail string `json:"userEmail"`
	Timestamp int64  `json:"timestamp"`
}

var ErrEmptyPayload = errors.New("empty event payload")

// DecodeEvents parses a stored value. Older keys held a single event object
// rather than a list, so both shapes are accepted.
func DecodeEvents(data []byte) ([]LoginEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrEmptyPayload
	}
	if trimmed[0] == '{' {
		var ev LoginEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			return nil, err
		}
		return []LoginEvent{ev}, nil
	}
	var list []LoginEvent
	if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func EncodeEvents(events []LoginEvent) ([]byte, error) {
	if events == nil {
		events = []LoginEvent{}
	}
	return json.Marshal(events)
}

// DisplayName builds the name shown on the dashboard: "first last" when both
// are known, else the first name, else the local part of the email.
func DisplayName(first, last, email string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	if first != "" && last != "" {
		return first + " " + last
	}
	if first != "" {
		return first
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
