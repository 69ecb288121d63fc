package activity

import (
	"strings"
	"time"

	"loginrelay/internal/model"
)

// Filter narrows the feed. Zero-valued fields do not constrain.
type Filter struct {
	UserID     int64
	Search     string
	Start      time.Time
	End        time.Time
	DeviceType string
}

// Apply returns the events matching every set clause, in input order.
func Apply(events []model.LoginEvent, f Filter) []model.LoginEvent {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var startMs, endMs int64
	if !f.Start.IsZero() {
		startMs = f.Start.UnixMilli()
	}
	if !f.End.IsZero() {
		endMs = endOfDay(f.End).UnixMilli()
	}
	out := make([]model.LoginEvent, 0, len(events))
	for _, ev := range events {
		if f.UserID != 0 && ev.UserID != f.UserID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ev.UserName), search) &&
			!strings.Contains(strings.ToLower(ev.UserEmail), search) {
			continue
		}
		if startMs != 0 && ev.Timestamp < startMs {
			continue
		}
		if endMs != 0 && ev.Timestamp > endMs {
			continue
		}
		if f.DeviceType != "" && !strings.EqualFold(ev.DeviceInfo.DeviceType, f.DeviceType) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// endOfDay is the last millisecond of t's calendar day in t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

type Stats struct {
	Total         int            `json:"total"`
	UniqueDevices int            `json:"uniqueDevices"`
	ByDeviceType  map[string]int `json:"byDeviceType"`
}

func ComputeStats(events []model.LoginEvent) Stats {
	st := Stats{
		Total: len(events),
		ByDeviceType: map[string]int{
			model.DeviceDesktop: 0,
			model.DeviceMobile:  0,
			model.DeviceTablet:  0,
		},
	}
	visitors := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if id := ev.DeviceInfo.VisitorID; id != "" {
			visitors[id] = struct{}{}
		}
		dt := ev.DeviceInfo.DeviceType
		if dt == "" {
			dt = model.Unknown
		}
		st.ByDeviceType[dt]++
	}
	st.UniqueDevices = len(visitors)
	return st
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Users lists each user once in order of first appearance. Name and email
// come from the user's most recent login.
func Users(events []model.LoginEvent) []User {
	index := make(map[int64]int)
	latest := make(map[int64]int64)
	var out []User
	for _, ev := range events {
		if ev.UserID == 0 {
			continue
		}
		u := User{ID: ev.UserID, Name: ev.UserName, Email: ev.UserEmail}
		if i, ok := index[ev.UserID]; ok {
			if ev.Timestamp > latest[ev.UserID] {
				out[i] = u
				latest[ev.UserID] = ev.Timestamp
			}
			continue
		}
		index[ev.UserID] = len(out)
		latest[ev.UserID] = ev.Timestamp
		out = append(out, u)
	}
	return out
}
