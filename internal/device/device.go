// Package device classifies the client environment of a login into the
// fixed browser / OS / device-type vocabulary shown on the dashboard.
package device

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"

	"loginrelay/internal/model"
)

// ClientHints is what a login request tells us about the browser. The user
// agent comes from the request header, the rest from the client body.
type ClientHints struct {
	UserAgent    string `json:"-"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	Language     string `json:"language,omitempty"`
}

type Capturer struct {
	DefaultTimezone string
	DefaultLanguage string
	Now             func() time.Time
	NewID           func() string
}

func NewCapturer(defaultTimezone, defaultLanguage string) *Capturer {
	return &Capturer{
		DefaultTimezone: defaultTimezone,
		DefaultLanguage: defaultLanguage,
		Now:             time.Now,
		NewID:           func() string { return uuid.NewString() },
	}
}

func (c *Capturer) Capture(h ClientHints) model.DeviceInfo {
	browser, osName, deviceType := Classify(h.UserAgent)
	tz := strings.TrimSpace(h.Timezone)
	if tz == "" {
		tz = c.DefaultTimezone
	}
	lang := primaryLanguage(h.Language)
	if lang == "" {
		lang = c.DefaultLanguage
	}
	return model.DeviceInfo{
		VisitorID:        c.visitorID(),
		BrowserName:      browser,
		OSName:           osName,
		DeviceType:       deviceType,
		ScreenResolution: Resolution(h.ScreenWidth, h.ScreenHeight),
		Timezone:         tz,
		Language:         lang,
	}
}

// visitorID is display-only and makes no uniqueness promise.
func (c *Capturer) visitorID() string {
	id := strings.ReplaceAll(c.NewID(), "-", "")
	if len(id) > 5 {
		id = id[:5]
	}
	return "ua-" + strconv.FormatInt(c.Now().UnixMilli(), 10) + "-" + id
}

func Classify(ua string) (browser, osName, deviceType string) {
	parsed := useragent.Parse(ua)

	switch parsed.Name {
	case useragent.Chrome:
		browser = model.BrowserChrome
	case useragent.Firefox:
		browser = model.BrowserFirefox
	case useragent.Safari:
		browser = model.BrowserSafari
	case useragent.Edge:
		browser = model.BrowserEdge
	case useragent.Opera, useragent.OperaMini:
		browser = model.BrowserOpera
	default:
		browser = model.Unknown
	}

	switch parsed.OS {
	case useragent.Windows:
		osName = model.OSWindows
	case useragent.MacOS:
		osName = model.OSMacOS
	case useragent.Android:
		osName = model.OSAndroid
	case useragent.IOS:
		osName = model.OSIOS
	case useragent.Linux:
		osName = model.OSLinux
	default:
		osName = model.Unknown
	}

	switch {
	case parsed.Tablet:
		deviceType = model.DeviceTablet
	case parsed.Mobile:
		deviceType = model.DeviceMobile
	default:
		deviceType = model.DeviceDesktop
	}
	return browser, osName, deviceType
}

func Resolution(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

// primaryLanguage reduces an Accept-Language style value to its first tag.
func primaryLanguage(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexAny(v, ",;"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
