package device

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"loginrelay/internal/model"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaFirefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaSafariMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15"
	uaEdgeWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		browser string
		os      string
		device  string
	}{
		{"chrome windows", uaChromeWindows, model.BrowserChrome, model.OSWindows, model.DeviceDesktop},
		{"firefox linux", uaFirefoxLinux, model.BrowserFirefox, model.OSLinux, model.DeviceDesktop},
		{"safari mac", uaSafariMac, model.BrowserSafari, model.OSMacOS, model.DeviceDesktop},
		{"edge windows", uaEdgeWindows, model.BrowserEdge, model.OSWindows, model.DeviceDesktop},
		{"iphone", uaIPhone, model.BrowserSafari, model.OSIOS, model.DeviceMobile},
		{"empty", "", model.Unknown, model.Unknown, model.DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, o, d := Classify(tt.ua)
			assert.Equal(t, tt.browser, b)
			assert.Equal(t, tt.os, o)
			assert.Equal(t, tt.device, d)
		})
	}
}

func TestCapture(t *testing.T) {
	c := NewCapturer("UTC", "en-US")
	c.Now = func() time.Time { return time.UnixMilli(1700000000123) }
	c.NewID = func() string { return "abcde-12345" }

	info := c.Capture(ClientHints{
		UserAgent:    uaChromeWindows,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Timezone:     "Europe/Paris",
		Language:     "fr-FR,fr;q=0.9",
	})
	assert.Equal(t, "ua-1700000000123-abcde", info.VisitorID)
	assert.Equal(t, "1920x1080", info.ScreenResolution)
	assert.Equal(t, "Europe/Paris", info.Timezone)
	assert.Equal(t, "fr-FR", info.Language)
}

func TestCaptureDefaults(t *testing.T) {
	info := NewCapturer("UTC", "en-US").Capture(ClientHints{})
	assert.Equal(t, "UTC", info.Timezone)
	assert.Equal(t, "en-US", info.Language)
	assert.Empty(t, info.ScreenResolution)
	assert.True(t, strings.HasPrefix(info.VisitorID, "ua-"))
}

func TestResolution(t *testing.T) {
	assert.Equal(t, "390x844", Resolution(390, 844))
	assert.Equal(t, "", Resolution(0, 844))
}
