package transport

import (
	"net/url"
	"strings"
)

// AllowList holds the origins whose broadcast messages are trusted. An
// empty list trusts nobody.
type AllowList struct {
	origins map[string]struct{}
}

func NewAllowList(origins []string) *AllowList {
	al := &AllowList{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		n := NormalizeOrigin(o)
		if n == "" {
			continue
		}
		al.origins[n] = struct{}{}
	}
	return al
}

func (a *AllowList) Allowed(origin string) bool {
	if a == nil {
		return false
	}
	n := NormalizeOrigin(origin)
	if n == "" {
		return false
	}
	_, ok := a.origins[n]
	return ok
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.origins)
}

// NormalizeOrigin reduces v to lower-case scheme://host[:port]. Paths,
// queries and default ports are dropped; anything unparseable is "".
func NormalizeOrigin(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "null" {
		return ""
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
