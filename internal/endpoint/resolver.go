// Package endpoint derives the ordered list of realtime endpoints to try
// for a tenant. Resolution is pure: no I/O, no error path. A malformed base
// address still yields one usable candidate so the connection manager always
// has something to attempt.
package endpoint

import (
	"net/url"
	"strings"
)

// defaultBase is used when the configured base address cannot be parsed.
const defaultBase = "ws://localhost:8080"

// Resolve returns the candidate realtime endpoints for tenantID, most
// specific first: the tenant-scoped assistant path, a generic diagnostic
// path, then the versioned API-prefixed assistant path. The returned slice
// is freshly allocated per call; callers own it for the whole attempt cycle.
func Resolve(tenantID, baseAddress string) []string {
	base := wsBase(baseAddress)
	return []string{
		base + "/ws/assistant/" + tenantID,
		base + "/ws/test",
		base + "/api/v1/ws/assistant/" + tenantID,
	}
}

// wsBase converts an http(s) base address into its ws(s) counterpart,
// falling back to defaultBase when the input is empty or unparseable.
func wsBase(baseAddress string) string {
	if baseAddress == "" {
		return defaultBase
	}
	u, err := url.Parse(baseAddress)
	if err != nil || u.Host == "" {
		return defaultBase
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
