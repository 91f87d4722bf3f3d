// Package relay serves stream requests: it picks a provider, resolves the
// channel URL, fetches upstream, and escalates tiers on upstream failure.
package relay

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// forwardedHeaders are consulted in order; the first header carrying a valid
// address wins.
var forwardedHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"CF-Connecting-IP",
}

// ClientIP extracts the requesting client's IP. Forwarded headers take
// precedence over the socket address; X-Forwarded-For uses its first
// (leftmost) entry. Invalid header values are skipped.
func ClientIP(r *http.Request) string {
	for _, h := range forwardedHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if idx := strings.IndexByte(v, ','); idx >= 0 {
			v = v[:idx]
		}
		v = strings.TrimSpace(v)
		if addr, err := netip.ParseAddr(v); err == nil {
			return addr.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	return host
}

// DefaultUserID derives the fallback user identity for an IP with no
// explicit user.
func DefaultUserID(ip string) string {
	return "user_" + ip
}
