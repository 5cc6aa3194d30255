// Package httputil resolves which client a request belongs to, for stream
// slot accounting and access logs.
package httputil

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/kalkan/srec/internal/config"
)

// Resolver maps a request to a canonical client address.
type Resolver struct {
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable it only
	// behind a reverse proxy that overwrites those headers.
	TrustProxy bool
}

// NewResolver builds a Resolver from the stream settings.
func NewResolver(cfg config.StreamConfig) Resolver {
	return Resolver{TrustProxy: cfg.TrustProxy}
}

// ClientIP returns the client address of r in canonical form: IPv4-mapped
// IPv6 addresses are unmapped and zones dropped, so "::ffff:10.0.0.1",
// "[::ffff:10.0.0.1]:80" and "10.0.0.1:9000" all yield "10.0.0.1".
//
// With TrustProxy the leftmost parseable X-Forwarded-For entry wins, then
// X-Real-IP. Entries that are not addresses are skipped. RemoteAddr is used
// last and may come with or without a port; if it is not an address at all
// it is returned trimmed so it still works as a key.
func (res Resolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		for _, entry := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if addr, ok := parseAddr(entry); ok {
				return addr.String()
			}
		}
		if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
	}
	if addr, ok := parseAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// parseAddr accepts "ip", "[ip]" and "ip:port" / "[ip]:port".
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return canonical(ap.Addr()), true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return canonical(addr), true
}

func canonical(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}
