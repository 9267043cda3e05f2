// Package identity derives the stable client key used to attribute quota
// and rate-limit usage to a caller.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest resolves the client identity for an inbound request. The
// first X-Forwarded-For hop wins, then X-Real-IP, then the connection's
// remote address.
func FromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
