package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client address from the request: the
// first hop of X-Forwarded-For, then X-Real-IP, then RemoteAddr. The
// result is what rate limiting and session binding key on, so proxies
// in front of the server must strip these headers from clients.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
