package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientOrigin is the key a session is bound to: the client IP without port.
// Behind chi's RealIP middleware RemoteAddr already holds the forwarded address.
func ClientOrigin(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
