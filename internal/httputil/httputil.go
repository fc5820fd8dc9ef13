// Package httputil holds the HTTP helpers shared by the API and stream
// handlers: JSON responses and the client address used to key per-IP stream
// limits.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status code.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// ClientIP returns the address a request is attributed to. With trustProxy
// the leftmost parseable X-Forwarded-For entry wins, then X-Real-IP; header
// values that are not addresses are skipped. Otherwise, and as a fallback,
// the peer address is used.
//
// Addresses are returned in canonical form with IPv4-mapped IPv6 unmapped,
// so one client always lands on the same stream limiter key.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, entry := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip, ok := parseAddr(entry); ok {
				return ip
			}
		}
		if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseAddr(host); ok {
		return ip
	}
	return host
}

func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		// Some proxies forward host:port.
		ap, perr := netip.ParseAddrPort(s)
		if perr != nil {
			return "", false
		}
		addr = ap.Addr()
	}
	return addr.Unmap().WithZone("").String(), true
}
