package middleware

import (
	"net"
	"net/http"
	"strings"

	"portfolio-cms/backend/internal/security"
)

// ClientIP returns the caller address: CF-Connecting-IP, then X-Real-IP, then the
// first X-Forwarded-For entry, then the connection peer, else "unknown".
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// DeviceInfo builds the fingerprint input from request headers.
func DeviceInfo(r *http.Request, ip string) security.DeviceInfo {
	return security.DeviceInfo{
		UserAgent: r.Header.Get("User-Agent"),
		IP:        ip,
		Timezone:  r.Header.Get("X-Timezone"),
		Language:  r.Header.Get("Accept-Language"),
		Screen:    r.Header.Get("X-Screen-Resolution"),
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header, or "".
func BearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
