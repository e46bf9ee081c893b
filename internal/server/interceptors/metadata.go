package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"portfolio-cms/backend/internal/security"
)

const bearerPrefix = "bearer "

// first returns the first non-empty value of key in the incoming metadata.
func first(md metadata.MD, key string) string {
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ClientIP returns the client IP from gRPC metadata (cf-connecting-ip, x-real-ip,
// x-forwarded-for) or the peer address, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md, "cf-connecting-ip"); v != "" {
			return v
		}
		if v := first(md, "x-real-ip"); v != "" {
			return v
		}
		if v := first(md, "x-forwarded-for"); v != "" {
			s, _, _ := strings.Cut(v, ",")
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

// DeviceInfo builds the fingerprint input from the same headers the HTTP API reads.
func DeviceInfo(ctx context.Context, ip string) security.DeviceInfo {
	info := security.DeviceInfo{IP: ip}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return info
	}
	info.UserAgent = first(md, "user-agent")
	info.Timezone = first(md, "x-timezone")
	info.Language = first(md, "accept-language")
	info.Screen = first(md, "x-screen-resolution")
	return info
}

// BearerToken returns the Bearer token from ctx metadata, or "" if missing or malformed.
func BearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	v := first(md, "authorization")
	if len(v) <= len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
