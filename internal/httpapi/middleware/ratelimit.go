package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/ratelimit"
)

// Allower is a keyed rate limiter.
type Allower interface {
	Allow(key string) (bool, time.Duration)
}

// RateLimit rejects clients, keyed by IP and User-Agent, that exceed limiter's
// rule with 429 and a Retry-After header in whole seconds.
func RateLimit(limiter Allower, scope string, events audit.EventLogger, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = audit.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ua := r.Header.Get("User-Agent")
			ok, wait := limiter.Allow(ratelimit.ClientKey(ip, ua))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			retry := int(math.Ceil(wait.Seconds()))
			if retry < 1 {
				retry = 1
			}
			logger.Warn("rate limit exceeded",
				zap.String("scope", scope),
				zap.String("ip", ip),
				zap.Int("retry_after", retry))
			events.LogEvent(r.Context(), audit.Event{
				Type:      domain.EventRateLimited,
				IP:        ip,
				UserAgent: ua,
				Metadata:  map[string]any{"scope": scope, "path": r.URL.Path},
			})
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			WriteError(w, http.StatusTooManyRequests, MsgTooManyRequest)
		})
	}
}
