package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cosmic-crm/token-service/internal/service"
)

// UsageTracking returns middleware that records every authenticated request
// against the token's usage counters and enforces the three window limits.
// Recording always happens first; a rejected request still counts toward its
// windows and the lifetime total.
func UsageTracking(svc *service.TokenService, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetAccessToken(r.Context())
			if token == nil {
				next.ServeHTTP(w, r)
				return
			}

			req := service.Request{
				Endpoint:  r.URL.Path,
				Method:    r.Method,
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			}

			admission, err := svc.RecordAndCheck(r.Context(), token, req, time.Now().UTC())
			if err != nil {
				service.RespondError(w, err)
				return
			}

			remaining := token.Remaining()
			// The minute window is index-based, so the counter resets at the
			// next minute tick, not a full minute after the last reset.
			reset := token.Usage.MinuteResetAt.Truncate(time.Minute).Add(time.Minute)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(token.RateLimits.PerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining.PerMinute))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !admission.Allowed {
				metrics.RateLimitRejection()
				respondError(w, http.StatusTooManyRequests, "rate_limited", admission.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
