package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cosmic-crm/token-service/internal/model"
	"github.com/cosmic-crm/token-service/internal/service"
)

type contextKey string

const tokenContextKey contextKey = "access_token"

// GetAccessToken extracts the authenticated access token from the request context.
func GetAccessToken(ctx context.Context) *model.AccessToken {
	token, _ := ctx.Value(tokenContextKey).(*model.AccessToken)
	return token
}

// WithAccessToken returns a context carrying the given token. Exposed for tests.
func WithAccessToken(ctx context.Context, token *model.AccessToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenAuth returns middleware that authenticates requests via Bearer token.
// Expired, revoked, inactive, and unknown credentials all produce the same
// 401 so an unauthenticated caller learns nothing about why it was rejected.
func TokenAuth(svc *service.TokenService, limiter *AttemptLimiter, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "token")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			presented := extractBearerToken(r)
			if presented == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				metrics.AuthFailure()
				respondError(w, http.StatusUnauthorized, "invalid_token", "Missing access token")
				return
			}

			token, err := svc.Verify(r.Context(), presented, time.Now().UTC())
			if err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				metrics.AuthFailure()
				service.RespondError(w, err)
				return
			}

			if !token.AllowsIP(clientIP(r)) {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				metrics.AuthFailure()
				respondError(w, http.StatusForbidden, "ip_not_allowed", "Client address is not on the token's allow-list")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			next.ServeHTTP(w, r.WithContext(WithAccessToken(r.Context(), token)))
		})
	}
}

// RequireScope returns middleware that rejects authenticated requests whose
// token lacks the given scope. admin:all always passes.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetAccessToken(r.Context())
			if token == nil {
				respondError(w, http.StatusUnauthorized, "invalid_token", "Missing access token")
				return
			}
			if !token.HasScope(scope) {
				respondError(w, http.StatusForbidden, "insufficient_scope", "Token does not have the required scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
