package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

type adminEmailKey struct{}

// GetAdminEmail extracts the authenticated admin email from the request context.
func GetAdminEmail(ctx context.Context) string {
	email, _ := ctx.Value(adminEmailKey{}).(string)
	return email
}

// IDClaims holds the verified claims from a Google ID token.
type IDClaims struct {
	Email         string
	EmailVerified bool
	HD            string
}

// ClaimsVerifier verifies an ID token and returns its claims.
type ClaimsVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error)
}

type googleClaimsVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *googleClaimsVerifier) VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		HD            string `json:"hd"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &IDClaims{
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		HD:            claims.HD,
	}, nil
}

// AdminAuth verifies Google ID tokens for the management endpoints and
// enforces domain + email allow-list restrictions.
type AdminAuth struct {
	verifier      ClaimsVerifier
	allowedDomain string
	allowedEmails map[string]struct{}
}

// NewAdminAuth creates an AdminAuth that verifies tokens against Google's
// JWKS. It must be called at server startup (it fetches Google's OIDC
// discovery document).
func NewAdminAuth(clientID, allowedDomain string, allowedEmails []string) (*AdminAuth, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("create Google OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewAdminAuthWithVerifier(&googleClaimsVerifier{verifier: verifier}, allowedDomain, allowedEmails), nil
}

// NewAdminAuthWithVerifier creates an AdminAuth with a custom ClaimsVerifier.
func NewAdminAuthWithVerifier(verifier ClaimsVerifier, allowedDomain string, allowedEmails []string) *AdminAuth {
	emailSet := make(map[string]struct{}, len(allowedEmails))
	for _, e := range allowedEmails {
		emailSet[e] = struct{}{}
	}

	return &AdminAuth{
		verifier:      verifier,
		allowedDomain: allowedDomain,
		allowedEmails: emailSet,
	}
}

// Middleware returns an http middleware that authenticates admin requests via
// Google ID tokens.
func (g *AdminAuth) Middleware(limiter *AttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "admin")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Missing authorization token")
				return
			}

			claims, err := g.verifier.VerifyClaims(r.Context(), token)
			if err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
				return
			}

			if !g.allowed(claims) {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusForbidden, "forbidden", "Account is not permitted to manage tokens")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			ctx := context.WithValue(r.Context(), adminEmailKey{}, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *AdminAuth) allowed(claims *IDClaims) bool {
	if !claims.EmailVerified {
		return false
	}
	if _, ok := g.allowedEmails[claims.Email]; ok {
		return true
	}
	return g.allowedDomain != "" && claims.HD == g.allowedDomain
}
