package handler

import (
	"net/http"
	"time"

	"github.com/cosmic-crm/token-service/internal/middleware"
	"github.com/cosmic-crm/token-service/internal/model"
)

// UsageHandler lets an authenticated token inspect its own policy and
// current consumption. Reading usage does not consume a request.
type UsageHandler struct{}

func NewUsageHandler() *UsageHandler {
	return &UsageHandler{}
}

type UsageResponse struct {
	TokenID      string             `json:"token_id"`
	DisplayName  string             `json:"display_name"`
	Scopes       []string           `json:"scopes"`
	Capabilities model.Capabilities `json:"capabilities"`
	RateLimits   model.RateLimits   `json:"rate_limits"`
	Usage        model.Usage        `json:"usage"`
	Remaining    model.RateLimits   `json:"remaining"`
	ExpiresAt    string             `json:"expires_at"`
	IsActive     bool               `json:"is_active"`
	LastActivity *model.Activity    `json:"last_activity,omitempty"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetAccessToken(r.Context())
	if token == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_token", "Missing access token")
		return
	}

	RespondJSON(w, http.StatusOK, UsageResponse{
		TokenID:      token.TokenID,
		DisplayName:  token.DisplayName,
		Scopes:       token.Scopes,
		Capabilities: token.Capabilities,
		RateLimits:   token.RateLimits,
		Usage:        token.Usage,
		Remaining:    token.Remaining(),
		ExpiresAt:    token.ExpiresAt.Format(time.RFC3339),
		IsActive:     token.IsActive,
		LastActivity: token.LastActivity,
	})
}
