package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cosmic-crm/token-service/internal/handler"
	"github.com/cosmic-crm/token-service/internal/httputil"
	"github.com/cosmic-crm/token-service/internal/middleware"
	"github.com/cosmic-crm/token-service/internal/model"
	"github.com/cosmic-crm/token-service/internal/service"
	"github.com/cosmic-crm/token-service/internal/store"
)

// --- List Tokens ---

type ListTokensHandler struct {
	svc *service.TokenService
}

func NewListTokensHandler(svc *service.TokenService) *ListTokensHandler {
	return &ListTokensHandler{svc: svc}
}

type listTokensResponse struct {
	Tokens  []tokenListItem `json:"tokens"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

type tokenListItem struct {
	ID           uuid.UUID          `json:"id"`
	TokenID      string             `json:"token_id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	DisplayName  string             `json:"display_name"`
	SecretPrefix string             `json:"secret_prefix"`
	Scopes       []string           `json:"scopes"`
	Capabilities model.Capabilities `json:"capabilities"`
	RateLimits   model.RateLimits   `json:"rate_limits"`
	Usage        model.Usage        `json:"usage"`
	ExpiresAt    string             `json:"expires_at"`
	IsActive     bool               `json:"is_active"`
	Revocation   *model.Revocation  `json:"revocation,omitempty"`
	CreatedAt    string             `json:"created_at"`
	CreatedBy    string             `json:"created_by,omitempty"`
}

func (h *ListTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.TokenFilters{Page: page, PerPage: perPage}
	if ownerStr := r.URL.Query().Get("owner_id"); ownerStr != "" {
		ownerID, err := uuid.Parse(ownerStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid owner_id")
			return
		}
		filters.OwnerID = &ownerID
	}
	filters.UsableOnly = r.URL.Query().Get("active") == "true"

	tokens, total, err := h.svc.List(r.Context(), filters)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	items := make([]tokenListItem, 0, len(tokens))
	for _, token := range tokens {
		items = append(items, toTokenListItem(token))
	}

	handler.RespondJSON(w, http.StatusOK, listTokensResponse{
		Tokens:  items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Get Token ---

type GetTokenHandler struct {
	svc *service.TokenService
}

func NewGetTokenHandler(svc *service.TokenService) *GetTokenHandler {
	return &GetTokenHandler{svc: svc}
}

func (h *GetTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid token ID")
		return
	}

	token, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toTokenListItem(token))
}

// --- Create Token ---

type CreateTokenHandler struct {
	svc *service.TokenService
}

func NewCreateTokenHandler(svc *service.TokenService) *CreateTokenHandler {
	return &CreateTokenHandler{svc: svc}
}

type createTokenRequest struct {
	OwnerID            uuid.UUID           `json:"owner_id"`
	DisplayName        string              `json:"display_name"`
	Scopes             []string            `json:"scopes"`
	Capabilities       *model.Capabilities `json:"capabilities,omitempty"`
	RateLimits         *rateLimitsJSON     `json:"rate_limits,omitempty"`
	IPRestrictions     []model.Restriction `json:"ip_restrictions,omitempty"`
	DomainRestrictions []model.Restriction `json:"domain_restrictions,omitempty"`
	ExpiresAt          time.Time           `json:"expires_at"`
}

type rateLimitsJSON struct {
	PerMinute *int `json:"per_minute,omitempty"`
	PerHour   *int `json:"per_hour,omitempty"`
	PerDay    *int `json:"per_day,omitempty"`
}

type createTokenResponse struct {
	ID           uuid.UUID          `json:"id"`
	TokenID      string             `json:"token_id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	DisplayName  string             `json:"display_name"`
	AccessToken  string             `json:"access_token"`
	SecretPrefix string             `json:"secret_prefix"`
	Scopes       []string           `json:"scopes"`
	Capabilities model.Capabilities `json:"capabilities"`
	RateLimits   model.RateLimits   `json:"rate_limits"`
	ExpiresAt    string             `json:"expires_at"`
	CreatedAt    string             `json:"created_at"`
}

func (h *CreateTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	input := service.CreateTokenInput{
		OwnerID:            req.OwnerID,
		DisplayName:        req.DisplayName,
		Scopes:             req.Scopes,
		Capabilities:       req.Capabilities,
		IPRestrictions:     req.IPRestrictions,
		DomainRestrictions: req.DomainRestrictions,
		ExpiresAt:          req.ExpiresAt,
		CreatedBy:          middleware.GetAdminEmail(r.Context()),
	}
	if req.RateLimits != nil {
		input.PerMinute = req.RateLimits.PerMinute
		input.PerHour = req.RateLimits.PerHour
		input.PerDay = req.RateLimits.PerDay
	}

	result, err := h.svc.Create(r.Context(), input)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	// The plaintext secret appears in this response and nowhere else.
	handler.RespondJSON(w, http.StatusCreated, createTokenResponse{
		ID:           result.Token.ID,
		TokenID:      result.Token.TokenID,
		OwnerID:      result.Token.OwnerID,
		DisplayName:  result.Token.DisplayName,
		AccessToken:  result.Plaintext,
		SecretPrefix: result.Token.SecretPrefix,
		Scopes:       result.Token.Scopes,
		Capabilities: result.Token.Capabilities,
		RateLimits:   result.Token.RateLimits,
		ExpiresAt:    result.Token.ExpiresAt.Format(time.RFC3339),
		CreatedAt:    result.Token.CreatedAt.Format(time.RFC3339),
	})
}

// --- Update Token ---

type UpdateTokenHandler struct {
	svc *service.TokenService
}

func NewUpdateTokenHandler(svc *service.TokenService) *UpdateTokenHandler {
	return &UpdateTokenHandler{svc: svc}
}

func (h *UpdateTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid token ID")
		return
	}

	var updates store.TokenUpdates
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&updates); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	admin := middleware.GetAdminEmail(r.Context())
	updates.UpdatedBy = &admin

	token, err := h.svc.Update(r.Context(), id, updates)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toTokenListItem(token))
}

// --- Revoke Token ---

type RevokeTokenHandler struct {
	svc *service.TokenService
}

func NewRevokeTokenHandler(svc *service.TokenService) *RevokeTokenHandler {
	return &RevokeTokenHandler{svc: svc}
}

type revokeTokenRequest struct {
	Reason string `json:"reason"`
}

func (h *RevokeTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid token ID")
		return
	}

	var req revokeTokenRequest
	if r.Body != nil {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			req.Reason = ""
		}
	}

	token, err := h.svc.Revoke(r.Context(), id, req.Reason, middleware.GetAdminEmail(r.Context()))
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":         token.ID,
		"token_id":   token.TokenID,
		"revocation": token.Revocation,
	})
}

// --- Purge Tokens ---

type PurgeTokensHandler struct {
	svc *service.TokenService
}

func NewPurgeTokensHandler(svc *service.TokenService) *PurgeTokensHandler {
	return &PurgeTokensHandler{svc: svc}
}

func (h *PurgeTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.PurgeExpired(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().Int64("purged", count).Str("admin", middleware.GetAdminEmail(r.Context())).Msg("manual token purge")
	handler.RespondJSON(w, http.StatusOK, map[string]int64{"purged": count})
}

// --- Helpers ---

func toTokenListItem(token *model.AccessToken) tokenListItem {
	return tokenListItem{
		ID:           token.ID,
		TokenID:      token.TokenID,
		OwnerID:      token.OwnerID,
		DisplayName:  token.DisplayName,
		SecretPrefix: token.SecretPrefix,
		Scopes:       token.Scopes,
		Capabilities: token.Capabilities,
		RateLimits:   token.RateLimits,
		Usage:        token.Usage,
		ExpiresAt:    token.ExpiresAt.Format(time.RFC3339),
		IsActive:     token.IsActive,
		Revocation:   token.Revocation,
		CreatedAt:    token.CreatedAt.Format(time.RFC3339),
		CreatedBy:    token.CreatedBy,
	}
}
