package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/cosmic-crm/token-service/internal/model"
	"github.com/cosmic-crm/token-service/internal/store"
	"github.com/cosmic-crm/token-service/internal/validation"
)

const tokenIDDateLayout = "20060102"

// TokenService owns access-token business logic: issuance, verification,
// usage accounting, and lifecycle management.
type TokenService struct {
	store store.TokenStore
}

// NewTokenService creates a new token service.
func NewTokenService(s store.TokenStore) *TokenService {
	return &TokenService{store: s}
}

// CreateTokenInput contains the parameters for issuing a new access token.
type CreateTokenInput struct {
	OwnerID            uuid.UUID
	DisplayName        string
	Scopes             []string
	Capabilities       *model.Capabilities
	PerMinute          *int
	PerHour            *int
	PerDay             *int
	IPRestrictions     []model.Restriction
	DomainRestrictions []model.Restriction
	ExpiresAt          time.Time
	CreatedBy          string
}

// CreateTokenResult contains the output of a successful issuance. Plaintext is
// the only copy of the secret and is shown to the caller exactly once.
type CreateTokenResult struct {
	Token     *model.AccessToken
	Plaintext string
}

// Create validates input, allocates a daily-sequential identifier, generates
// the credential pair, and persists the token.
func (s *TokenService) Create(ctx context.Context, input CreateTokenInput) (*CreateTokenResult, error) {
	now := time.Now().UTC()

	if input.OwnerID == uuid.Nil {
		return nil, NewBadRequest("invalid_request", "owner_id is required")
	}
	if err := validation.DisplayName(input.DisplayName); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if err := validation.Scopes(input.Scopes); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if input.ExpiresAt.IsZero() {
		return nil, NewBadRequest("invalid_request", "expires_at is required")
	}
	if !input.ExpiresAt.After(now) {
		return nil, NewBadRequest("invalid_request", "expires_at must be in the future")
	}
	if err := validation.IPRestrictions(input.IPRestrictions); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if err := validation.DomainRestrictions(input.DomainRestrictions); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	limits := normalizeRateLimits(input.PerMinute, input.PerHour, input.PerDay)
	if err := validation.RateLimits(limits); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	capabilities := model.DefaultCapabilities()
	if input.Capabilities != nil {
		capabilities = *input.Capabilities
	}

	tokenID, err := s.nextTokenID(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to allocate token identifier")
		return nil, NewInternal("internal_error", "Failed to create access token")
	}

	credential, err := issueCredential()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate credential")
		return nil, NewInternal("internal_error", "Failed to create access token")
	}

	token := &model.AccessToken{
		TokenID:            tokenID,
		OwnerID:            input.OwnerID,
		DisplayName:        input.DisplayName,
		SecretHash:         credential.Hash,
		SecretPrefix:       credential.Prefix,
		Scopes:             input.Scopes,
		Capabilities:       capabilities,
		RateLimits:         limits,
		IPRestrictions:     input.IPRestrictions,
		DomainRestrictions: input.DomainRestrictions,
		ExpiresAt:          input.ExpiresAt,
		IsActive:           true,
		CreatedBy:          input.CreatedBy,
	}

	if err := s.store.CreateToken(ctx, token); err != nil {
		log.Error().Err(err).Msg("failed to create access token")
		return nil, NewInternal("internal_error", "Failed to create access token")
	}

	return &CreateTokenResult{Token: token, Plaintext: credential.Plaintext}, nil
}

// nextTokenID formats the daily-sequential identifier API-YYYYMMDD-NNNN. The
// sequence allocation is atomic in the store, so concurrent creations on the
// same day cannot collide.
func (s *TokenService) nextTokenID(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format(tokenIDDateLayout)
	seq, err := s.store.NextTokenSequence(ctx, day)
	if err != nil {
		return "", err
	}
	return FormatTokenID(day, seq), nil
}

// FormatTokenID renders a token identifier from its day string and sequence.
func FormatTokenID(day string, seq int) string {
	return fmt.Sprintf("API-%s-%04d", day, seq)
}

// Verify authenticates a presented bearer string. It derives the lookup
// prefix and comparison hash, fetches prefix candidates, compares hashes in
// constant time, and requires the match to be active, unrevoked, and
// unexpired. All failure causes collapse into the same not-found error so an
// unauthenticated caller cannot distinguish a wrong secret from a dead token.
func (s *TokenService) Verify(ctx context.Context, presented string, now time.Time) (*model.AccessToken, error) {
	prefix, hash, ok := splitPresented(presented)
	if !ok {
		return nil, NewUnauthorized("invalid_token", "Invalid access token")
	}

	candidates, err := s.store.GetTokensByPrefix(ctx, prefix)
	if err != nil {
		log.Error().Err(err).Msg("failed to look up token candidates")
		return nil, NewInternal("internal_error", "Failed to verify access token")
	}

	for _, token := range candidates {
		if hashEqual(token.SecretHash, hash) && token.Usable(now) {
			return token, nil
		}
	}
	return nil, NewUnauthorized("invalid_token", "Invalid access token")
}

// Request is the metadata recorded for each authenticated call.
type Request struct {
	Endpoint  string
	Method    string
	IP        string
	UserAgent string
}

// Admission is the rate-limit verdict handed back to the HTTP layer.
type Admission struct {
	Allowed bool
	Reason  string
}

// RecordAndCheck counts the request against the token's usage state and then
// evaluates rate-limit admission. Usage is recorded even for requests that
// end up rejected; the lifetime total is monotonic. The token's usage and
// last-activity fields are refreshed from the store's atomic update.
func (s *TokenService) RecordAndCheck(ctx context.Context, token *model.AccessToken, req Request, now time.Time) (Admission, error) {
	activity := model.Activity{
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Timestamp: now,
	}

	usage, err := s.store.RecordUsage(ctx, token.ID, activity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Admission{}, NewNotFound("not_found", "Access token not found")
		}
		log.Error().Err(err).Str("token_id", token.TokenID).Msg("failed to record token usage")
		return Admission{}, NewInternal("internal_error", "Failed to record usage")
	}

	token.Usage = *usage
	token.LastActivity = &activity

	if reason, exceeded := token.RateLimitExceeded(); exceeded {
		return Admission{Allowed: false, Reason: reason}, nil
	}
	return Admission{Allowed: true}, nil
}

// Revoke marks a token as revoked with the acting admin and a reason. The
// revocation fields are written exactly once; revoking an already revoked
// token only refreshes the audit trail.
func (s *TokenService) Revoke(ctx context.Context, id uuid.UUID, reason, actor string) (*model.AccessToken, error) {
	revocation := model.Revocation{
		RevokedAt: time.Now().UTC(),
		RevokedBy: actor,
		Reason:    reason,
	}

	if err := s.store.RevokeToken(ctx, id, revocation); err != nil {
		if err == pgx.ErrNoRows {
			return nil, NewNotFound("not_found", "Access token not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke access token")
		return nil, NewInternal("internal_error", "Failed to revoke access token")
	}

	token, err := s.store.GetTokenByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Access token not found")
	}
	return token, nil
}

// Update validates and applies partial updates to an existing token.
func (s *TokenService) Update(ctx context.Context, id uuid.UUID, updates store.TokenUpdates) (*model.AccessToken, error) {
	if updates.DisplayName != nil {
		if err := validation.DisplayName(*updates.DisplayName); err != nil {
			return nil, NewBadRequest("invalid_request", err.Error())
		}
	}
	if updates.Scopes != nil {
		if err := validation.Scopes(updates.Scopes); err != nil {
			return nil, NewBadRequest("invalid_request", err.Error())
		}
	}
	if updates.RateLimits != nil {
		if err := validation.RateLimits(*updates.RateLimits); err != nil {
			return nil, NewBadRequest("invalid_request", err.Error())
		}
	}
	if updates.IPRestrictions != nil {
		if err := validation.IPRestrictions(updates.IPRestrictions); err != nil {
			return nil, NewBadRequest("invalid_request", err.Error())
		}
	}
	if updates.DomainRestrictions != nil {
		if err := validation.DomainRestrictions(updates.DomainRestrictions); err != nil {
			return nil, NewBadRequest("invalid_request", err.Error())
		}
	}
	if updates.ExpiresAt != nil && !updates.ExpiresAt.After(time.Now().UTC()) {
		return nil, NewBadRequest("invalid_request", "expires_at must be in the future")
	}

	if err := s.store.UpdateToken(ctx, id, updates); err != nil {
		if err == pgx.ErrNoRows {
			return nil, NewNotFound("not_found", "Access token not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to update access token")
		return nil, NewInternal("internal_error", "Failed to update access token")
	}

	token, err := s.store.GetTokenByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Access token not found")
	}
	return token, nil
}

// Get fetches a token by record id.
func (s *TokenService) Get(ctx context.Context, id uuid.UUID) (*model.AccessToken, error) {
	token, err := s.store.GetTokenByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Access token not found")
	}
	return token, nil
}

// List pages through tokens, optionally filtered to one owner or to tokens
// that are currently usable. Results are newest-created first.
func (s *TokenService) List(ctx context.Context, filters store.TokenFilters) ([]*model.AccessToken, int, error) {
	tokens, total, err := s.store.ListTokens(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list access tokens")
		return nil, 0, NewInternal("internal_error", "Failed to list access tokens")
	}
	return tokens, total, nil
}

// ListForOwner returns all of an owner's tokens, newest first. With activeOnly
// set, only tokens that could authenticate a request right now are included.
// Pages through the store until the listing is exhausted.
func (s *TokenService) ListForOwner(ctx context.Context, ownerID uuid.UUID, activeOnly bool) ([]*model.AccessToken, error) {
	const pageSize = 100

	var out []*model.AccessToken
	for page := 1; ; page++ {
		tokens, total, err := s.List(ctx, store.TokenFilters{OwnerID: &ownerID, UsableOnly: activeOnly, Page: page, PerPage: pageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, tokens...)
		if len(tokens) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

// PurgeExpired deletes every token that is expired or revoked and returns the
// number removed. Intended as a periodic maintenance sweep.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := s.store.PurgeDeadTokens(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("failed to purge dead tokens")
		return 0, NewInternal("internal_error", "Failed to purge tokens")
	}
	if count > 0 {
		log.Info().Int64("purged", count).Msg("purged expired and revoked tokens")
	}
	return count, nil
}

func normalizeRateLimits(perMinute, perHour, perDay *int) model.RateLimits {
	limits := model.DefaultRateLimits()
	if perMinute != nil {
		limits.PerMinute = *perMinute
	}
	if perHour != nil {
		limits.PerHour = *perHour
	}
	if perDay != nil {
		limits.PerDay = *perDay
	}
	return limits
}
