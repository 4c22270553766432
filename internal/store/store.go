package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cosmic-crm/token-service/internal/model"
)

// TokenStore defines persistence operations for access tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, token *model.AccessToken) error
	GetTokenByID(ctx context.Context, id uuid.UUID) (*model.AccessToken, error)
	GetTokensByPrefix(ctx context.Context, prefix string) ([]*model.AccessToken, error)
	ListTokens(ctx context.Context, filters TokenFilters) ([]*model.AccessToken, int, error)
	CountTokens(ctx context.Context) (int, error)
	UpdateToken(ctx context.Context, id uuid.UUID, updates TokenUpdates) error
	RevokeToken(ctx context.Context, id uuid.UUID, revocation model.Revocation) error
	RecordUsage(ctx context.Context, id uuid.UUID, activity model.Activity) (*model.Usage, error)
	NextTokenSequence(ctx context.Context, day string) (int, error)
	PurgeDeadTokens(ctx context.Context, now time.Time) (int64, error)
}

// TokenUpdates carries partial updates; nil fields are left untouched.
type TokenUpdates struct {
	DisplayName        *string             `json:"display_name,omitempty"`
	Scopes             []string            `json:"scopes,omitempty"`
	Capabilities       *model.Capabilities `json:"capabilities,omitempty"`
	RateLimits         *model.RateLimits   `json:"rate_limits,omitempty"`
	IPRestrictions     []model.Restriction `json:"ip_restrictions,omitempty"`
	DomainRestrictions []model.Restriction `json:"domain_restrictions,omitempty"`
	ExpiresAt          *time.Time          `json:"expires_at,omitempty"`
	IsActive           *bool               `json:"is_active,omitempty"`
	UpdatedBy          *string             `json:"updated_by,omitempty"`
}

// TokenFilters narrows and pages token listings.
type TokenFilters struct {
	OwnerID    *uuid.UUID
	UsableOnly bool
	Page       int
	PerPage    int
}
