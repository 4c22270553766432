package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cosmic-crm/token-service/internal/model"
)

func (p *Postgres) CreateToken(ctx context.Context, token *model.AccessToken) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	ipRestrictions, err := marshalRestrictions(token.IPRestrictions)
	if err != nil {
		return fmt.Errorf("marshal ip_restrictions: %w", err)
	}
	domainRestrictions, err := marshalRestrictions(token.DomainRestrictions)
	if err != nil {
		return fmt.Errorf("marshal domain_restrictions: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO access_tokens (
			token_id, owner_id, display_name, secret_hash, secret_prefix,
			scopes, cap_read, cap_write, cap_delete, cap_admin,
			limit_per_minute, limit_per_hour, limit_per_day,
			ip_restrictions, domain_restrictions,
			expires_at, is_active, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING id, created_at, updated_at
	`,
		token.TokenID, token.OwnerID, token.DisplayName, token.SecretHash, token.SecretPrefix,
		scopes, token.Capabilities.Read, token.Capabilities.Write, token.Capabilities.Delete, token.Capabilities.Admin,
		token.RateLimits.PerMinute, token.RateLimits.PerHour, token.RateLimits.PerDay,
		ipRestrictions, domainRestrictions,
		token.ExpiresAt, token.IsActive, token.CreatedBy,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert access_token: %w", err)
	}
	return nil
}

const tokenColumns = `id, token_id, owner_id, display_name, secret_hash, secret_prefix,
	scopes, cap_read, cap_write, cap_delete, cap_admin,
	limit_per_minute, limit_per_hour, limit_per_day,
	total_requests, last_used_at, minute_count, hour_count, day_count,
	minute_reset_at, hour_reset_at, day_reset_at,
	ip_restrictions, domain_restrictions,
	expires_at, is_active, revoked_at, revoked_by, revocation_reason,
	last_ip, last_user_agent, last_endpoint, last_method, last_seen_at,
	is_suspicious, failed_attempts, last_failed_attempt, blocked_until,
	created_at, updated_at, created_by, updated_by`

func (p *Postgres) GetTokenByID(ctx context.Context, id uuid.UUID) (*model.AccessToken, error) {
	return p.scanToken(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE id = $1`, id)
}

// GetTokensByPrefix returns every token whose secret shares the 8-character
// lookup prefix, regardless of usability. The caller is responsible for the
// hash comparison and usability filtering so that all rejection causes stay
// indistinguishable.
func (p *Postgres) GetTokensByPrefix(ctx context.Context, prefix string) ([]*model.AccessToken, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE secret_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query tokens by prefix: %w", err)
	}
	defer rows.Close()

	var tokens []*model.AccessToken
	for rows.Next() {
		token, err := scanTokenFromRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (p *Postgres) ListTokens(ctx context.Context, filters TokenFilters) ([]*model.AccessToken, int, error) {
	where, args := buildTokenFilter(filters)

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM access_tokens`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access_tokens: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`SELECT %s FROM access_tokens%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		tokenColumns, where, len(args)+1, len(args)+2)
	rows, err := p.pool.Query(ctx, query, append(args, perPage, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list access_tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.AccessToken
	for rows.Next() {
		token, err := scanTokenFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		tokens = append(tokens, token)
	}
	return tokens, total, rows.Err()
}

func buildTokenFilter(filters TokenFilters) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}

	if filters.OwnerID != nil {
		args = append(args, *filters.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filters.UsableOnly {
		clauses = append(clauses, "is_active AND revoked_at IS NULL AND expires_at > NOW()")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (p *Postgres) CountTokens(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM access_tokens`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count access_tokens: %w", err)
	}
	return count, nil
}

func (p *Postgres) UpdateToken(ctx context.Context, id uuid.UUID, updates TokenUpdates) error {
	setClauses := []string{}
	args := []interface{}{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf(clause, len(args)))
	}

	if updates.DisplayName != nil {
		add("display_name = $%d", *updates.DisplayName)
	}
	if updates.Scopes != nil {
		scopes, err := json.Marshal(updates.Scopes)
		if err != nil {
			return fmt.Errorf("marshal scopes: %w", err)
		}
		add("scopes = $%d", scopes)
	}
	if updates.Capabilities != nil {
		add("cap_read = $%d", updates.Capabilities.Read)
		add("cap_write = $%d", updates.Capabilities.Write)
		add("cap_delete = $%d", updates.Capabilities.Delete)
		add("cap_admin = $%d", updates.Capabilities.Admin)
	}
	if updates.RateLimits != nil {
		add("limit_per_minute = $%d", updates.RateLimits.PerMinute)
		add("limit_per_hour = $%d", updates.RateLimits.PerHour)
		add("limit_per_day = $%d", updates.RateLimits.PerDay)
	}
	if updates.IPRestrictions != nil {
		restrictions, err := marshalRestrictions(updates.IPRestrictions)
		if err != nil {
			return fmt.Errorf("marshal ip_restrictions: %w", err)
		}
		add("ip_restrictions = $%d", restrictions)
	}
	if updates.DomainRestrictions != nil {
		restrictions, err := marshalRestrictions(updates.DomainRestrictions)
		if err != nil {
			return fmt.Errorf("marshal domain_restrictions: %w", err)
		}
		add("domain_restrictions = $%d", restrictions)
	}
	if updates.ExpiresAt != nil {
		add("expires_at = $%d", *updates.ExpiresAt)
	}
	if updates.IsActive != nil {
		add("is_active = $%d", *updates.IsActive)
	}
	if updates.UpdatedBy != nil {
		add("updated_by = $%d", *updates.UpdatedBy)
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE access_tokens SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), len(args))

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update access_token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RevokeToken sets the revocation fields exactly once. A repeat call leaves
// the original revocation untouched but still records the acting admin.
func (p *Postgres) RevokeToken(ctx context.Context, id uuid.UUID, revocation model.Revocation) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE access_tokens SET
			revoked_at = COALESCE(revoked_at, $2),
			revoked_by = COALESCE(revoked_by, $3),
			revocation_reason = COALESCE(revocation_reason, $4),
			updated_by = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, revocation.RevokedAt, revocation.RevokedBy, revocation.Reason)
	if err != nil {
		return fmt.Errorf("revoke access_token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecordUsage advances the lifetime counter, applies the conditional
// window resets, increments the three window counters, and overwrites the
// last-activity snapshot, all in a single statement so concurrent requests
// against the same token cannot lose updates. Window membership is
// floor(epoch / window-seconds), matching model.Usage.Record.
func (p *Postgres) RecordUsage(ctx context.Context, id uuid.UUID, activity model.Activity) (*model.Usage, error) {
	usage := &model.Usage{}
	err := p.pool.QueryRow(ctx, `
		UPDATE access_tokens SET
			total_requests = total_requests + 1,
			last_used_at = $2,
			minute_count = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 60) > floor(extract(epoch FROM minute_reset_at) / 60)
				THEN 1 ELSE minute_count + 1 END,
			minute_reset_at = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 60) > floor(extract(epoch FROM minute_reset_at) / 60)
				THEN $2 ELSE minute_reset_at END,
			hour_count = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 3600) > floor(extract(epoch FROM hour_reset_at) / 3600)
				THEN 1 ELSE hour_count + 1 END,
			hour_reset_at = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 3600) > floor(extract(epoch FROM hour_reset_at) / 3600)
				THEN $2 ELSE hour_reset_at END,
			day_count = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 86400) > floor(extract(epoch FROM day_reset_at) / 86400)
				THEN 1 ELSE day_count + 1 END,
			day_reset_at = CASE WHEN floor(extract(epoch FROM $2::timestamptz) / 86400) > floor(extract(epoch FROM day_reset_at) / 86400)
				THEN $2 ELSE day_reset_at END,
			last_ip = $3, last_user_agent = $4, last_endpoint = $5, last_method = $6, last_seen_at = $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING total_requests, last_used_at, minute_count, hour_count, day_count,
			minute_reset_at, hour_reset_at, day_reset_at
	`, id, activity.Timestamp, activity.IP, activity.UserAgent, activity.Endpoint, activity.Method).Scan(
		&usage.TotalRequests, &usage.LastUsedAt,
		&usage.ThisMinute, &usage.ThisHour, &usage.Today,
		&usage.MinuteResetAt, &usage.HourResetAt, &usage.DayResetAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return usage, nil
}

// NextTokenSequence atomically allocates the next per-day identifier sequence.
// The upsert makes concurrent creations on the same day yield distinct values.
func (p *Postgres) NextTokenSequence(ctx context.Context, day string) (int, error) {
	var seq int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO token_sequences (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = token_sequences.seq + 1
		RETURNING seq
	`, day).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next token sequence: %w", err)
	}
	return seq, nil
}

// PurgeDeadTokens deletes every expired or revoked token.
func (p *Postgres) PurgeDeadTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM access_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purge access_tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) scanToken(ctx context.Context, query string, args ...interface{}) (*model.AccessToken, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access_token: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, pgx.ErrNoRows
	}
	return scanTokenFromRow(rows)
}

func scanTokenFromRow(rows pgx.Rows) (*model.AccessToken, error) {
	var token model.AccessToken
	var scopesJSON, ipJSON, domainJSON []byte
	var revokedAt *time.Time
	var revokedBy, revocationReason *string
	var lastIP, lastUserAgent, lastEndpoint, lastMethod *string
	var lastSeenAt *time.Time
	var createdBy, updatedBy *string

	err := rows.Scan(
		&token.ID, &token.TokenID, &token.OwnerID, &token.DisplayName,
		&token.SecretHash, &token.SecretPrefix,
		&scopesJSON, &token.Capabilities.Read, &token.Capabilities.Write,
		&token.Capabilities.Delete, &token.Capabilities.Admin,
		&token.RateLimits.PerMinute, &token.RateLimits.PerHour, &token.RateLimits.PerDay,
		&token.Usage.TotalRequests, &token.Usage.LastUsedAt,
		&token.Usage.ThisMinute, &token.Usage.ThisHour, &token.Usage.Today,
		&token.Usage.MinuteResetAt, &token.Usage.HourResetAt, &token.Usage.DayResetAt,
		&ipJSON, &domainJSON,
		&token.ExpiresAt, &token.IsActive,
		&revokedAt, &revokedBy, &revocationReason,
		&lastIP, &lastUserAgent, &lastEndpoint, &lastMethod, &lastSeenAt,
		&token.SecurityFlags.IsSuspicious, &token.SecurityFlags.FailedAttempts,
		&token.SecurityFlags.LastFailedAttempt, &token.SecurityFlags.BlockedUntil,
		&token.CreatedAt, &token.UpdatedAt, &createdBy, &updatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("scan access_token: %w", err)
	}

	if err := json.Unmarshal(scopesJSON, &token.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if token.IPRestrictions, err = unmarshalRestrictions(ipJSON); err != nil {
		return nil, fmt.Errorf("unmarshal ip_restrictions: %w", err)
	}
	if token.DomainRestrictions, err = unmarshalRestrictions(domainJSON); err != nil {
		return nil, fmt.Errorf("unmarshal domain_restrictions: %w", err)
	}

	if revokedAt != nil {
		token.Revocation = &model.Revocation{RevokedAt: *revokedAt}
		if revokedBy != nil {
			token.Revocation.RevokedBy = *revokedBy
		}
		if revocationReason != nil {
			token.Revocation.Reason = *revocationReason
		}
	}

	if lastSeenAt != nil {
		token.LastActivity = &model.Activity{Timestamp: *lastSeenAt}
		if lastIP != nil {
			token.LastActivity.IP = *lastIP
		}
		if lastUserAgent != nil {
			token.LastActivity.UserAgent = *lastUserAgent
		}
		if lastEndpoint != nil {
			token.LastActivity.Endpoint = *lastEndpoint
		}
		if lastMethod != nil {
			token.LastActivity.Method = *lastMethod
		}
	}

	if createdBy != nil {
		token.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		token.UpdatedBy = *updatedBy
	}

	return &token, nil
}

func marshalRestrictions(list []model.Restriction) ([]byte, error) {
	if list == nil {
		return nil, nil
	}
	return json.Marshal(list)
}

func unmarshalRestrictions(raw []byte) ([]model.Restriction, error) {
	if raw == nil {
		return nil, nil
	}
	var list []model.Restriction
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}
