//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosmic-crm/token-service/internal/model"
)

func TestPostgresStoreTokenLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	token := integrationToken("API-20260512-0001")
	if err := pg.CreateToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if token.ID == uuid.Nil {
		t.Fatal("expected generated token ID")
	}

	byID, err := pg.GetTokenByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.TokenID != token.TokenID || byID.SecretHash != token.SecretHash {
		t.Fatalf("unexpected token from id lookup: %+v", byID)
	}
	if len(byID.Scopes) != 2 || byID.Scopes[0] != model.ScopeReadProfile {
		t.Fatalf("unexpected scopes round-trip: %v", byID.Scopes)
	}
	if !byID.Capabilities.Read || byID.Capabilities.Write {
		t.Fatalf("unexpected capabilities round-trip: %+v", byID.Capabilities)
	}

	byPrefix, err := pg.GetTokensByPrefix(ctx, token.SecretPrefix)
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if len(byPrefix) != 1 || byPrefix[0].ID != token.ID {
		t.Fatalf("unexpected prefix lookup result: %#v", byPrefix)
	}

	newName := "renamed integration token"
	active := false
	if err := pg.UpdateToken(ctx, token.ID, TokenUpdates{
		DisplayName: &newName,
		Scopes:      []string{model.ScopeWriteEnquiry},
		RateLimits:  &model.RateLimits{PerMinute: 5, PerHour: 50, PerDay: 500},
		IsActive:    &active,
	}); err != nil {
		t.Fatalf("update token: %v", err)
	}

	updated, err := pg.GetTokenByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("get updated token: %v", err)
	}
	if updated.DisplayName != newName {
		t.Fatalf("unexpected updated name: got %q want %q", updated.DisplayName, newName)
	}
	if updated.RateLimits.PerMinute != 5 || updated.IsActive {
		t.Fatalf("unexpected updated fields: %+v", updated)
	}
	if len(updated.Scopes) != 1 || updated.Scopes[0] != model.ScopeWriteEnquiry {
		t.Fatalf("unexpected updated scopes: %v", updated.Scopes)
	}

	// Dead tokens still resolve by prefix; rejection-cause uniformity is
	// decided above the store.
	byPrefix, err = pg.GetTokensByPrefix(ctx, token.SecretPrefix)
	if err != nil {
		t.Fatalf("get inactive token by prefix: %v", err)
	}
	if len(byPrefix) != 1 {
		t.Fatalf("inactive token must still be found by prefix, got %d rows", len(byPrefix))
	}

	if err := pg.UpdateToken(ctx, uuid.New(), TokenUpdates{DisplayName: &newName}); err != pgx.ErrNoRows {
		t.Fatalf("expected pgx.ErrNoRows for unknown id, got %v", err)
	}
}

func TestPostgresStoreRevokeIsWriteOnceIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	token := integrationToken("API-20260512-0002")
	if err := pg.CreateToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	first := model.Revocation{
		RevokedAt: time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC),
		RevokedBy: "ops@cosmic.example",
		Reason:    "credential leaked",
	}
	if err := pg.RevokeToken(ctx, token.ID, first); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	second := model.Revocation{
		RevokedAt: time.Date(2026, 5, 12, 11, 0, 0, 0, time.UTC),
		RevokedBy: "other@cosmic.example",
		Reason:    "different reason",
	}
	if err := pg.RevokeToken(ctx, token.ID, second); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	got, err := pg.GetTokenByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("get revoked token: %v", err)
	}
	if got.Revocation == nil {
		t.Fatal("expected revocation fields")
	}
	if !got.Revocation.RevokedAt.Equal(first.RevokedAt) || got.Revocation.RevokedBy != first.RevokedBy || got.Revocation.Reason != first.Reason {
		t.Fatalf("revocation fields must not change on repeat revoke: %+v", got.Revocation)
	}
	if got.UpdatedBy != second.RevokedBy {
		t.Fatalf("repeat revoke must still record the acting admin: %q", got.UpdatedBy)
	}
}

func TestPostgresStoreRecordUsageWindowsIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	token := integrationToken("API-20260512-0003")
	if err := pg.CreateToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	record := func(ts time.Time) *model.Usage {
		usage, err := pg.RecordUsage(ctx, token.ID, model.Activity{
			IP:        "203.0.113.5",
			UserAgent: "integration-test",
			Endpoint:  "/v1/usage",
			Method:    "GET",
			Timestamp: ts,
		})
		if err != nil {
			t.Fatalf("record usage at %v: %v", ts, err)
		}
		return usage
	}

	start := time.Date(2026, 5, 12, 9, 30, 10, 0, time.UTC)

	usage := record(start)
	if usage.ThisMinute != 1 || usage.ThisHour != 1 || usage.Today != 1 || usage.TotalRequests != 1 {
		t.Fatalf("unexpected counters after first request: %+v", usage)
	}

	usage = record(start.Add(20 * time.Second))
	if usage.ThisMinute != 2 {
		t.Fatalf("same-minute request must increment, got %d", usage.ThisMinute)
	}

	usage = record(start.Add(time.Minute))
	if usage.ThisMinute != 1 {
		t.Fatalf("minute boundary must reset the minute counter to 1, got %d", usage.ThisMinute)
	}
	if usage.ThisHour != 3 || usage.Today != 3 {
		t.Fatalf("hour/day counters must survive the minute boundary: %+v", usage)
	}

	usage = record(start.Add(25 * time.Hour))
	if usage.ThisMinute != 1 || usage.ThisHour != 1 || usage.Today != 1 {
		t.Fatalf("day boundary must reset all window counters: %+v", usage)
	}
	if usage.TotalRequests != 4 {
		t.Fatalf("lifetime total must be monotonic, got %d", usage.TotalRequests)
	}

	got, err := pg.GetTokenByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.LastActivity == nil || got.LastActivity.IP != "203.0.113.5" || got.LastActivity.Endpoint != "/v1/usage" {
		t.Fatalf("unexpected last activity snapshot: %+v", got.LastActivity)
	}

	if _, err := pg.RecordUsage(ctx, uuid.New(), model.Activity{Timestamp: start}); err != pgx.ErrNoRows {
		t.Fatalf("expected pgx.ErrNoRows for unknown id, got %v", err)
	}
}

func TestPostgresStoreTokenSequenceIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	for want := 1; want <= 3; want++ {
		seq, err := pg.NextTokenSequence(ctx, "20260512")
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if seq != want {
			t.Fatalf("unexpected sequence: got %d want %d", seq, want)
		}
	}

	seq, err := pg.NextTokenSequence(ctx, "20260513")
	if err != nil {
		t.Fatalf("next sequence for new day: %v", err)
	}
	if seq != 1 {
		t.Fatalf("new day must start at 1, got %d", seq)
	}
}

func TestPostgresStoreListAndPurgeIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	ownerID := uuid.New()
	now := time.Now().UTC()

	live := integrationToken("API-20260512-0004")
	live.OwnerID = ownerID
	if err := pg.CreateToken(ctx, live); err != nil {
		t.Fatalf("create live token: %v", err)
	}

	expired := integrationToken("API-20260512-0005")
	expired.OwnerID = ownerID
	expired.ExpiresAt = now.Add(-time.Hour)
	if err := pg.CreateToken(ctx, expired); err != nil {
		t.Fatalf("create expired token: %v", err)
	}

	revoked := integrationToken("API-20260512-0006")
	if err := pg.CreateToken(ctx, revoked); err != nil {
		t.Fatalf("create revoked token: %v", err)
	}
	if err := pg.RevokeToken(ctx, revoked.ID, model.Revocation{RevokedAt: now, RevokedBy: "ops@cosmic.example", Reason: "rotated"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	tokens, total, err := pg.ListTokens(ctx, TokenFilters{OwnerID: &ownerID, Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if total != 2 || len(tokens) != 2 {
		t.Fatalf("unexpected owner listing: total=%d len=%d", total, len(tokens))
	}
	if tokens[0].CreatedAt.Before(tokens[1].CreatedAt) {
		t.Fatal("listing must be newest-first")
	}

	tokens, total, err = pg.ListTokens(ctx, TokenFilters{OwnerID: &ownerID, UsableOnly: true, Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("list usable by owner: %v", err)
	}
	if total != 1 || len(tokens) != 1 || tokens[0].ID != live.ID {
		t.Fatalf("usable filter must exclude the expired token: total=%d", total)
	}

	purged, err := pg.PurgeDeadTokens(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged tokens, got %d", purged)
	}

	if _, err := pg.GetTokenByID(ctx, live.ID); err != nil {
		t.Fatalf("live token must survive the purge: %v", err)
	}
	if _, err := pg.GetTokenByID(ctx, expired.ID); err != pgx.ErrNoRows {
		t.Fatalf("expected expired token to be gone, got %v", err)
	}
}

func integrationToken(tokenID string) *model.AccessToken {
	secret := uuid.NewString() + uuid.NewString()
	return &model.AccessToken{
		TokenID:      tokenID,
		OwnerID:      uuid.New(),
		DisplayName:  fmt.Sprintf("integration %s", tokenID),
		SecretHash:   fmt.Sprintf("hash-%s", secret),
		SecretPrefix: secret[:8],
		Scopes:       []string{model.ScopeReadProfile, model.ScopeReadTask},
		Capabilities: model.DefaultCapabilities(),
		RateLimits:   model.DefaultRateLimits(),
		ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		IsActive:     true,
		CreatedBy:    "admin@cosmic.example",
	}
}

func setupIntegrationStore(t *testing.T) *Postgres {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	migrationsDir := repoMigrationsDir(t)
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		t.Fatalf("init migrate: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply migrations: %v", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		t.Fatalf("close migrator: source=%v database=%v", srcErr, dbErr)
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("ping pg: %v", err)
	}

	if _, err := pool.Exec(context.Background(), `TRUNCATE TABLE access_tokens, token_sequences RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewPostgres(pool)
}

func repoMigrationsDir(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve test file path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return filepath.Join(root, "migrations")
}
