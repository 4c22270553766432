package model

import (
	"testing"
	"time"
)

func baseToken() *AccessToken {
	return &AccessToken{
		TokenID:      "API-20260512-0001",
		DisplayName:  "reporting integration",
		Scopes:       []string{ScopeReadProfile},
		Capabilities: DefaultCapabilities(),
		RateLimits:   DefaultRateLimits(),
		ExpiresAt:    time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
	}
}

func TestUsageRecordWithinSameMinute(t *testing.T) {
	var u Usage
	start := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

	u.Record(start)
	u.Record(start.Add(10 * time.Second))

	if u.ThisMinute != 2 {
		t.Fatalf("unexpected minute count: %d", u.ThisMinute)
	}
	if u.ThisHour != 2 || u.Today != 2 {
		t.Fatalf("unexpected hour/day counts: hour=%d day=%d", u.ThisHour, u.Today)
	}
	if u.TotalRequests != 2 {
		t.Fatalf("unexpected total: %d", u.TotalRequests)
	}
	if !u.MinuteResetAt.Equal(start) {
		t.Fatalf("minute reset timestamp moved within the window: %v", u.MinuteResetAt)
	}
}

func TestUsageRecordWindowBoundaries(t *testing.T) {
	t.Run("minute boundary resets only the minute counter", func(t *testing.T) {
		var u Usage
		start := time.Date(2026, 5, 12, 9, 30, 30, 0, time.UTC)

		u.Record(start)
		u.Record(start.Add(time.Minute))

		if u.ThisMinute != 1 {
			t.Fatalf("expected minute counter reset to 1, got %d", u.ThisMinute)
		}
		if u.ThisHour != 2 || u.Today != 2 {
			t.Fatalf("hour/day counters should not reset: hour=%d day=%d", u.ThisHour, u.Today)
		}
	})

	t.Run("one call per minute for 61 minutes resets the hour once", func(t *testing.T) {
		var u Usage
		start := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

		for i := 0; i <= 60; i++ {
			u.Record(start.Add(time.Duration(i) * time.Minute))
		}

		if u.TotalRequests != 61 {
			t.Fatalf("unexpected total: %d", u.TotalRequests)
		}
		if u.ThisMinute != 1 {
			t.Fatalf("expected minute counter at 1, got %d", u.ThisMinute)
		}
		// The hour boundary at 10:00 falls 30 calls in; the counter holds the
		// 31 calls from 10:00 through 10:30.
		if u.ThisHour != 31 {
			t.Fatalf("expected hour counter at 31, got %d", u.ThisHour)
		}
		if u.Today != 61 {
			t.Fatalf("day counter should not reset within the same day, got %d", u.Today)
		}
	})

	t.Run("day boundary resets all three", func(t *testing.T) {
		var u Usage
		beforeMidnight := time.Date(2026, 5, 12, 23, 59, 30, 0, time.UTC)
		afterMidnight := time.Date(2026, 5, 13, 0, 0, 30, 0, time.UTC)

		u.Record(beforeMidnight)
		u.Record(afterMidnight)

		if u.ThisMinute != 1 || u.ThisHour != 1 || u.Today != 1 {
			t.Fatalf("expected all window counters at 1: minute=%d hour=%d day=%d",
				u.ThisMinute, u.ThisHour, u.Today)
		}
		if u.TotalRequests != 2 {
			t.Fatalf("lifetime total must be monotonic, got %d", u.TotalRequests)
		}
	})
}

func TestRateLimitExceededOrdering(t *testing.T) {
	token := baseToken()
	token.RateLimits = RateLimits{PerMinute: 1, PerHour: 100, PerDay: 100}
	now := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

	token.Usage.Record(now)
	if reason, exceeded := token.RateLimitExceeded(); exceeded {
		t.Fatalf("first request should pass, got %q", reason)
	}

	token.Usage.Record(now.Add(time.Second))
	reason, exceeded := token.RateLimitExceeded()
	if !exceeded {
		t.Fatal("second request in the same minute should exceed the limit")
	}
	if reason != "per-minute limit exceeded" {
		t.Fatalf("expected the minute window to be reported first, got %q", reason)
	}
}

func TestRateLimitAdmitsExactlyLimitPerWindow(t *testing.T) {
	token := baseToken()
	token.RateLimits = RateLimits{PerMinute: 2, PerHour: 100, PerDay: 100}
	now := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		token.Usage.Record(now)
		if reason, exceeded := token.RateLimitExceeded(); exceeded {
			t.Fatalf("request %d should be admitted, got %q", i+1, reason)
		}
	}

	token.Usage.Record(now)
	if _, exceeded := token.RateLimitExceeded(); !exceeded {
		t.Fatal("third request should be rejected")
	}
	if token.Usage.TotalRequests != 3 {
		t.Fatalf("rejected requests must still be counted, got %d", token.Usage.TotalRequests)
	}
}

func TestUsable(t *testing.T) {
	now := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

	t.Run("active unrevoked unexpired", func(t *testing.T) {
		if !baseToken().Usable(now) {
			t.Fatal("expected token to be usable")
		}
	})

	t.Run("inactive", func(t *testing.T) {
		token := baseToken()
		token.IsActive = false
		if token.Usable(now) {
			t.Fatal("inactive token must not be usable")
		}
	})

	t.Run("revoked", func(t *testing.T) {
		token := baseToken()
		token.Revocation = &Revocation{RevokedAt: now, RevokedBy: "ops@cosmic.example", Reason: "leaked"}
		if token.Usable(now) {
			t.Fatal("revoked token must not be usable")
		}
	})

	t.Run("expired", func(t *testing.T) {
		token := baseToken()
		token.ExpiresAt = now
		if token.Usable(now) {
			t.Fatal("token is ineligible at its expiry instant")
		}
	})
}

func TestHasScope(t *testing.T) {
	t.Run("direct match", func(t *testing.T) {
		token := baseToken()
		if !token.HasScope(ScopeReadProfile) {
			t.Fatal("expected direct scope match")
		}
		if token.HasScope(ScopeWriteProfile) {
			t.Fatal("unexpected scope match")
		}
	})

	t.Run("admin override", func(t *testing.T) {
		token := baseToken()
		token.Scopes = []string{ScopeAdminAll}
		if !token.HasScope("read:users") {
			t.Fatal("admin:all must satisfy every scope check")
		}
	})
}

func TestHasCapability(t *testing.T) {
	token := baseToken()

	if !token.HasCapability("read") {
		t.Fatal("default capabilities include read")
	}
	if token.HasCapability("write") || token.HasCapability("delete") || token.HasCapability("admin") {
		t.Fatal("default capabilities are read-only")
	}
	if token.HasCapability("execute") {
		t.Fatal("unknown capability names must be false")
	}
}

func TestRestrictions(t *testing.T) {
	token := baseToken()

	t.Run("empty list allows all", func(t *testing.T) {
		if !token.AllowsIP("198.51.100.7") {
			t.Fatal("empty allow-list should admit any address")
		}
	})

	t.Run("allow-list enforced", func(t *testing.T) {
		token.IPRestrictions = []Restriction{{Value: "203.0.113.5", Description: "office"}}
		if !token.AllowsIP("203.0.113.5") {
			t.Fatal("listed address should be allowed")
		}
		if token.AllowsIP("198.51.100.7") {
			t.Fatal("unlisted address should be denied")
		}
	})

	t.Run("empty domain list allows all", func(t *testing.T) {
		if !token.AllowsDomain("anywhere.example") {
			t.Fatal("empty allow-list should admit any domain")
		}
	})

	t.Run("domain allow-list enforced", func(t *testing.T) {
		token.DomainRestrictions = []Restriction{{Value: "app.cosmic.example", Description: "web app"}}
		if !token.AllowsDomain("app.cosmic.example") {
			t.Fatal("listed domain should be allowed")
		}
		if token.AllowsDomain("evil.example") {
			t.Fatal("unlisted domain should be denied")
		}
	})
}

func TestRemaining(t *testing.T) {
	token := baseToken()
	token.RateLimits = RateLimits{PerMinute: 5, PerHour: 10, PerDay: 20}
	token.Usage.ThisMinute = 3
	token.Usage.ThisHour = 12
	token.Usage.Today = 20

	remaining := token.Remaining()
	if remaining.PerMinute != 2 {
		t.Fatalf("unexpected minute remaining: %d", remaining.PerMinute)
	}
	if remaining.PerHour != 0 {
		t.Fatalf("remaining must clamp at zero, got %d", remaining.PerHour)
	}
	if remaining.PerDay != 0 {
		t.Fatalf("unexpected day remaining: %d", remaining.PerDay)
	}
}
