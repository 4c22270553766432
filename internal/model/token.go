package model

import (
	"time"

	"github.com/google/uuid"
)

// Scopes a token may carry. ScopeAdminAll implicitly satisfies every scope check.
const (
	ScopeReadProfile        = "read:profile"
	ScopeWriteProfile       = "write:profile"
	ScopeReadEnquiry        = "read:enquiry"
	ScopeWriteEnquiry       = "write:enquiry"
	ScopeReadTask           = "read:task"
	ScopeWriteTask          = "write:task"
	ScopeReadCommunication  = "read:communication"
	ScopeWriteCommunication = "write:communication"
	ScopeAdminAll           = "admin:all"
)

// SupportedScopes returns the fixed scope enumeration.
func SupportedScopes() []string {
	return []string{
		ScopeReadProfile, ScopeWriteProfile,
		ScopeReadEnquiry, ScopeWriteEnquiry,
		ScopeReadTask, ScopeWriteTask,
		ScopeReadCommunication, ScopeWriteCommunication,
		ScopeAdminAll,
	}
}

// Capabilities are four independent coarse-grained switches, checked by name.
type Capabilities struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
	Admin  bool `json:"admin"`
}

// DefaultCapabilities is the capability set assigned at creation.
func DefaultCapabilities() Capabilities {
	return Capabilities{Read: true}
}

// RateLimits holds the three admission thresholds.
type RateLimits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// DefaultRateLimits returns the thresholds assigned when the caller provides none.
func DefaultRateLimits() RateLimits {
	return RateLimits{PerMinute: 60, PerHour: 1000, PerDay: 10000}
}

// Usage tracks lifetime and per-window request counters. Each window counter
// resets independently when its window elapses.
type Usage struct {
	TotalRequests int64      `json:"total_requests"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	ThisMinute    int        `json:"this_minute"`
	ThisHour      int        `json:"this_hour"`
	Today         int        `json:"today"`
	MinuteResetAt time.Time  `json:"minute_reset_at"`
	HourResetAt   time.Time  `json:"hour_reset_at"`
	DayResetAt    time.Time  `json:"day_reset_at"`
}

// Restriction is a single allow-list entry.
type Restriction struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Revocation records a terminal revoke. Set exactly once, never cleared.
type Revocation struct {
	RevokedAt time.Time `json:"revoked_at"`
	RevokedBy string    `json:"revoked_by"`
	Reason    string    `json:"reason"`
}

// Activity is a snapshot of the most recent verified use.
type Activity struct {
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityFlags are carried in the schema but not consulted by any code path;
// brute-force lockout is handled per client IP by the auth attempt limiter.
type SecurityFlags struct {
	IsSuspicious      bool       `json:"is_suspicious"`
	FailedAttempts    int        `json:"failed_attempts"`
	LastFailedAttempt *time.Time `json:"last_failed_attempt,omitempty"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
}

// AccessToken is one issued API credential. The raw secret is never stored:
// SecretHash is SHA-256 of the secret and SecretPrefix its first 8 hex
// characters, kept in cleartext for indexed lookup.
type AccessToken struct {
	ID                 uuid.UUID     `json:"id"`
	TokenID            string        `json:"token_id"`
	OwnerID            uuid.UUID     `json:"owner_id"`
	DisplayName        string        `json:"display_name"`
	SecretHash         string        `json:"-"`
	SecretPrefix       string        `json:"secret_prefix"`
	Scopes             []string      `json:"scopes"`
	Capabilities       Capabilities  `json:"capabilities"`
	RateLimits         RateLimits    `json:"rate_limits"`
	Usage              Usage         `json:"usage"`
	IPRestrictions     []Restriction `json:"ip_restrictions,omitempty"`
	DomainRestrictions []Restriction `json:"domain_restrictions,omitempty"`
	ExpiresAt          time.Time     `json:"expires_at"`
	IsActive           bool          `json:"is_active"`
	Revocation         *Revocation   `json:"revocation,omitempty"`
	LastActivity       *Activity     `json:"last_activity,omitempty"`
	SecurityFlags      SecurityFlags `json:"security_flags"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	CreatedBy          string        `json:"created_by,omitempty"`
	UpdatedBy          string        `json:"updated_by,omitempty"`
}

// Usable reports whether the token may authenticate a request at the given
// instant: active, never revoked, and not yet expired.
func (t *AccessToken) Usable(now time.Time) bool {
	return t.IsActive && t.Revocation == nil && t.ExpiresAt.After(now)
}

// HasScope reports whether the token carries the required scope. admin:all
// satisfies every scope check.
func (t *AccessToken) HasScope(required string) bool {
	for _, s := range t.Scopes {
		if s == required || s == ScopeAdminAll {
			return true
		}
	}
	return false
}

// HasCapability checks a capability by name. Unknown names are false.
func (t *AccessToken) HasCapability(name string) bool {
	switch name {
	case "read":
		return t.Capabilities.Read
	case "write":
		return t.Capabilities.Write
	case "delete":
		return t.Capabilities.Delete
	case "admin":
		return t.Capabilities.Admin
	default:
		return false
	}
}

// AllowsIP checks the IP allow-list. An empty list admits every address.
func (t *AccessToken) AllowsIP(ip string) bool {
	return restrictionMatch(t.IPRestrictions, ip)
}

// AllowsDomain checks the domain allow-list. An empty list admits every domain.
func (t *AccessToken) AllowsDomain(domain string) bool {
	return restrictionMatch(t.DomainRestrictions, domain)
}

func restrictionMatch(list []Restriction, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, r := range list {
		if r.Value == value {
			return true
		}
	}
	return false
}

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour
)

func windowIndex(t time.Time, window time.Duration) int64 {
	return t.UnixMilli() / window.Milliseconds()
}

// Record counts one request against the usage state: the lifetime total and
// last-used timestamp always advance, and each window counter is reset first
// if the request falls in a later window than the counter's reset timestamp,
// then incremented. Crossing a window boundary therefore leaves that counter
// at 1 for the triggering request.
func (u *Usage) Record(now time.Time) {
	u.TotalRequests++
	ts := now
	u.LastUsedAt = &ts

	if windowIndex(now, minuteWindow) > windowIndex(u.MinuteResetAt, minuteWindow) {
		u.ThisMinute = 0
		u.MinuteResetAt = now
	}
	if windowIndex(now, hourWindow) > windowIndex(u.HourResetAt, hourWindow) {
		u.ThisHour = 0
		u.HourResetAt = now
	}
	if windowIndex(now, dayWindow) > windowIndex(u.DayResetAt, dayWindow) {
		u.Today = 0
		u.DayResetAt = now
	}

	u.ThisMinute++
	u.ThisHour++
	u.Today++
}

// RateLimitExceeded evaluates the counters after the current request has been
// recorded, in minute, hour, day order; the first window over its threshold
// determines the reported reason. A limit of N admits exactly N requests per
// window.
func (t *AccessToken) RateLimitExceeded() (string, bool) {
	switch {
	case t.Usage.ThisMinute > t.RateLimits.PerMinute:
		return "per-minute limit exceeded", true
	case t.Usage.ThisHour > t.RateLimits.PerHour:
		return "per-hour limit exceeded", true
	case t.Usage.Today > t.RateLimits.PerDay:
		return "per-day limit exceeded", true
	default:
		return "", false
	}
}

// Remaining returns how many requests are left in each window without
// consuming one.
func (t *AccessToken) Remaining() RateLimits {
	clamp := func(limit, used int) int {
		if r := limit - used; r > 0 {
			return r
		}
		return 0
	}
	return RateLimits{
		PerMinute: clamp(t.RateLimits.PerMinute, t.Usage.ThisMinute),
		PerHour:   clamp(t.RateLimits.PerHour, t.Usage.ThisHour),
		PerDay:    clamp(t.RateLimits.PerDay, t.Usage.Today),
	}
}
