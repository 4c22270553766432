package validation

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/cosmic-crm/token-service/internal/model"
)

const maxDisplayNameLen = 100

// DisplayName validates the required free-text token label.
func DisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("display_name is required")
	}
	if len(name) > maxDisplayNameLen {
		return fmt.Errorf("display_name must be at most %d characters", maxDisplayNameLen)
	}
	return nil
}

// Scopes validates that all scopes are drawn from the fixed enumeration and
// are unique.
func Scopes(scopes []string) error {
	supported := make(map[string]struct{})
	for _, s := range model.SupportedScopes() {
		supported[s] = struct{}{}
	}

	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if _, ok := supported[s]; !ok {
			return fmt.Errorf("scope %q is not supported", s)
		}
		if _, exists := seen[s]; exists {
			return fmt.Errorf("duplicate scope %q is not allowed", s)
		}
		seen[s] = struct{}{}
	}

	return nil
}

// RateLimits validates that all configured thresholds are positive.
func RateLimits(limits model.RateLimits) error {
	if limits.PerMinute < 1 {
		return fmt.Errorf("rate_limits.per_minute must be at least 1")
	}
	if limits.PerHour < 1 {
		return fmt.Errorf("rate_limits.per_hour must be at least 1")
	}
	if limits.PerDay < 1 {
		return fmt.Errorf("rate_limits.per_day must be at least 1")
	}
	return nil
}

// IPRestrictions validates that every allow-list entry is a parseable address.
func IPRestrictions(list []model.Restriction) error {
	for _, r := range list {
		if _, err := netip.ParseAddr(r.Value); err != nil {
			return fmt.Errorf("invalid ip restriction %q", r.Value)
		}
	}
	return nil
}

// DomainRestrictions validates that every allow-list entry looks like a
// hostname: non-empty, no scheme, no path, no embedded whitespace.
func DomainRestrictions(list []model.Restriction) error {
	for _, r := range list {
		v := strings.TrimSpace(r.Value)
		if v == "" || strings.ContainsAny(v, "/: ") {
			return fmt.Errorf("invalid domain restriction %q", r.Value)
		}
	}
	return nil
}
