package validation

import (
	"strings"
	"testing"

	"github.com/cosmic-crm/token-service/internal/model"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "billing sync", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"at limit", strings.Repeat("a", 100), false},
		{"over limit", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DisplayName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestScopes(t *testing.T) {
	tests := []struct {
		name    string
		scopes  []string
		wantErr string
	}{
		{"empty list", nil, ""},
		{"single supported", []string{model.ScopeReadProfile}, ""},
		{"every supported scope", model.SupportedScopes(), ""},
		{"admin only", []string{model.ScopeAdminAll}, ""},
		{"unknown scope", []string{"read:everything"}, "not supported"},
		{"duplicate", []string{model.ScopeReadTask, model.ScopeReadTask}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Scopes(tt.scopes)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRateLimits(t *testing.T) {
	if err := RateLimits(model.DefaultRateLimits()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if err := RateLimits(model.RateLimits{PerMinute: 1, PerHour: 1, PerDay: 1}); err != nil {
		t.Fatalf("minimum thresholds must validate: %v", err)
	}
	if err := RateLimits(model.RateLimits{PerMinute: 0, PerHour: 10, PerDay: 10}); err == nil {
		t.Fatal("zero per-minute threshold must be rejected")
	}
	if err := RateLimits(model.RateLimits{PerMinute: 10, PerHour: 10, PerDay: -1}); err == nil {
		t.Fatal("negative per-day threshold must be rejected")
	}
}

func TestIPRestrictions(t *testing.T) {
	valid := []model.Restriction{
		{Value: "203.0.113.5", Description: "office"},
		{Value: "2001:db8::1"},
	}
	if err := IPRestrictions(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := IPRestrictions([]model.Restriction{{Value: "not-an-address"}}); err == nil {
		t.Fatal("expected error for unparseable address")
	}
	if err := IPRestrictions([]model.Restriction{{Value: "10.0.0.0/8"}}); err == nil {
		t.Fatal("CIDR ranges are not accepted as single-address restrictions")
	}
}

func TestDomainRestrictions(t *testing.T) {
	if err := DomainRestrictions([]model.Restriction{{Value: "app.cosmic.example"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, bad := range []string{"", "   ", "https://app.cosmic.example", "cosmic.example/path", "cosmic example"} {
		if err := DomainRestrictions([]model.Restriction{{Value: bad}}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
