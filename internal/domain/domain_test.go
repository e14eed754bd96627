package domain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"DRAFT", StatusDraft},
		{"assigned", StatusAssigned},
		{"In Progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"Submitted", StatusSubmitted},
		{"Pending", StatusSubmitted},
		{" approved ", StatusApproved},
		{"REJECTED", StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if err != nil {
				t.Fatalf("ParseStatus(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}

	_, err := ParseStatus("WON")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Errorf("expected a status validation error, got %v", err)
	}
}

func TestParseEnumerations(t *testing.T) {
	if dt, err := ParseDealType("cross sell"); err != nil || dt != DealTypeCrossSell {
		t.Errorf("ParseDealType = %s, %v", dt, err)
	}
	if _, err := ParseDealType("barter"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	if p, err := ParsePriority(""); err != nil || p != PriorityMedium {
		t.Errorf("empty priority should default to MEDIUM, got %s, %v", p, err)
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	if r, err := ParseRole("sales_rep"); err != nil || r != RoleSales {
		t.Errorf("ParseRole = %s, %v", r, err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	if task, err := ParseTask("FIRST_RULE"); err != nil || task != TaskFirstRule {
		t.Errorf("ParseTask = %s, %v", task, err)
	}
	if _, err := ParseTask("firstLunch"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Invalid("amount", "bad"), "ValidationError"},
		{ErrMissingReason, "MissingReason"},
		{fmt.Errorf("wrapped: %w", ErrMissingReason), "MissingReason"},
		{fmt.Errorf("%w: x", ErrInvalidTransition), "InvalidTransition"},
		{fmt.Errorf("%w: x", ErrConflict), "InvalidTransition"},
		{ErrForbidden, "Forbidden"},
		{fmt.Errorf("%w: deal 1", ErrNotFound), "NotFound"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if !errors.Is(ErrMissingReason, ErrValidation) {
		t.Error("MissingReason must be a validation error")
	}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestPolicyValidate(t *testing.T) {
	valid := func() *IncentivePolicy {
		return &IncentivePolicy{Title: "Std", CommissionRate: decimal.NewFromInt(5)}
	}

	tests := []struct {
		name   string
		mutate func(p *IncentivePolicy)
		field  string
	}{
		{"valid", func(p *IncentivePolicy) {}, ""},
		{"missing title", func(p *IncentivePolicy) { p.Title = "" }, "title"},
		{"rate above 100", func(p *IncentivePolicy) { p.CommissionRate = decimal.NewFromInt(101) }, "commissionRate"},
		{"negative rate", func(p *IncentivePolicy) { p.CommissionRate = decimal.NewFromInt(-1) }, "commissionRate"},
		{"inverted bounds", func(p *IncentivePolicy) { p.MinDealAmount, p.MaxDealAmount = dec("10"), dec("5") }, "minDealAmount"},
		{"negative bonus", func(p *IncentivePolicy) { p.BonusThreshold, p.BonusAmount = dec("1"), dec("-1") }, "bonusAmount"},
		{"bonus without threshold", func(p *IncentivePolicy) { p.BonusAmount = dec("100") }, "bonusThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("expected valid policy, got %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestPolicyEligibility(t *testing.T) {
	p := &IncentivePolicy{
		MinDealAmount: dec("100"),
		MaxDealAmount: dec("1000"),
		DealTypes:     []DealType{DealTypeRenewal},
	}

	if !p.InBounds(decimal.NewFromInt(100)) || !p.InBounds(decimal.NewFromInt(1000)) {
		t.Error("bounds are inclusive")
	}
	if p.InBounds(decimal.NewFromInt(99)) || p.InBounds(decimal.NewFromInt(1001)) {
		t.Error("amounts outside the bounds must not match")
	}
	if !p.AppliesTo(DealTypeRenewal) || p.AppliesTo(DealTypeUpsell) {
		t.Error("deal type restriction not honored")
	}
	if !(&IncentivePolicy{}).AppliesTo(DealTypeUpsell) {
		t.Error("an unrestricted policy applies to every deal type")
	}
}

func TestPermissions(t *testing.T) {
	admin := RolePermissions(RoleAdmin)
	sales := RolePermissions(RoleSales)

	if !admin.Allows(ResourceDeals, CapRead|CapWrite|CapApprove) {
		t.Error("admin should hold every deal capability")
	}
	if sales.Allows(ResourceDeals, CapApprove) {
		t.Error("sales must not approve")
	}
	if !sales.Allows(ResourcePolicies, CapRead) || sales.Allows(ResourcePolicies, CapWrite) {
		t.Error("sales may read but not write policies")
	}
	if RolePermissions("GUEST").Allows(ResourceDeals, CapRead) {
		t.Error("unknown roles hold nothing")
	}
}

func TestOnboardingMark(t *testing.T) {
	p := &OnboardingProgress{UserID: "u"}
	p.Mark(TaskFirstDeal)
	p.Mark(TaskFirstDeal)
	if p.CompletedCount != 1 || p.CompletionPercentage != 25 {
		t.Errorf("unexpected counters %d/%v", p.CompletedCount, p.CompletionPercentage)
	}

	for _, task := range []Task{TaskFirstTarget, TaskFirstRule, TaskFirstInvite} {
		p.Mark(task)
	}
	if p.CompletedCount != TaskCount || p.CompletionPercentage != 100 {
		t.Errorf("unexpected counters %d/%v", p.CompletedCount, p.CompletionPercentage)
	}
	if !p.Has(TaskFirstInvite) {
		t.Error("expected firstInvite to be set")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Tier != TierCommunity || cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
			t.Errorf("unexpected defaults %+v", cfg)
		}
		if !cfg.Commission.DefaultRate.Equal(decimal.NewFromInt(5)) || len(cfg.Commission.Tiers) != 3 {
			t.Errorf("unexpected commission defaults %+v", cfg.Commission)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("COMMISSION_TIER", "pro")
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
			t.Errorf("unexpected pro config %+v", cfg)
		}
	})

	t.Run("FileThenEnv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := `
server:
  port: 9090
commission:
  defaultRate: "7.5"
cache:
  entryTTL: 2m
eventBus:
  natsQueueGroup: commissiond
`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Setenv("COMMISSION_PORT", "9191")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9191 {
			t.Errorf("env should override file port, got %d", cfg.Server.Port)
		}
		if !cfg.Commission.DefaultRate.Equal(decimal.RequireFromString("7.5")) {
			t.Errorf("expected default rate 7.5, got %s", cfg.Commission.DefaultRate)
		}
		if cfg.Cache.EntryTTL != 2*time.Minute {
			t.Errorf("expected entry ttl 2m, got %v", cfg.Cache.EntryTTL)
		}
		if cfg.EventBus.NATSQueueGroup != "commissiond" {
			t.Errorf("expected queue group, got %q", cfg.EventBus.NATSQueueGroup)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("unset keys keep their defaults, got driver %q", cfg.Repository.Driver)
		}
	})

	t.Run("BadEnv", func(t *testing.T) {
		t.Setenv("COMMISSION_PORT", "eighty")
		if _, err := LoadConfig(""); err == nil {
			t.Error("expected an error for a non-numeric port")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}
