package rules

import (
	"testing"
	"time"

	"github.com/fraudshield/kestrel/internal/domain"
)

func mustRule(t *testing.T, name string, category domain.RuleCategory, impact domain.ImpactLevel, priority int, condition string) *domain.FraudRule {
	t.Helper()
	rule, err := domain.NewFraudRule(name, "", category, domain.RuleTypeSimple, impact, []domain.RuleAction{domain.ActionLog}, nil, priority, condition, "tester")
	if err != nil {
		t.Fatalf("NewFraudRule(%s): %v", name, err)
	}
	rule.Activate("tester")
	return rule
}

func TestCatalogLoadRule(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	rule := mustRule(t, "High Amount", domain.CategoryTransaction, domain.ImpactHigh, 10, "amount > 10000.0")
	if err := catalog.LoadRule(rule); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	if got := catalog.RulesCount(); got != 1 {
		t.Errorf("RulesCount() = %d, want 1", got)
	}
}

func TestCatalogRejectsInvalidConditions(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	tests := []struct {
		name      string
		category  domain.RuleCategory
		condition string
	}{
		{"syntax error", domain.CategoryTransaction, "amount >"},
		{"unknown variable", domain.CategoryTransaction, "reputation_score < 20"},
		{"non-bool result", domain.CategoryTransaction, "amount + 1.0"},
		{"foreign category variable", domain.CategorySession, "is_emulator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := mustRule(t, tt.name, tt.category, domain.ImpactLow, 1, tt.condition)
			if err := catalog.ValidateRule(rule); err == nil {
				t.Errorf("ValidateRule(%q) = nil, want error", tt.condition)
			}
			if err := catalog.LoadRule(rule); err == nil {
				t.Errorf("LoadRule(%q) = nil, want error", tt.condition)
			}
		})
	}
}

func TestCatalogMatchableRulesOrdering(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	second := mustRule(t, "Second", domain.CategoryIP, domain.ImpactLow, 20, "reputation_score < 50")
	first := mustRule(t, "First", domain.CategoryIP, domain.ImpactLow, 5, "is_blacklisted")
	other := mustRule(t, "Other Category", domain.CategoryDevice, domain.ImpactLow, 1, "is_emulator")

	for _, r := range []*domain.FraudRule{second, first, other} {
		if err := catalog.LoadRule(r); err != nil {
			t.Fatalf("LoadRule: %v", err)
		}
	}

	matchable := catalog.MatchableRules(domain.CategoryIP, time.Now().UTC(), false)
	if len(matchable) != 2 {
		t.Fatalf("MatchableRules returned %d rules, want 2", len(matchable))
	}
	if matchable[0].Rule.Name != "First" || matchable[1].Rule.Name != "Second" {
		t.Errorf("rules not ordered by priority: got %s, %s", matchable[0].Rule.Name, matchable[1].Rule.Name)
	}
}

func TestCatalogEqualPriorityOrderedByCreation(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	older := mustRule(t, "Zebra Check", domain.CategoryIP, domain.ImpactLow, 10, "reputation_score < 50")
	newer := mustRule(t, "Alpha Check", domain.CategoryIP, domain.ImpactLow, 10, "is_blacklisted")
	older.CreatedAt = newer.CreatedAt.Add(-time.Minute)

	// Loaded newest-first so creation order, not load or name order, decides.
	for _, r := range []*domain.FraudRule{newer, older} {
		if err := catalog.LoadRule(r); err != nil {
			t.Fatalf("LoadRule: %v", err)
		}
	}

	matchable := catalog.MatchableRules(domain.CategoryIP, time.Now().UTC(), false)
	if len(matchable) != 2 {
		t.Fatalf("MatchableRules returned %d rules, want 2", len(matchable))
	}
	if matchable[0].Rule.Name != "Zebra Check" || matchable[1].Rule.Name != "Alpha Check" {
		t.Errorf("equal-priority rules not in creation order: got %s, %s",
			matchable[0].Rule.Name, matchable[1].Rule.Name)
	}
}

func TestCatalogExcludesNonMatchableRules(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	draft, err := domain.NewFraudRule("Draft Rule", "", domain.CategoryIP, domain.RuleTypeSimple, domain.ImpactLow, nil, nil, 1, "is_blacklisted", "tester")
	if err != nil {
		t.Fatalf("NewFraudRule: %v", err)
	}

	inactive := mustRule(t, "Inactive Rule", domain.CategoryIP, domain.ImpactLow, 2, "is_blacklisted")
	inactive.Deactivate("tester")

	expired := mustRule(t, "Expired Rule", domain.CategoryIP, domain.ImpactLow, 3, "is_blacklisted")
	past := time.Now().UTC().Add(-time.Hour)
	expired.ValidTo = &past

	testOnly := mustRule(t, "Test Only", domain.CategoryIP, domain.ImpactLow, 4, "is_blacklisted")
	testOnly.SetTestMode("tester")

	for _, r := range []*domain.FraudRule{draft, inactive, expired, testOnly} {
		if err := catalog.LoadRule(r); err != nil {
			t.Fatalf("LoadRule: %v", err)
		}
	}

	if got := catalog.MatchableRules(domain.CategoryIP, time.Now().UTC(), false); len(got) != 0 {
		t.Errorf("live matchable = %d rules, want 0", len(got))
	}

	// Test-mode evaluation picks up the TestMode rule only.
	got := catalog.MatchableRules(domain.CategoryIP, time.Now().UTC(), true)
	if len(got) != 1 || got[0].Rule.Name != "Test Only" {
		t.Errorf("test-mode matchable = %v, want only Test Only", got)
	}
}

func TestCatalogReloadReplacesRules(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defer catalog.Close()

	old := mustRule(t, "Old", domain.CategoryIP, domain.ImpactLow, 1, "is_blacklisted")
	if err := catalog.LoadRule(old); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	replacement := mustRule(t, "Replacement", domain.CategoryDevice, domain.ImpactLow, 1, "is_emulator")
	if err := catalog.ReloadRules([]*domain.FraudRule{replacement}); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	if got := catalog.RulesCount(); got != 1 {
		t.Fatalf("RulesCount() = %d after reload, want 1", got)
	}
	if got := catalog.MatchableRules(domain.CategoryIP, time.Now().UTC(), false); len(got) != 0 {
		t.Errorf("old rule still matchable after reload")
	}
}
