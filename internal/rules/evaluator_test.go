package rules

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
)

type fakeBlocker struct {
	mu    sync.Mutex
	items []*domain.BlacklistItem
}

func (f *fakeBlocker) Add(_ context.Context, item *domain.BlacklistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func newTestEvaluator(t *testing.T, blocker Blocker, rls ...*domain.FraudRule) *Evaluator {
	t.Helper()
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	for _, r := range rls {
		if err := catalog.LoadRule(r); err != nil {
			t.Fatalf("LoadRule(%s): %v", r.Name, err)
		}
	}
	return NewEvaluator(catalog, blocker, nil)
}

func ipSnapshot(failedLogins int) *domain.ContextSnapshot {
	return &domain.ContextSnapshot{
		Type: domain.ContextIP,
		IP: &domain.IPContext{
			IPAddress:           "198.51.100.7",
			CountryCode:         "NL",
			ReputationScore:     42,
			FailedLoginCount10m: failedLogins,
		},
	}
}

func TestEvaluateTriggersMatchingRules(t *testing.T) {
	rule := mustRule(t, "Excessive Failed Logins", domain.CategoryIP, domain.ImpactHigh, 10, "failed_login_count_10m >= 5")
	quiet := mustRule(t, "Datacenter Proxy", domain.CategoryIP, domain.ImpactMedium, 20, "is_datacenter_or_proxy")

	ev := newTestEvaluator(t, nil, rule, quiet)

	result, err := ev.Evaluate(context.Background(), ipSnapshot(7))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if result.TotalRules != 2 {
		t.Errorf("TotalRules = %d, want 2", result.TotalRules)
	}
	if result.TriggeredCount() != 1 {
		t.Fatalf("TriggeredCount() = %d, want 1", result.TriggeredCount())
	}
	if result.Triggered[0].Name != "Excessive Failed Logins" {
		t.Errorf("triggered rule = %s", result.Triggered[0].Name)
	}
	if len(result.Events) != 1 || len(result.Factors) != 1 {
		t.Fatalf("events = %d, factors = %d, want 1 each", len(result.Events), len(result.Factors))
	}
	if result.Score != 0.75 {
		t.Errorf("Score = %v, want 0.75 (High impact weight)", result.Score)
	}
	if result.Factors[0].Severity != domain.RiskHigh {
		t.Errorf("factor severity = %s, want High", result.Factors[0].Severity)
	}
}

func TestEvaluateScoreIsMaxImpactWeight(t *testing.T) {
	low := mustRule(t, "Low Reputation", domain.CategoryIP, domain.ImpactLow, 1, "reputation_score < 50")
	critical := mustRule(t, "Credential Stuffing", domain.CategoryIP, domain.ImpactCritical, 2, "failed_login_count_10m >= 5")

	ev := newTestEvaluator(t, nil, low, critical)

	result, err := ev.Evaluate(context.Background(), ipSnapshot(9))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 2 {
		t.Fatalf("TriggeredCount() = %d, want 2", result.TriggeredCount())
	}
	if result.Score != 0.95 {
		t.Errorf("Score = %v, want 0.95 (Critical dominates)", result.Score)
	}
}

func TestEvaluateRuleErrorDoesNotBlockOthers(t *testing.T) {
	// References a data key the snapshot does not carry, so it fails at
	// evaluation time rather than compile time.
	broken := mustRule(t, "Broken", domain.CategoryIP, domain.ImpactLow, 1, `data["missing"] == true`)
	healthy := mustRule(t, "Healthy", domain.CategoryIP, domain.ImpactMedium, 2, "failed_login_count_10m >= 5")

	ev := newTestEvaluator(t, nil, broken, healthy)

	result, err := ev.Evaluate(context.Background(), ipSnapshot(6))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "Broken") && !strings.Contains(result.Warnings[0], broken.RuleCode) {
		t.Errorf("Warnings = %v, want one mentioning the broken rule", result.Warnings)
	}
	if result.TriggeredCount() != 1 || result.Triggered[0].Name != "Healthy" {
		t.Errorf("healthy rule did not trigger: %+v", result.Triggered)
	}
}

func TestEvaluateAdditionalDataSignals(t *testing.T) {
	rule := mustRule(t, "VIP Override", domain.CategoryIP, domain.ImpactHigh, 1, `"vip" in data && data["vip"] == true`)
	ev := newTestEvaluator(t, nil, rule)

	snapshot := ipSnapshot(0)
	snapshot.IP.AdditionalData = map[string]any{"vip": true}

	result, err := ev.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 1 {
		t.Fatalf("TriggeredCount() = %d, want 1 (caller data reached the condition)", result.TriggeredCount())
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}

	// Same rule, no caller data: the key is simply absent, not an error.
	result, err = ev.Evaluate(context.Background(), ipSnapshot(0))
	if err != nil {
		t.Fatalf("Evaluate (no data): %v", err)
	}
	if result.TriggeredCount() != 0 {
		t.Errorf("TriggeredCount() = %d, want 0 without caller data", result.TriggeredCount())
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none without caller data", result.Warnings)
	}
}

func TestEvaluateBlockingActionAddsBlacklistEntry(t *testing.T) {
	block := mustRule(t, "Block Bad IP", domain.CategoryIP, domain.ImpactCritical, 1, "failed_login_count_10m >= 5")
	block.Actions = []domain.RuleAction{domain.ActionBlockIP, domain.ActionNotify}

	blocker := &fakeBlocker{}
	ev := newTestEvaluator(t, blocker, block)

	result, err := ev.Evaluate(context.Background(), ipSnapshot(8))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 1 {
		t.Fatalf("rule did not trigger")
	}
	if len(blocker.items) != 1 {
		t.Fatalf("blacklist additions = %d, want 1", len(blocker.items))
	}
	item := blocker.items[0]
	if item.Type != domain.BlacklistTypeIP {
		t.Errorf("item type = %s, want IpAddress", item.Type)
	}
	if item.Value != "198.51.100.7" {
		t.Errorf("item value = %s", item.Value)
	}
	if item.RuleID == nil || *item.RuleID != block.ID {
		t.Errorf("item not linked to triggering rule")
	}
	if item.EventID == nil || *item.EventID != result.Events[0].ID {
		t.Errorf("item not linked to triggering event")
	}
}

func TestEvaluateTestModeNeverBlocks(t *testing.T) {
	block := mustRule(t, "Block Bad IP", domain.CategoryIP, domain.ImpactCritical, 1, "failed_login_count_10m >= 5")
	block.Actions = []domain.RuleAction{domain.ActionBlockIP}
	block.SetTestMode("tester")

	blocker := &fakeBlocker{}
	ev := newTestEvaluator(t, blocker, block)

	snapshot := ipSnapshot(8)
	snapshot.TestMode = true

	result, err := ev.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 1 {
		t.Fatalf("test-mode rule did not trigger under test-mode evaluation")
	}
	if len(blocker.items) != 0 {
		t.Errorf("test-mode trigger wrote %d blacklist entries, want 0", len(blocker.items))
	}
}

func TestEvaluateAmountDeviationScenario(t *testing.T) {
	deviation := mustRule(t, "Amount Far Above Average", domain.CategoryTransaction, domain.ImpactHigh, 1,
		"user_average_amount > 0.0 && amount > user_average_amount * 10.0")

	ev := newTestEvaluator(t, nil, deviation)

	snapshot := &domain.ContextSnapshot{
		Type: domain.ContextTransaction,
		Transaction: &domain.TransactionContext{
			TransactionID:     uuid.New(),
			AccountID:         uuid.New(),
			Amount:            5000,
			Currency:          "USD",
			UserAverageAmount: 400,
		},
	}

	result, err := ev.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// 12.5x the account's average: the High-impact rule fires and the score
	// carries its weight, which alone forces a review downstream.
	if result.TriggeredCount() != 1 {
		t.Fatalf("TriggeredCount() = %d, want 1", result.TriggeredCount())
	}
	if result.Score != 0.75 {
		t.Errorf("Score = %.2f, want 0.75", result.Score)
	}

	// A typical amount for the same account stays clean.
	snapshot.Transaction.Amount = 420
	result, err = ev.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 0 {
		t.Errorf("TriggeredCount() = %d, want 0", result.TriggeredCount())
	}
}

func TestEvaluateAccountAccessScenario(t *testing.T) {
	foreign := mustRule(t, "Untypical Country Login", domain.CategoryAccount, domain.ImpactHigh, 1, "!is_typical_country && !is_trusted_device")

	ev := newTestEvaluator(t, nil, foreign)

	acctID := uuid.New()
	snapshot := &domain.ContextSnapshot{
		Type: domain.ContextAccountAccess,
		AccountAccess: &domain.AccountAccessContext{
			AccountID:        acctID,
			CountryCode:      "RO",
			TypicalCountries: []string{"TR"},
			IsTrustedDevice:  false,
			IPAddress:        "203.0.113.9",
		},
	}

	result, err := ev.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.TriggeredCount() != 1 {
		t.Fatalf("TriggeredCount() = %d, want 1", result.TriggeredCount())
	}
	event := result.Events[0]
	if event.AccountID == nil || *event.AccountID != acctID {
		t.Errorf("event missing account id")
	}
	if event.IPAddress != "203.0.113.9" {
		t.Errorf("event ip = %s", event.IPAddress)
	}
}
