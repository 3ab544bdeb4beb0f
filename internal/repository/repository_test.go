package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testRule(t *testing.T, name string, status domain.RuleStatus) *domain.FraudRule {
	t.Helper()

	rule, err := domain.NewFraudRule(
		name, "repository test rule",
		domain.CategoryTransaction, domain.RuleTypeThreshold, domain.ImpactHigh,
		[]domain.RuleAction{domain.ActionNotify},
		nil, 50, `amount > 1000.0`, "tester",
	)
	if err != nil {
		t.Fatalf("NewFraudRule failed: %v", err)
	}
	rule.Status = status
	return rule
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		duration := 2 * time.Hour
		rule := testRule(t, "High amount transfer", domain.RuleStatusActive)
		rule.ActionDuration = &duration

		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != rule.Name {
			t.Errorf("expected name %q, got %q", rule.Name, got.Name)
		}
		if got.Condition != rule.Condition {
			t.Errorf("expected condition %q, got %q", rule.Condition, got.Condition)
		}
		if got.ActionDuration == nil || *got.ActionDuration != duration {
			t.Errorf("expected action duration %v, got %v", duration, got.ActionDuration)
		}
		if len(got.Actions) != 1 || got.Actions[0] != domain.ActionNotify {
			t.Errorf("unexpected actions: %v", got.Actions)
		}

		byCode, err := repo.GetRuleByCode(ctx, rule.RuleCode)
		if err != nil {
			t.Fatalf("GetRuleByCode failed: %v", err)
		}
		if byCode.ID != rule.ID {
			t.Errorf("expected ID %s, got %s", rule.ID, byCode.ID)
		}
	})

	t.Run("SaveRuleUpdates", func(t *testing.T) {
		rule := testRule(t, "Updatable rule", domain.RuleStatusDraft)
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		rule.Activate("reviewer")
		rule.Description = "updated description"
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule update failed: %v", err)
		}

		got, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Status != domain.RuleStatusActive {
			t.Errorf("expected Active status, got %s", got.Status)
		}
		if got.Description != "updated description" {
			t.Errorf("description not updated: %q", got.Description)
		}
	})

	t.Run("ListActiveRules", func(t *testing.T) {
		testModeRule := testRule(t, "Shadow rule", domain.RuleStatusTestMode)
		inactiveRule := testRule(t, "Disabled rule", domain.RuleStatusInactive)
		for _, r := range []*domain.FraudRule{testModeRule, inactiveRule} {
			if err := repo.SaveRule(ctx, r); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}

		active, err := repo.ListActiveRules(ctx)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		for _, r := range active {
			if r.Status == domain.RuleStatusInactive || r.Status == domain.RuleStatusDraft {
				t.Errorf("rule %s with status %s should not be listed", r.RuleCode, r.Status)
			}
		}

		all, err := repo.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(all) <= len(active) {
			t.Errorf("expected more total rules (%d) than active (%d)", len(all), len(active))
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		rule := testRule(t, "Deletable rule", domain.RuleStatusDraft)
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, rule.ID); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteRule(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for second delete, got: %v", err)
		}
	})

	t.Run("RuleNotFound", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRuleByCode(ctx, "RULE-MISSING"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepositoryBlacklist(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		duration := time.Hour
		item := domain.NewBlacklistItem(domain.BlacklistTypeIP, "203.0.113.7", "manual block", nil, nil, &duration, "analyst")

		if err := repo.SaveBlacklistItem(ctx, item); err != nil {
			t.Fatalf("SaveBlacklistItem failed: %v", err)
		}

		got, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeIP, "203.0.113.7")
		if err != nil {
			t.Fatalf("GetBlacklistItem failed: %v", err)
		}
		if got.ID != item.ID {
			t.Errorf("expected ID %s, got %s", item.ID, got.ID)
		}
		if got.ExpiryDate == nil {
			t.Error("expected expiry date to survive round trip")
		}
		if !got.IsActive() {
			t.Error("expected item to be active")
		}
	})

	t.Run("UpsertOnTypeValue", func(t *testing.T) {
		item := domain.NewBlacklistItem(domain.BlacklistTypeDevice, "device-42", "first reason", nil, nil, nil, "analyst")
		if err := repo.SaveBlacklistItem(ctx, item); err != nil {
			t.Fatalf("SaveBlacklistItem failed: %v", err)
		}

		item.Reason = "second reason"
		if err := repo.SaveBlacklistItem(ctx, item); err != nil {
			t.Fatalf("SaveBlacklistItem update failed: %v", err)
		}

		got, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeDevice, "device-42")
		if err != nil {
			t.Fatalf("GetBlacklistItem failed: %v", err)
		}
		if got.Reason != "second reason" {
			t.Errorf("expected updated reason, got %q", got.Reason)
		}

		items, err := repo.ListBlacklistItems(ctx, domain.BlacklistTypeDevice)
		if err != nil {
			t.Fatalf("ListBlacklistItems failed: %v", err)
		}
		if len(items) != 1 {
			t.Errorf("expected 1 device entry, got %d", len(items))
		}
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Hour)

		seed := func(value string) *domain.BlacklistItem {
			item := domain.NewBlacklistItem(domain.BlacklistTypeAccount, value, "stale", nil, nil, nil, "system")
			item.ExpiryDate = &past
			if err := repo.SaveBlacklistItem(ctx, item); err != nil {
				t.Fatalf("SaveBlacklistItem failed: %v", err)
			}
			return item
		}

		// Expired but never invalidated: kept for audit.
		seed("acct-active")

		invalidated := seed("acct-done")
		invalidated.Invalidate("reviewer")
		if err := repo.SaveBlacklistItem(ctx, invalidated); err != nil {
			t.Fatalf("SaveBlacklistItem failed: %v", err)
		}

		// Invalidated but referenced by an event nobody has resolved.
		rule := testRule(t, "Cleanup source rule", domain.RuleStatusActive)
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		accountID := uuid.New()
		event := domain.NewFraudRuleEvent(rule, domain.ContextAccountAccess, nil, &accountID, "", "")
		if err := repo.SaveRuleEvent(ctx, event); err != nil {
			t.Fatalf("SaveRuleEvent failed: %v", err)
		}
		referenced := seed("acct-open-case")
		referenced.EventID = &event.ID
		referenced.Invalidate("reviewer")
		if err := repo.SaveBlacklistItem(ctx, referenced); err != nil {
			t.Fatalf("SaveBlacklistItem failed: %v", err)
		}

		deleted, err := repo.DeleteExpiredBlacklistItems(ctx, time.Now().UTC())
		if err != nil {
			t.Fatalf("DeleteExpiredBlacklistItems failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted entry, got %d", deleted)
		}
		if _, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeAccount, "acct-active"); err != nil {
			t.Errorf("expired Active entry was removed: %v", err)
		}
		if _, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeAccount, "acct-done"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for cleaned entry, got: %v", err)
		}
		if _, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeAccount, "acct-open-case"); err != nil {
			t.Errorf("entry referenced by unresolved event was removed: %v", err)
		}

		// Resolving the event releases the last entry.
		event.Resolve("reviewer", "confirmed and closed")
		if err := repo.SaveRuleEvent(ctx, event); err != nil {
			t.Fatalf("SaveRuleEvent failed: %v", err)
		}
		deleted, err = repo.DeleteExpiredBlacklistItems(ctx, time.Now().UTC())
		if err != nil {
			t.Fatalf("DeleteExpiredBlacklistItems failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted entry after resolve, got %d", deleted)
		}
		if _, err := repo.GetBlacklistItem(ctx, domain.BlacklistTypeAccount, "acct-active"); err != nil {
			t.Errorf("second cleanup removed the Active entry: %v", err)
		}
	})
}

func TestSQLiteRepositoryRuleEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := testRule(t, "Event source rule", domain.RuleStatusActive)
	accountID := uuid.New()
	txID := uuid.New()

	event := domain.NewFraudRuleEvent(rule, domain.ContextTransaction, &txID, &accountID, "198.51.100.1", "device-9")
	if err := repo.SaveRuleEvent(ctx, event); err != nil {
		t.Fatalf("SaveRuleEvent failed: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetRuleEvent(ctx, event.ID)
		if err != nil {
			t.Fatalf("GetRuleEvent failed: %v", err)
		}
		if got.RuleCode != rule.RuleCode {
			t.Errorf("expected rule code %q, got %q", rule.RuleCode, got.RuleCode)
		}
		if got.AccountID == nil || *got.AccountID != accountID {
			t.Errorf("account id did not survive round trip: %v", got.AccountID)
		}
		if got.TransactionID == nil || *got.TransactionID != txID {
			t.Errorf("transaction id did not survive round trip: %v", got.TransactionID)
		}
	})

	t.Run("ListByAccount", func(t *testing.T) {
		since := time.Now().UTC().Add(-time.Minute)
		events, err := repo.ListRuleEventsByAccount(ctx, accountID, since)
		if err != nil {
			t.Fatalf("ListRuleEventsByAccount failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}

		events, err = repo.ListRuleEventsByAccount(ctx, uuid.New(), since)
		if err != nil {
			t.Fatalf("ListRuleEventsByAccount failed: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("expected no events for other account, got %d", len(events))
		}
	})

	t.Run("ResolveAndListUnresolved", func(t *testing.T) {
		unresolved, err := repo.ListUnresolvedRuleEvents(ctx)
		if err != nil {
			t.Fatalf("ListUnresolvedRuleEvents failed: %v", err)
		}
		if len(unresolved) != 1 {
			t.Fatalf("expected 1 unresolved event, got %d", len(unresolved))
		}

		event.Resolve("analyst", "confirmed false positive")
		if err := repo.SaveRuleEvent(ctx, event); err != nil {
			t.Fatalf("SaveRuleEvent resolve failed: %v", err)
		}

		unresolved, err = repo.ListUnresolvedRuleEvents(ctx)
		if err != nil {
			t.Fatalf("ListUnresolvedRuleEvents failed: %v", err)
		}
		if len(unresolved) != 0 {
			t.Errorf("expected no unresolved events, got %d", len(unresolved))
		}

		got, err := repo.GetRuleEvent(ctx, event.ID)
		if err != nil {
			t.Fatalf("GetRuleEvent failed: %v", err)
		}
		if got.ResolvedBy != "analyst" || got.ResolutionNotes != "confirmed false positive" {
			t.Errorf("resolution fields not persisted: by=%q notes=%q", got.ResolvedBy, got.ResolutionNotes)
		}
	})
}

func TestSQLiteRepositoryAnalysisResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	txID := uuid.New()
	result := domain.NewAnalysisResult(txID, 1.2, 0.91, domain.DecisionDeny)
	factor := domain.NewRiskFactor("HIGH_ML_SCORE", "ensemble probability above deny threshold", 0.91, domain.SourceEnsemble)
	result.AddRiskFactor(factor)
	result.AddWarning("anomaly detector degraded")
	result.MLAnalysis = &domain.MLAnalysisResult{
		PrimaryModel: "ensemble",
		Confidence:   0.9,
	}

	if err := repo.SaveAnalysisResult(ctx, result); err != nil {
		t.Fatalf("SaveAnalysisResult failed: %v", err)
	}

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetAnalysisResult(ctx, result.ID)
		if err != nil {
			t.Fatalf("GetAnalysisResult failed: %v", err)
		}
		if got.Decision != domain.DecisionDeny {
			t.Errorf("expected Deny, got %s", got.Decision)
		}
		if got.FraudProbability != 0.91 {
			t.Errorf("expected probability 0.91, got %v", got.FraudProbability)
		}
		if len(got.RiskFactors) != 1 || got.RiskFactors[0].Code != "HIGH_ML_SCORE" {
			t.Errorf("risk factors did not survive round trip: %v", got.RiskFactors)
		}
		if got.MLAnalysis == nil || got.MLAnalysis.PrimaryModel != "ensemble" {
			t.Errorf("ml analysis did not survive round trip: %v", got.MLAnalysis)
		}
		if len(got.Warnings) != 1 {
			t.Errorf("warnings did not survive round trip: %v", got.Warnings)
		}
	})

	t.Run("GetByTransactionReturnsLatest", func(t *testing.T) {
		later := domain.NewAnalysisResult(txID, 0.5, 0.12, domain.DecisionApprove)
		later.AnalyzedAt = result.AnalyzedAt.Add(time.Second)
		if err := repo.SaveAnalysisResult(ctx, later); err != nil {
			t.Fatalf("SaveAnalysisResult failed: %v", err)
		}

		got, err := repo.GetAnalysisResultByTransaction(ctx, txID)
		if err != nil {
			t.Fatalf("GetAnalysisResultByTransaction failed: %v", err)
		}
		if got.ID != later.ID {
			t.Errorf("expected latest result %s, got %s", later.ID, got.ID)
		}
	})

	t.Run("FailedResultRoundTrip", func(t *testing.T) {
		failed := domain.NewFailedAnalysisResult(uuid.New(), "model scoring unavailable")
		if err := repo.SaveAnalysisResult(ctx, failed); err != nil {
			t.Fatalf("SaveAnalysisResult failed: %v", err)
		}

		got, err := repo.GetAnalysisResult(ctx, failed.ID)
		if err != nil {
			t.Fatalf("GetAnalysisResult failed: %v", err)
		}
		if got.Status != domain.AnalysisFailed {
			t.Errorf("expected Failed status, got %s", got.Status)
		}
		if got.Decision != domain.DecisionReviewRequired {
			t.Errorf("expected ReviewRequired, got %s", got.Decision)
		}
		if got.Error != "model scoring unavailable" {
			t.Errorf("error message lost: %q", got.Error)
		}
	})
}

func TestSQLiteRepositoryEvaluationsAndAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("RiskEvaluation", func(t *testing.T) {
		eval := domain.NewRiskEvaluation(uuid.New(), 0.77, 1.9, 0.8)
		eval.MLScore = 0.77
		eval.RuleBasedScore = 0.5
		eval.UsedAlgorithms = []string{"gradient_boost", "isolation_forest"}
		eval.AddWarning("fallback used")

		if err := repo.SaveRiskEvaluation(ctx, eval); err != nil {
			t.Fatalf("SaveRiskEvaluation failed: %v", err)
		}

		got, err := repo.GetRiskEvaluation(ctx, eval.ID)
		if err != nil {
			t.Fatalf("GetRiskEvaluation failed: %v", err)
		}
		if got.FraudProbability != 0.77 {
			t.Errorf("expected probability 0.77, got %v", got.FraudProbability)
		}
		if len(got.UsedAlgorithms) != 2 {
			t.Errorf("algorithms did not survive round trip: %v", got.UsedAlgorithms)
		}

		eval.SoftDelete()
		if err := repo.SaveRiskEvaluation(ctx, eval); err != nil {
			t.Fatalf("SaveRiskEvaluation soft delete failed: %v", err)
		}
		got, err = repo.GetRiskEvaluation(ctx, eval.ID)
		if err != nil {
			t.Fatalf("GetRiskEvaluation failed: %v", err)
		}
		if got.DeletedAt == nil {
			t.Error("expected deleted_at to be set")
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		score := domain.NewRiskScore(0.93, []string{"HIGH_ML_SCORE"})
		alert := domain.NewFraudAlert(uuid.New(), uuid.New(), score, []string{"HIGH_ML_SCORE"})
		alert.AnalysisResultID = uuid.New()

		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		active, err := repo.ListActiveAlerts(ctx)
		if err != nil {
			t.Fatalf("ListActiveAlerts failed: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("expected 1 active alert, got %d", len(active))
		}
		if active[0].RiskScore.Level != score.Level {
			t.Errorf("expected risk level %s, got %s", score.Level, active[0].RiskScore.Level)
		}

		alert.Resolve(domain.AlertFalsePositive, "analyst")
		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert resolve failed: %v", err)
		}

		active, err = repo.ListActiveAlerts(ctx)
		if err != nil {
			t.Fatalf("ListActiveAlerts failed: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active alerts after resolution, got %d", len(active))
		}
	})
}

func TestRebind(t *testing.T) {
	sqliteRepo := &SQLRepository{driver: "sqlite"}
	if got := sqliteRepo.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = ? AND b = ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}

	pgRepo := &SQLRepository{driver: "postgres"}
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got := pgRepo.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
