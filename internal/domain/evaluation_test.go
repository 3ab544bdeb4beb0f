package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewAnalysisResult(t *testing.T) {
	txID := uuid.New()
	result := NewAnalysisResult(txID, 1.4, 0.72, DecisionReviewRequired)

	if result.Status != AnalysisCompleted {
		t.Errorf("expected Completed status, got %s", result.Status)
	}
	if result.RiskScore.Level != RiskHigh {
		t.Errorf("expected derived level High for p=0.72, got %s", result.RiskScore.Level)
	}
	if result.TransactionID != txID {
		t.Errorf("transaction id mismatch")
	}
}

func TestNewFailedAnalysisResult(t *testing.T) {
	result := NewFailedAnalysisResult(uuid.New(), "model scoring timed out")

	if result.Status != AnalysisFailed {
		t.Errorf("expected Failed status, got %s", result.Status)
	}
	// A failed analysis must never approve.
	if result.Decision != DecisionReviewRequired {
		t.Errorf("expected ReviewRequired, got %s", result.Decision)
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestAnalysisResultSetError(t *testing.T) {
	result := NewAnalysisResult(uuid.New(), 0.1, 0.05, DecisionApprove)

	result.SetError("persistence failed")

	if result.Status != AnalysisFailed {
		t.Errorf("expected Failed status, got %s", result.Status)
	}
	if result.Decision != DecisionReviewRequired {
		t.Errorf("SetError must downgrade the decision to ReviewRequired, got %s", result.Decision)
	}
}

func TestAddRiskFactor(t *testing.T) {
	result := NewAnalysisResult(uuid.New(), 0.5, 0.6, DecisionReviewRequired)
	factor := NewRiskFactor("HIGH_RISK_COUNTRY", "recipient in high risk country", 0.8, SourceRule)

	result.AddRiskFactor(factor)

	if len(result.RiskFactors) != 1 {
		t.Fatalf("expected 1 risk factor, got %d", len(result.RiskFactors))
	}
	attached := result.RiskFactors[0]
	if attached.AnalysisResultID != result.ID {
		t.Error("factor not back-filled with analysis result id")
	}
	if attached.TransactionID == nil || *attached.TransactionID != result.TransactionID {
		t.Error("factor not back-filled with transaction id")
	}
	if len(result.RiskScore.FactorCodes) != 1 || result.RiskScore.FactorCodes[0] != "HIGH_RISK_COUNTRY" {
		t.Errorf("factor code not recorded on risk score: %v", result.RiskScore.FactorCodes)
	}
}

func TestAddTriggeredRule(t *testing.T) {
	result := NewAnalysisResult(uuid.New(), 0.5, 0.6, DecisionReviewRequired)

	result.AddTriggeredRule(TriggeredRuleInfo{
		RuleID:   uuid.New(),
		RuleCode: "IP_EFL_1",
		Actions:  []RuleAction{ActionNotify, ActionBlockIP},
	})
	result.AddTriggeredRule(TriggeredRuleInfo{
		RuleID:   uuid.New(),
		RuleCode: "IP_EFL_2",
		Actions:  []RuleAction{ActionNotify},
	})

	if result.TriggeredRuleCount != 2 {
		t.Errorf("expected triggered count 2, got %d", result.TriggeredRuleCount)
	}
	// Applied actions are deduplicated across rules.
	if len(result.AppliedActions) != 2 {
		t.Errorf("expected 2 distinct applied actions, got %v", result.AppliedActions)
	}
}

func TestSpawnAlertIdempotent(t *testing.T) {
	result := NewAnalysisResult(uuid.New(), 1.2, 0.9, DecisionDeny)
	accountID := uuid.New()

	first := result.SpawnAlert(accountID)
	second := result.SpawnAlert(accountID)

	if first == nil {
		t.Fatal("expected an alert")
	}
	if first != second {
		t.Error("SpawnAlert must return the same alert on repeat calls")
	}
	if result.Alert() != first {
		t.Error("Alert() should expose the spawned alert")
	}
	if first.AnalysisResultID != result.ID {
		t.Error("alert not linked to its analysis result")
	}
	if first.Status != AlertActive {
		t.Errorf("expected Active alert, got %s", first.Status)
	}
}

func TestRiskEvaluationLifecycle(t *testing.T) {
	eval := NewRiskEvaluation(uuid.New(), 0.45, 1.1, 0.7)

	if eval.RiskLevel != RiskMedium {
		t.Errorf("expected derived level Medium for p=0.45, got %s", eval.RiskLevel)
	}
	if !eval.IsSuccessful() {
		t.Error("fresh evaluation should be successful")
	}

	eval.AddWarning("anomaly model degraded")
	if !eval.IsSuccessful() {
		t.Error("warnings must not fail the evaluation")
	}

	eval.AddError("classifier unreachable")
	if eval.IsSuccessful() {
		t.Error("any error fails the evaluation")
	}

	eval.SoftDelete()
	if eval.DeletedAt == nil {
		t.Error("expected DeletedAt set")
	}
	eval.Reactivate()
	if eval.DeletedAt != nil {
		t.Error("expected DeletedAt cleared")
	}
}

func TestFraudRuleEventResolve(t *testing.T) {
	rule := newRule(t)
	txID := uuid.New()
	event := NewFraudRuleEvent(rule, ContextIP, &txID, nil, "203.0.113.9", "")

	if event.IsResolved() {
		t.Error("fresh event should be unresolved")
	}
	if event.RuleCode != rule.RuleCode {
		t.Error("event should carry the rule code")
	}

	event.Resolve("analyst", "confirmed false positive")

	if !event.IsResolved() {
		t.Error("event should be resolved")
	}
	if event.ResolvedBy != "analyst" || event.ResolutionNotes == "" {
		t.Error("resolution trail incomplete")
	}
}

func TestFraudRuleEventActionEndDate(t *testing.T) {
	t.Run("WithoutDuration", func(t *testing.T) {
		event := NewFraudRuleEvent(newRule(t), ContextIP, nil, nil, "203.0.113.9", "")
		if event.ActionEndDate != nil {
			t.Error("no duration, no action end date")
		}
	})

	t.Run("WithDuration", func(t *testing.T) {
		rule := newRule(t)
		d := 2 * time.Hour
		rule.ActionDuration = &d

		event := NewFraudRuleEvent(rule, ContextIP, nil, nil, "203.0.113.9", "")
		if event.ActionEndDate == nil {
			t.Fatal("expected action end date")
		}
		want := event.CreatedAt.Add(d)
		if !event.ActionEndDate.Equal(want) {
			t.Errorf("ActionEndDate = %v, want %v", event.ActionEndDate, want)
		}
	})
}
