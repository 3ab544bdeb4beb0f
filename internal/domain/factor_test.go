package domain

import "testing"

func TestSeverityForConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       RiskLevel
	}{
		{0.0, RiskLow},
		{0.39, RiskLow},
		{0.4, RiskMedium},
		{0.59, RiskMedium},
		{0.6, RiskHigh},
		{0.84, RiskHigh},
		{0.85, RiskCritical},
		{1.0, RiskCritical},
	}

	for _, tt := range tests {
		if got := SeverityForConfidence(tt.confidence); got != tt.want {
			t.Errorf("SeverityForConfidence(%.2f) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestRiskLevelRank(t *testing.T) {
	order := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if RiskLevel("Unknown").Rank() != 0 {
		t.Error("unknown level should rank with Low")
	}
}

func TestNewRiskFactor(t *testing.T) {
	factor := NewRiskFactor("VELOCITY_SPIKE", "unusual transaction velocity", 0.7, SourceRule)

	if factor.Severity != RiskHigh {
		t.Errorf("expected derived severity High, got %s", factor.Severity)
	}
	if factor.Source != SourceRule {
		t.Errorf("expected source Rule, got %s", factor.Source)
	}
	if factor.DetectedAt.IsZero() {
		t.Error("expected DetectedAt to be set")
	}
}

func TestRiskLevelForProbability(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskLevel
	}{
		{0.1, RiskLow},
		{0.4, RiskMedium},
		{0.6, RiskHigh},
		{0.85, RiskCritical},
	}

	for _, tt := range tests {
		if got := RiskLevelForProbability(tt.p); got != tt.want {
			t.Errorf("RiskLevelForProbability(%.2f) = %s, want %s", tt.p, got, tt.want)
		}
	}
}
