package ensemble

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/fraudshield/kestrel/internal/domain"
)

type fixedModel struct {
	name string
	pred *Prediction
	err  error
}

func (f *fixedModel) Predict(context.Context, FeatureVector) (*Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pred, nil
}

func (f *fixedModel) Name() string { return f.name }

func classifier(p float64) ModelClient {
	return &fixedModel{name: "lightgbm", pred: &Prediction{Probability: p, Model: "lightgbm"}}
}

func anomaly(p, score float64) ModelClient {
	return &fixedModel{name: "pca", pred: &Prediction{Probability: p, AnomalyScore: score, Model: "pca"}}
}

func down(name string) ModelClient {
	return &fixedModel{name: name, err: errors.New("connection refused")}
}

func newScorer(c, a ModelClient) *Scorer {
	return NewScorer(c, a, domain.DefaultConfig().Ensemble, nil)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreWeightedCombination(t *testing.T) {
	s := newScorer(classifier(0.8), anomaly(0.4, 1.1))

	score, err := s.Score(context.Background(), FeatureVector{"amount": 100})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	want := 0.7*0.8 + 0.3*0.4
	if !almostEqual(score.FraudProbability, want) {
		t.Errorf("FraudProbability = %v, want %v", score.FraudProbability, want)
	}
	if score.AnomalyScore != 1.1 {
		t.Errorf("AnomalyScore = %v, want 1.1", score.AnomalyScore)
	}
	if score.Health.FallbackUsed {
		t.Errorf("FallbackUsed = true with both models up")
	}
	if score.PrimaryModel != "Ensemble" {
		t.Errorf("PrimaryModel = %s, want Ensemble", score.PrimaryModel)
	}
	if len(score.UsedAlgorithms) != 2 {
		t.Errorf("UsedAlgorithms = %v, want both models", score.UsedAlgorithms)
	}
}

func TestScoreVotingGate(t *testing.T) {
	tests := []struct {
		name       string
		classifier float64
		anomalyP   float64
		wantFraud  bool
	}{
		{"both vote fraud", 0.9, 0.7, true},
		{"only classifier votes", 0.9, 0.2, false},
		{"only anomaly votes", 0.3, 0.9, false},
		{"neither votes", 0.2, 0.1, false},
		{"exactly at threshold does not vote", 0.5, 0.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScorer(classifier(tt.classifier), anomaly(tt.anomalyP, 1.0))
			score, err := s.Score(context.Background(), nil)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if score.IsFraud != tt.wantFraud {
				t.Errorf("IsFraud = %v, want %v (weighted p=%v)", score.IsFraud, tt.wantFraud, score.FraudProbability)
			}
		})
	}
}

func TestScoreConfidenceHeuristic(t *testing.T) {
	tests := []struct {
		name           string
		classifier     float64
		anomalyScore   float64
		wantConfidence float64
	}{
		// Weighted p = 0.7c + 0.3*0 with anomaly probability 0.
		{"extreme low p, extreme low anomaly", 0.1, 0.1, (0.9 + 0.8) / 2},
		{"mid p, mid anomaly", 0.7, 1.0, (0.7 + 0.6) / 2},
		{"mid p, extreme high anomaly", 0.7, 2.5, (0.7 + 0.8) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScorer(classifier(tt.classifier), anomaly(0, tt.anomalyScore))
			score, err := s.Score(context.Background(), nil)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if !almostEqual(score.Confidence, tt.wantConfidence) {
				t.Errorf("Confidence = %v, want %v", score.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestScoreFallbackToClassifier(t *testing.T) {
	s := newScorer(classifier(0.6), down("pca"))

	score, err := s.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(score.FraudProbability, 0.6) {
		t.Errorf("FraudProbability = %v, want classifier's 0.6", score.FraudProbability)
	}
	if !score.Health.FallbackUsed {
		t.Errorf("FallbackUsed = false with anomaly model down")
	}
	if score.Health.AnomalyAvailable {
		t.Errorf("AnomalyAvailable = true with anomaly model down")
	}
	if score.PrimaryModel != "lightgbm" {
		t.Errorf("PrimaryModel = %s, want lightgbm", score.PrimaryModel)
	}
}

func TestScoreFallbackConfidenceStrictlyLower(t *testing.T) {
	both := newScorer(classifier(0.6), anomaly(0.6, 1.2))
	full, err := both.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score (both): %v", err)
	}

	classifierOnly := newScorer(classifier(0.6), down("pca"))
	degraded, err := classifierOnly.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score (classifier only): %v", err)
	}
	if degraded.Confidence >= full.Confidence {
		t.Errorf("classifier-only confidence %v >= both-models confidence %v", degraded.Confidence, full.Confidence)
	}

	anomalyOnly := newScorer(down("lightgbm"), anomaly(0.6, 1.2))
	degraded, err = anomalyOnly.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score (anomaly only): %v", err)
	}
	if degraded.Confidence >= full.Confidence {
		t.Errorf("anomaly-only confidence %v >= both-models confidence %v", degraded.Confidence, full.Confidence)
	}
}

func TestScoreBothModelsDownReturnsNeutralSentinel(t *testing.T) {
	s := newScorer(down("lightgbm"), down("pca"))

	score, err := s.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score: %v, want neutral sentinel not error", err)
	}
	if score.FraudProbability != neutralProbability {
		t.Errorf("FraudProbability = %v, want %v", score.FraudProbability, neutralProbability)
	}
	if score.Confidence != neutralConfidence {
		t.Errorf("Confidence = %v, want %v", score.Confidence, neutralConfidence)
	}
	if score.IsFraud {
		t.Errorf("IsFraud = true from neutral sentinel")
	}
	if !score.Health.FallbackUsed || score.Health.ErrorCount != 2 {
		t.Errorf("Health = %+v, want FallbackUsed with 2 errors", score.Health)
	}
}

func TestScoreNilClientsAreUnavailable(t *testing.T) {
	s := NewScorer(nil, nil, domain.DefaultConfig().Ensemble, nil)

	score, err := s.Score(context.Background(), nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.PrimaryModel != "None" {
		t.Errorf("PrimaryModel = %s, want None", score.PrimaryModel)
	}
}
