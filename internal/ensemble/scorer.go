package ensemble

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fraudshield/kestrel/internal/domain"
)

// Neutral sentinel returned when both sub-models are unavailable. The
// aggregator then decides on rule evidence alone.
const (
	neutralProbability = 0.3
	neutralAnomaly     = 0.6
	neutralConfidence  = 0.5
)

// Score is the combined outcome of one scoring pass.
type Score struct {
	FraudProbability float64
	AnomalyScore     float64
	Confidence       float64

	// IsFraud is the ensemble's own fraud determination. Under weighted
	// voting the weighted probability alone never flags fraud; both
	// sub-models must vote.
	IsFraud bool

	PrimaryModel   string
	UsedAlgorithms []string
	Health         domain.ModelHealth
	ProcessingTime time.Duration
}

// Scorer combines the classifier and anomaly detector into one calibrated
// probability with health-aware fallback.
type Scorer struct {
	classifier ModelClient
	anomaly    ModelClient
	cfg        domain.EnsembleConfig

	// UseWeightedVoting gates the fraud determination on both sub-models
	// voting above VotingThreshold.
	UseWeightedVoting bool

	logger *slog.Logger
}

// NewScorer creates a scorer over two model clients. Either client may be
// nil, which counts as that model being permanently unavailable.
func NewScorer(classifier, anomaly ModelClient, cfg domain.EnsembleConfig, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClassifierWeight == 0 && cfg.AnomalyWeight == 0 {
		cfg.ClassifierWeight = 0.7
		cfg.AnomalyWeight = 0.3
	}
	if cfg.VotingThreshold == 0 {
		cfg.VotingThreshold = 0.5
	}
	if cfg.FallbackPenalty == 0 {
		cfg.FallbackPenalty = 0.15
	}
	return &Scorer{
		classifier:        classifier,
		anomaly:           anomaly,
		cfg:               cfg,
		UseWeightedVoting: true,
		logger:            logger,
	}
}

// Score calls both models concurrently and combines whatever answered.
// A sub-model failure is degradation, never an error; Score only fails on
// context cancellation.
func (s *Scorer) Score(ctx context.Context, features FeatureVector) (*Score, error) {
	start := time.Now()

	var classifierPred, anomalyPred *Prediction
	var classifierErr, anomalyErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.classifier == nil {
			classifierErr = domain.ErrNotFound
			return nil
		}
		classifierPred, classifierErr = s.classifier.Predict(gctx, features)
		return nil
	})
	g.Go(func() error {
		if s.anomaly == nil {
			anomalyErr = domain.ErrNotFound
			return nil
		}
		anomalyPred, anomalyErr = s.anomaly.Predict(gctx, features)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score := s.combine(classifierPred, anomalyPred)
	score.ProcessingTime = time.Since(start)

	if classifierErr != nil {
		s.logger.Warn("classifier unavailable", "error", classifierErr)
	}
	if anomalyErr != nil {
		s.logger.Warn("anomaly model unavailable", "error", anomalyErr)
	}

	s.logger.Debug("ensemble score computed",
		"probability", score.FraudProbability,
		"anomaly_score", score.AnomalyScore,
		"confidence", score.Confidence,
		"primary_model", score.PrimaryModel,
		"fallback", score.Health.FallbackUsed)

	return score, nil
}

func (s *Scorer) combine(classifier, anomaly *Prediction) *Score {
	health := domain.ModelHealth{
		ClassifierAvailable: classifier != nil,
		AnomalyAvailable:    anomaly != nil,
	}

	switch {
	case classifier != nil && anomaly != nil:
		p := s.cfg.ClassifierWeight*classifier.Probability + s.cfg.AnomalyWeight*anomaly.Probability
		isFraud := p >= s.cfg.VotingThreshold
		if s.UseWeightedVoting {
			isFraud = classifier.Probability > s.cfg.VotingThreshold &&
				anomaly.Probability > s.cfg.VotingThreshold
		}
		return &Score{
			FraudProbability: clamp01(p),
			AnomalyScore:     anomaly.AnomalyScore,
			Confidence:       confidence(p, anomaly.AnomalyScore),
			IsFraud:          isFraud,
			PrimaryModel:     "Ensemble",
			UsedAlgorithms:   []string{classifier.Model, anomaly.Model},
			Health:           health,
		}

	case classifier != nil:
		health.FallbackUsed = true
		health.ErrorCount = 1
		p := classifier.Probability
		// No anomaly reading exists, so its confidence contribution stays
		// at the mid-range bucket rather than counting as an extreme.
		fallbackConfidence := (probabilityConfidence(p) + 0.6) / 2
		return &Score{
			FraudProbability: clamp01(p),
			AnomalyScore:     0,
			Confidence:       clamp01(fallbackConfidence - s.cfg.FallbackPenalty),
			IsFraud:          !s.UseWeightedVoting && p >= s.cfg.VotingThreshold,
			PrimaryModel:     classifier.Model,
			UsedAlgorithms:   []string{classifier.Model},
			Health:           health,
		}

	case anomaly != nil:
		health.FallbackUsed = true
		health.ErrorCount = 1
		p := anomaly.Probability
		return &Score{
			FraudProbability: clamp01(p),
			AnomalyScore:     anomaly.AnomalyScore,
			Confidence:       clamp01(confidence(p, anomaly.AnomalyScore) - s.cfg.FallbackPenalty),
			IsFraud:          !s.UseWeightedVoting && p >= s.cfg.VotingThreshold,
			PrimaryModel:     anomaly.Model,
			UsedAlgorithms:   []string{anomaly.Model},
			Health:           health,
		}

	default:
		health.FallbackUsed = true
		health.ErrorCount = 2
		return &Score{
			FraudProbability: neutralProbability,
			AnomalyScore:     neutralAnomaly,
			Confidence:       neutralConfidence,
			IsFraud:          false,
			PrimaryModel:     "None",
			UsedAlgorithms:   nil,
			Health:           health,
		}
	}
}

// confidence treats score extremes as more trustworthy than mid-range
// values: models are most reliable far from their decision boundary.
func confidence(probability, anomalyScore float64) float64 {
	anomalyConfidence := 0.6
	if anomalyScore < 0.5 || anomalyScore > 2.0 {
		anomalyConfidence = 0.8
	}

	return (probabilityConfidence(probability) + anomalyConfidence) / 2
}

func probabilityConfidence(probability float64) float64 {
	if probability < 0.2 || probability > 0.8 {
		return 0.9
	}
	return 0.7
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
