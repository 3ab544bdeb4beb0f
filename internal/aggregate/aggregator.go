// Package aggregate merges rule and model evidence into one analysis result.
package aggregate

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/ensemble"
	"github.com/fraudshield/kestrel/internal/rules"
)

// Input carries everything one aggregation pass needs. RuleResults holds
// the per-context evaluation outcomes; Score may be nil when model scoring
// was skipped.
type Input struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Amount        float64

	RuleResults []*rules.Result
	Score       *ensemble.Score

	// Blocked is true when the transaction's IP, account or device has an
	// active blocklist entry. Blocklist hits outrank every other signal.
	Blocked       bool
	BlockedReason string

	// Warnings carries degradations collected upstream, e.g. a context
	// collaborator being unreachable.
	Warnings []string
}

// Aggregator turns rule events and ensemble scores into a decision.
type Aggregator struct {
	cfg    domain.DecisionConfig
	logger *slog.Logger
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(cfg domain.DecisionConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DenyThreshold == 0 {
		cfg.DenyThreshold = 0.85
	}
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = 0.5
	}
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = 0.5
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// Aggregate produces exactly one AnalysisResult and one RiskEvaluation for
// a transaction. It never returns an error; unusable input belongs in
// AggregateFailed.
func (a *Aggregator) Aggregate(in Input) (*domain.AnalysisResult, *domain.RiskEvaluation) {
	start := time.Now()

	probability, anomalyScore, confidence := a.scores(in)
	probability = a.adjustForAmount(probability, in.Amount)

	decision := a.decide(probability, in)

	result := domain.NewAnalysisResult(in.TransactionID, anomalyScore, probability, decision)

	ruleScore := 0.0
	totalRules := 0
	for _, rr := range in.RuleResults {
		if rr == nil {
			continue
		}
		totalRules += rr.TotalRules
		if rr.Score > ruleScore {
			ruleScore = rr.Score
		}
		for _, rule := range rr.Triggered {
			result.AddTriggeredRule(domain.TriggeredRuleInfo{
				RuleID:      rule.ID,
				RuleCode:    rule.RuleCode,
				RuleName:    rule.Name,
				ContextType: rr.ContextType,
				ImpactLevel: rule.ImpactLevel,
				Actions:     rule.Actions,
			})
		}
		for _, factor := range rr.Factors {
			result.AddRiskFactor(factor)
		}
		for _, w := range rr.Warnings {
			result.AddWarning(w)
		}
	}
	result.TotalRuleCount = totalRules

	mlScore := 0.0
	var usedAlgorithms []string
	if in.Score != nil {
		mlScore = in.Score.FraudProbability
		usedAlgorithms = in.Score.UsedAlgorithms
		result.MLAnalysis = a.mlAnalysis(in.Score)

		modelFactor := domain.NewRiskFactor("ENSEMBLE_SCORE",
			"Combined model fraud probability", in.Score.FraudProbability, domain.SourceEnsemble)
		result.AddRiskFactor(modelFactor)

		if in.Score.Health.FallbackUsed {
			result.AddWarning("model scoring degraded: fallback used")
		}
	}

	if in.Blocked {
		blockFactor := domain.NewRiskFactor("BLACKLIST_HIT", in.BlockedReason, 1.0, domain.SourceRule)
		result.AddRiskFactor(blockFactor)
	}

	for _, w := range in.Warnings {
		result.AddWarning(w)
	}

	// Highest-severity evidence first; stable so equal factors keep their
	// source order for audits.
	sort.SliceStable(result.RiskFactors, func(i, j int) bool {
		return result.RiskFactors[i].Severity.Rank() > result.RiskFactors[j].Severity.Rank()
	})
	result.RiskScore = domain.NewRiskScore(probability, result.RiskScore.FactorCodes)

	eval := domain.NewRiskEvaluation(in.TransactionID, probability, anomalyScore, confidence)
	eval.MLScore = mlScore
	eval.RuleBasedScore = ruleScore
	eval.UsedAlgorithms = usedAlgorithms
	eval.Warnings = result.Warnings
	eval.ProcessingTimeMs = time.Since(start).Milliseconds()

	if probability >= a.cfg.AlertThreshold || decision == domain.DecisionDeny {
		result.SpawnAlert(in.AccountID)
	}

	a.logger.Info("analysis aggregated",
		"transaction_id", in.TransactionID,
		"decision", decision,
		"probability", probability,
		"triggered_rules", result.TriggeredRuleCount,
		"blocked", in.Blocked)

	return result, eval
}

// AggregateFailed produces the fail-safe result for an unrecoverable
// pipeline error. The decision is always ReviewRequired, never Approve.
func (a *Aggregator) AggregateFailed(transactionID uuid.UUID, errMsg string) (*domain.AnalysisResult, *domain.RiskEvaluation) {
	result := domain.NewFailedAnalysisResult(transactionID, errMsg)

	eval := domain.NewRiskEvaluation(transactionID, 0, 0, 0)
	eval.AddError(errMsg)

	a.logger.Error("analysis failed",
		"transaction_id", transactionID,
		"error", errMsg)

	return result, eval
}

// decide applies the precedence ladder: blocklist, deny threshold, review
// threshold or severe rule, approve.
func (a *Aggregator) decide(probability float64, in Input) domain.Decision {
	if in.Blocked {
		return domain.DecisionDeny
	}
	if probability >= a.cfg.DenyThreshold {
		return domain.DecisionDeny
	}
	if probability >= a.cfg.ReviewThreshold || a.severeRuleFired(in.RuleResults) {
		return domain.DecisionReviewRequired
	}
	return domain.DecisionApprove
}

func (a *Aggregator) severeRuleFired(results []*rules.Result) bool {
	for _, rr := range results {
		if rr == nil {
			continue
		}
		for _, rule := range rr.Triggered {
			if rule.ImpactLevel == domain.ImpactCritical || rule.ImpactLevel == domain.ImpactHigh {
				return true
			}
		}
	}
	return false
}

func (a *Aggregator) scores(in Input) (probability, anomalyScore, confidence float64) {
	if in.Score != nil {
		return in.Score.FraudProbability, in.Score.AnomalyScore, in.Score.Confidence
	}
	// Rule evidence only.
	for _, rr := range in.RuleResults {
		if rr != nil && rr.Score > probability {
			probability = rr.Score
		}
	}
	return probability, 0, 0.5
}

// adjustForAmount scales probability for large transactions. Tiers are
// configuration data; the highest matching MinAmount wins.
func (a *Aggregator) adjustForAmount(probability, amount float64) float64 {
	var best *domain.AmountTier
	for i := range a.cfg.AmountTiers {
		tier := &a.cfg.AmountTiers[i]
		if amount >= tier.MinAmount && (best == nil || tier.MinAmount > best.MinAmount) {
			best = tier
		}
	}
	if best == nil {
		return probability
	}
	adjusted := probability * best.Multiplier
	if adjusted > 1 {
		return 1
	}
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

func (a *Aggregator) mlAnalysis(score *ensemble.Score) *domain.MLAnalysisResult {
	modelScores := make(map[string]domain.ModelScore, len(score.UsedAlgorithms))
	for _, algo := range score.UsedAlgorithms {
		source := "SubModel"
		if algo == score.PrimaryModel {
			source = "Primary"
		}
		if score.Health.FallbackUsed {
			source = "Fallback"
		}
		modelScores[algo] = domain.ModelScore{
			Probability:  score.FraudProbability,
			AnomalyScore: score.AnomalyScore,
			IsAvailable:  true,
			Source:       source,
		}
	}

	return &domain.MLAnalysisResult{
		PrimaryModel:     score.PrimaryModel,
		ModelScores:      modelScores,
		ModelHealth:      score.Health,
		Confidence:       score.Confidence,
		ProcessingTimeMs: score.ProcessingTime.Milliseconds(),
		UsedAlgorithms:   score.UsedAlgorithms,
	}
}
