package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the tri-state outcome of an analysis.
type Decision string

const (
	DecisionApprove        Decision = "Approve"
	DecisionDeny           Decision = "Deny"
	DecisionReviewRequired Decision = "ReviewRequired"
)

// AnalysisStatus marks whether the pipeline produced a usable result.
type AnalysisStatus string

const (
	AnalysisCompleted AnalysisStatus = "Completed"
	AnalysisFailed    AnalysisStatus = "Failed"
)

// RiskScore bundles the calibrated probability with the factor codes that
// contributed to it.
type RiskScore struct {
	Probability float64   `json:"probability"`
	Level       RiskLevel `json:"level"`
	FactorCodes []string  `json:"factorCodes"`
}

// NewRiskScore derives the level from the probability bands.
func NewRiskScore(probability float64, factorCodes []string) RiskScore {
	return RiskScore{
		Probability: probability,
		Level:       RiskLevelForProbability(probability),
		FactorCodes: factorCodes,
	}
}

// ModelHealth records which sub-models answered during scoring.
type ModelHealth struct {
	ClassifierAvailable bool `json:"classifierAvailable"`
	AnomalyAvailable    bool `json:"anomalyAvailable"`
	FallbackUsed        bool `json:"fallbackUsed"`
	ErrorCount          int  `json:"errorCount"`
}

// ModelScore is one sub-model's contribution inside MLAnalysisResult.
type ModelScore struct {
	Probability  float64 `json:"probability"`
	AnomalyScore float64 `json:"anomalyScore"`
	IsAvailable  bool    `json:"isAvailable"`
	Source       string  `json:"source"` // Primary, SubModel, Fallback
}

// MLAnalysisResult is the optional model-side sub-record of an analysis.
type MLAnalysisResult struct {
	PrimaryModel      string                `json:"primaryModel"`
	ModelScores       map[string]ModelScore `json:"modelScores"`
	ModelHealth       ModelHealth           `json:"modelHealth"`
	Confidence        float64               `json:"confidence"`
	ProcessingTimeMs  int64                 `json:"processingTimeMs"`
	FeatureImportance map[string]float64    `json:"featureImportance,omitempty"`
	UsedAlgorithms    []string              `json:"usedAlgorithms"`
}

// TriggeredRuleInfo summarizes one matched rule inside an analysis result.
type TriggeredRuleInfo struct {
	RuleID      uuid.UUID    `json:"ruleId"`
	RuleCode    string       `json:"ruleCode"`
	RuleName    string       `json:"ruleName"`
	ContextType ContextType  `json:"contextType"`
	ImpactLevel ImpactLevel  `json:"impactLevel"`
	Actions     []RuleAction `json:"actions"`
}

// AnalysisResult is the top-level outcome for one transaction.
type AnalysisResult struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transactionId"`

	AnomalyScore     float64   `json:"anomalyScore"`
	FraudProbability float64   `json:"fraudProbability"`
	RiskScore        RiskScore `json:"riskScore"`

	Decision   Decision       `json:"decision"`
	Status     AnalysisStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	AnalyzedAt time.Time      `json:"analyzedAt"`

	// Rule-side audit: rules evaluated vs rules that matched.
	TotalRuleCount     int                 `json:"totalRuleCount"`
	TriggeredRuleCount int                 `json:"triggeredRuleCount"`
	TriggeredRules     []TriggeredRuleInfo `json:"triggeredRules,omitempty"`
	AppliedActions     []string            `json:"appliedActions,omitempty"`

	RiskFactors []RiskFactor      `json:"riskFactors,omitempty"`
	MLAnalysis  *MLAnalysisResult `json:"mlAnalysis,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	alert *FraudAlert
}

// NewAnalysisResult creates a completed result shell; risk factors and rule
// info are attached through the Add* operations.
func NewAnalysisResult(transactionID uuid.UUID, anomalyScore, fraudProbability float64, decision Decision) *AnalysisResult {
	return &AnalysisResult{
		ID:               uuid.New(),
		TransactionID:    transactionID,
		AnomalyScore:     anomalyScore,
		FraudProbability: fraudProbability,
		RiskScore:        NewRiskScore(fraudProbability, nil),
		Decision:         decision,
		Status:           AnalysisCompleted,
		AnalyzedAt:       time.Now().UTC(),
	}
}

// NewFailedAnalysisResult is the fail-safe constructor: a failed analysis is
// always ReviewRequired, never Approve.
func NewFailedAnalysisResult(transactionID uuid.UUID, errMsg string) *AnalysisResult {
	return &AnalysisResult{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Status:        AnalysisFailed,
		Error:         errMsg,
		Decision:      DecisionReviewRequired,
		AnalyzedAt:    time.Now().UTC(),
	}
}

// AddRiskFactor attaches evidence and back-fills the owning ids.
func (a *AnalysisResult) AddRiskFactor(factor *RiskFactor) {
	factor.AnalysisResultID = a.ID
	txID := a.TransactionID
	factor.TransactionID = &txID
	a.RiskFactors = append(a.RiskFactors, *factor)
	a.RiskScore.FactorCodes = append(a.RiskScore.FactorCodes, factor.Code)
}

// AddTriggeredRule records a matched rule and keeps the audit count in step.
func (a *AnalysisResult) AddTriggeredRule(info TriggeredRuleInfo) {
	a.TriggeredRules = append(a.TriggeredRules, info)
	a.TriggeredRuleCount = len(a.TriggeredRules)
	for _, action := range info.Actions {
		a.addAppliedAction(string(action))
	}
}

func (a *AnalysisResult) addAppliedAction(action string) {
	for _, existing := range a.AppliedActions {
		if existing == action {
			return
		}
	}
	a.AppliedActions = append(a.AppliedActions, action)
}

// AddWarning records a non-fatal degradation (missing context, model
// fallback) on the result.
func (a *AnalysisResult) AddWarning(msg string) {
	a.Warnings = append(a.Warnings, msg)
}

// SetError marks the result failed after creation.
func (a *AnalysisResult) SetError(errMsg string) {
	a.Error = errMsg
	a.Status = AnalysisFailed
	a.Decision = DecisionReviewRequired
}

// SpawnAlert creates the result's single FraudAlert. Subsequent calls return
// the existing alert.
func (a *AnalysisResult) SpawnAlert(accountID uuid.UUID) *FraudAlert {
	if a.alert != nil {
		return a.alert
	}
	a.alert = NewFraudAlert(a.TransactionID, accountID, a.RiskScore, a.RiskScore.FactorCodes)
	a.alert.AnalysisResultID = a.ID
	return a.alert
}

// Alert returns the spawned alert, or nil when risk never crossed the
// alerting threshold.
func (a *AnalysisResult) Alert() *FraudAlert {
	return a.alert
}

// RiskEvaluation is the per-request scoring record persisted alongside the
// analysis result.
type RiskEvaluation struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transactionId"`

	FraudProbability float64   `json:"fraudProbability"`
	AnomalyScore     float64   `json:"anomalyScore"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	ConfidenceScore  float64   `json:"confidenceScore"`

	MLScore        float64 `json:"mlScore"`
	RuleBasedScore float64 `json:"ruleBasedScore"`

	UsedAlgorithms   []string `json:"usedAlgorithms"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`

	EvaluatedAt time.Time  `json:"evaluatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// NewRiskEvaluation derives the risk level from the probability bands.
func NewRiskEvaluation(transactionID uuid.UUID, fraudProbability, anomalyScore, confidence float64) *RiskEvaluation {
	return &RiskEvaluation{
		ID:               uuid.New(),
		TransactionID:    transactionID,
		FraudProbability: fraudProbability,
		AnomalyScore:     anomalyScore,
		RiskLevel:        RiskLevelForProbability(fraudProbability),
		ConfidenceScore:  confidence,
		EvaluatedAt:      time.Now().UTC(),
	}
}

// AddError records a fatal problem; any error makes the evaluation
// unsuccessful.
func (e *RiskEvaluation) AddError(msg string) {
	e.Errors = append(e.Errors, msg)
}

// AddWarning records a non-fatal degradation.
func (e *RiskEvaluation) AddWarning(msg string) {
	e.Warnings = append(e.Warnings, msg)
}

// IsSuccessful is false the moment any error is present.
func (e *RiskEvaluation) IsSuccessful() bool {
	return len(e.Errors) == 0
}

// SoftDelete marks the evaluation deleted without removing the row.
func (e *RiskEvaluation) SoftDelete() {
	now := time.Now().UTC()
	e.DeletedAt = &now
}

// Reactivate clears a soft delete.
func (e *RiskEvaluation) Reactivate() {
	e.DeletedAt = nil
}

// AlertStatus is the investigation lifecycle of a FraudAlert.
type AlertStatus string

const (
	AlertActive        AlertStatus = "Active"
	AlertInvestigating AlertStatus = "Investigating"
	AlertResolved      AlertStatus = "Resolved"
	AlertFalsePositive AlertStatus = "FalsePositive"
)

// FraudAlert is spawned at most once per analysis when risk crosses the
// alerting threshold.
type FraudAlert struct {
	ID               uuid.UUID   `json:"id"`
	TransactionID    uuid.UUID   `json:"transactionId"`
	AccountID        uuid.UUID   `json:"accountId"`
	AnalysisResultID uuid.UUID   `json:"analysisResultId"`
	RiskScore        RiskScore   `json:"riskScore"`
	Factors          []string    `json:"factors"`
	Status           AlertStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
	ResolvedBy       string      `json:"resolvedBy,omitempty"`
}

// NewFraudAlert creates an active alert.
func NewFraudAlert(transactionID, accountID uuid.UUID, score RiskScore, factors []string) *FraudAlert {
	return &FraudAlert{
		ID:            uuid.New(),
		TransactionID: transactionID,
		AccountID:     accountID,
		RiskScore:     score,
		Factors:       factors,
		Status:        AlertActive,
		CreatedAt:     time.Now().UTC(),
	}
}

// Resolve closes the alert with the given terminal status.
func (f *FraudAlert) Resolve(status AlertStatus, by string) {
	now := time.Now().UTC()
	f.Status = status
	f.ResolvedAt = &now
	f.ResolvedBy = by
}
