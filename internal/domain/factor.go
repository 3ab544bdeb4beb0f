package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel orders severity Low < Medium < High < Critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Rank returns the ordinal position of the level for comparisons.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// FactorSource tags where a risk factor came from.
type FactorSource string

const (
	SourceRule     FactorSource = "Rule"
	SourceML       FactorSource = "ML"
	SourceEnsemble FactorSource = "Ensemble"
	SourceVFactor  FactorSource = "VFactor"
)

// RiskFactor is one piece of evidence attached to an analysis result.
type RiskFactor struct {
	ID          uuid.UUID    `json:"id"`
	Code        string       `json:"code"`
	Description string       `json:"description"`
	Confidence  float64      `json:"confidence"`
	Severity    RiskLevel    `json:"severity"`
	Source      FactorSource `json:"source"`

	// Back-reference filled in by AnalysisResult.AddRiskFactor.
	AnalysisResultID uuid.UUID  `json:"analysisResultId"`
	TransactionID    *uuid.UUID `json:"transactionId,omitempty"`

	RuleID      *uuid.UUID `json:"ruleId,omitempty"`
	ActionTaken string     `json:"actionTaken,omitempty"`
	DetectedAt  time.Time  `json:"detectedAt"`
}

// NewRiskFactor derives severity from confidence deterministically.
func NewRiskFactor(code, description string, confidence float64, source FactorSource) *RiskFactor {
	return &RiskFactor{
		ID:          uuid.New(),
		Code:        code,
		Description: description,
		Confidence:  confidence,
		Severity:    SeverityForConfidence(confidence),
		Source:      source,
		DetectedAt:  time.Now().UTC(),
	}
}

// SeverityForConfidence maps a 0-1 confidence onto a risk level:
// >=0.85 Critical, >=0.6 High, >=0.4 Medium, else Low.
func SeverityForConfidence(confidence float64) RiskLevel {
	switch {
	case confidence >= 0.85:
		return RiskCritical
	case confidence >= 0.6:
		return RiskHigh
	case confidence >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskLevelForProbability maps a fraud probability onto the standard level
// bands used across results.
func RiskLevelForProbability(p float64) RiskLevel {
	switch {
	case p >= 0.85:
		return RiskCritical
	case p >= 0.6:
		return RiskHigh
	case p >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}
