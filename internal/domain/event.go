package domain

import (
	"time"

	"github.com/google/uuid"
)

// FraudRuleEvent is the immutable audit record of one rule trigger. It is
// created only by the rule evaluator; the scoring path never mutates it.
// Resolution fields are appended later by an operator.
type FraudRuleEvent struct {
	ID       uuid.UUID `json:"id"`
	RuleID   uuid.UUID `json:"ruleId"`
	RuleName string    `json:"ruleName"`
	RuleCode string    `json:"ruleCode"`

	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
	AccountID     *uuid.UUID `json:"accountId,omitempty"`
	IPAddress     string     `json:"ipAddress,omitempty"`
	DeviceID      string     `json:"deviceId,omitempty"`

	ContextType ContextType  `json:"contextType"`
	ImpactLevel ImpactLevel  `json:"impactLevel"`
	Actions     []RuleAction `json:"actions"`

	// ActionEndDate = CreatedAt + ActionDuration when the rule carries a
	// duration; nil for indefinite actions.
	ActionDuration *time.Duration `json:"actionDuration,omitempty"`
	ActionEndDate  *time.Time     `json:"actionEndDate,omitempty"`

	// Per-rule evaluation warning (condition errors are recorded here, they
	// never abort the batch).
	Warning string `json:"warning,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	ResolvedDate    *time.Time `json:"resolvedDate,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
}

// NewFraudRuleEvent materializes the audit record for one rule trigger.
func NewFraudRuleEvent(rule *FraudRule, contextType ContextType, transactionID, accountID *uuid.UUID, ipAddress, deviceID string) *FraudRuleEvent {
	now := time.Now().UTC()
	ev := &FraudRuleEvent{
		ID:             uuid.New(),
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		RuleCode:       rule.RuleCode,
		TransactionID:  transactionID,
		AccountID:      accountID,
		IPAddress:      ipAddress,
		DeviceID:       deviceID,
		ContextType:    contextType,
		ImpactLevel:    rule.ImpactLevel,
		Actions:        rule.Actions,
		ActionDuration: rule.ActionDuration,
		CreatedAt:      now,
	}
	if rule.ActionDuration != nil {
		end := now.Add(*rule.ActionDuration)
		ev.ActionEndDate = &end
	}
	return ev
}

// Resolve appends the resolution trail; creation data is never rewritten.
func (e *FraudRuleEvent) Resolve(by, notes string) {
	now := time.Now().UTC()
	e.ResolvedDate = &now
	e.ResolvedBy = by
	e.ResolutionNotes = notes
}

// IsResolved reports whether an operator has closed the event.
func (e *FraudRuleEvent) IsResolved() bool {
	return e.ResolvedDate != nil
}
