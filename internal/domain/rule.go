// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// RuleCategory determines which context snapshot a rule is matched against.
type RuleCategory string

const (
	CategoryNetwork     RuleCategory = "Network"
	CategoryIP          RuleCategory = "IP"
	CategoryAccount     RuleCategory = "Account"
	CategoryDevice      RuleCategory = "Device"
	CategorySession     RuleCategory = "Session"
	CategoryTransaction RuleCategory = "Transaction"
)

// RuleType classifies how a rule's condition is structured.
type RuleType string

const (
	RuleTypeSimple    RuleType = "Simple"
	RuleTypeThreshold RuleType = "Threshold"
	RuleTypeComplex   RuleType = "Complex"
	RuleTypeVelocity  RuleType = "Velocity"
	RuleTypeBlacklist RuleType = "Blacklist"
)

// ImpactLevel is the declared severity of a rule's subject matter.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "Low"
	ImpactMedium   ImpactLevel = "Medium"
	ImpactHigh     ImpactLevel = "High"
	ImpactCritical ImpactLevel = "Critical"
)

// RuleStatus is the lifecycle state of a rule. Transitions are explicit
// operator choices; there is no automatic promotion.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "Draft"
	RuleStatusActive   RuleStatus = "Active"
	RuleStatusInactive RuleStatus = "Inactive"
	RuleStatusTestMode RuleStatus = "TestMode"
)

// RuleAction is one action applied when a rule triggers.
type RuleAction string

const (
	ActionLog                    RuleAction = "Log"
	ActionNotify                 RuleAction = "Notify"
	ActionRequireVerification    RuleAction = "RequireAdditionalVerification"
	ActionDelayProcessing        RuleAction = "DelayProcessing"
	ActionPutUnderReview         RuleAction = "PutUnderReview"
	ActionRejectTransaction      RuleAction = "RejectTransaction"
	ActionTerminateSession       RuleAction = "TerminateSession"
	ActionLockAccount            RuleAction = "LockAccount"
	ActionSuspendAccount         RuleAction = "SuspendAccount"
	ActionRequireKYCVerification RuleAction = "RequireKYCVerification"
	ActionBlockDevice            RuleAction = "BlockDevice"
	ActionBlockIP                RuleAction = "BlockIP"
	ActionBlacklistIP            RuleAction = "BlacklistIP"
	ActionBlock                  RuleAction = "Block"
	ActionReview                 RuleAction = "Review"
	ActionEscalateToManager      RuleAction = "EscalateToManager"
)

// BlacklistTarget returns the blacklist entry type a blocking action maps to,
// or false when the action does not imply blocking.
func (a RuleAction) BlacklistTarget() (BlacklistType, bool) {
	switch a {
	case ActionBlockIP, ActionBlacklistIP, ActionBlock:
		return BlacklistTypeIP, true
	case ActionBlockDevice:
		return BlacklistTypeDevice, true
	case ActionLockAccount, ActionSuspendAccount:
		return BlacklistTypeAccount, true
	default:
		return "", false
	}
}

// FraudRule is a declarative, priority-ordered condition + action definition.
type FraudRule struct {
	ID          uuid.UUID    `json:"id"`
	RuleCode    string       `json:"ruleCode"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    RuleCategory `json:"category"`
	Type        RuleType     `json:"type"`
	ImpactLevel ImpactLevel  `json:"impactLevel"`
	Status      RuleStatus   `json:"status"`

	// Actions applied on trigger; ActionDuration bounds blocking actions
	// (nil means indefinite).
	Actions        []RuleAction   `json:"actions"`
	ActionDuration *time.Duration `json:"actionDuration,omitempty"`

	// Priority orders evaluation, lower values first.
	Priority int `json:"priority"`

	// Condition is an opaque CEL expression evaluated against the context
	// snapshot by the condition evaluator.
	Condition string `json:"condition"`

	// Validity window, both ends optional.
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	ModifiedBy   string    `json:"modifiedBy"`
}

// NewFraudRule creates a rule in Draft status with a generated rule code.
func NewFraudRule(name, description string, category RuleCategory, ruleType RuleType, impact ImpactLevel, actions []RuleAction, actionDuration *time.Duration, priority int, condition, createdBy string) (*FraudRule, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if condition == "" {
		return nil, fmt.Errorf("%w: rule condition is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	return &FraudRule{
		ID:             uuid.New(),
		RuleCode:       GenerateRuleCode(category, name, now),
		Name:           name,
		Description:    description,
		Category:       category,
		Type:           ruleType,
		ImpactLevel:    impact,
		Status:         RuleStatusDraft,
		Actions:        actions,
		ActionDuration: actionDuration,
		Priority:       priority,
		Condition:      condition,
		CreatedAt:      now,
		LastModified:   now,
		ModifiedBy:     createdBy,
	}, nil
}

// ruleCodeSeq disambiguates codes minted within the same second.
var ruleCodeSeq atomic.Uint64

// GenerateRuleCode derives a human code from category + name + timestamp: a
// category prefix (max 3 chars), the name's word initials (max 5 chars), a
// yyMMddHHmmss stamp and a per-process sequence number so that codes never
// repeat within one process, e.g. "IP_EFL_2608291430550042".
func GenerateRuleCode(category RuleCategory, name string, at time.Time) string {
	cat := strings.ToUpper(string(category))
	if len(cat) > 3 {
		cat = cat[:3]
	}

	var initials strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				initials.WriteRune(unicode.ToUpper(r))
				break
			}
		}
		if initials.Len() >= 5 {
			break
		}
	}

	abbr := initials.String()
	if abbr == "" {
		abbr = strings.ToUpper(uuid.New().String()[:5])
	}

	seq := ruleCodeSeq.Add(1) % 10000
	return fmt.Sprintf("%s_%s_%s%04d", cat, abbr, at.UTC().Format("060102150405"), seq)
}

// Activate puts the rule into live matching.
func (r *FraudRule) Activate(modifiedBy string) {
	r.Status = RuleStatusActive
	r.touch(modifiedBy)
}

// Deactivate removes the rule from matching.
func (r *FraudRule) Deactivate(modifiedBy string) {
	r.Status = RuleStatusInactive
	r.touch(modifiedBy)
}

// SetTestMode makes the rule match only test-mode evaluations.
func (r *FraudRule) SetTestMode(modifiedBy string) {
	r.Status = RuleStatusTestMode
	r.touch(modifiedBy)
}

// UpdateConfiguration replaces the rule's tunable fields.
func (r *FraudRule) UpdateConfiguration(description string, impact ImpactLevel, actions []RuleAction, actionDuration *time.Duration, priority int, condition string, validFrom, validTo *time.Time, modifiedBy string) {
	r.Description = description
	r.ImpactLevel = impact
	r.Actions = actions
	r.ActionDuration = actionDuration
	r.Priority = priority
	r.Condition = condition
	r.ValidFrom = validFrom
	r.ValidTo = validTo
	r.touch(modifiedBy)
}

// MatchableAt reports whether the rule may be matched at the given instant.
// A non-Active rule never matches live traffic regardless of its validity
// window; an Active rule outside its window never matches. TestMode rules
// match only when the evaluation itself runs in test mode.
func (r *FraudRule) MatchableAt(now time.Time, testMode bool) bool {
	switch r.Status {
	case RuleStatusActive:
	case RuleStatusTestMode:
		if !testMode {
			return false
		}
	default:
		return false
	}

	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return false
	}
	return true
}

func (r *FraudRule) touch(modifiedBy string) {
	r.LastModified = time.Now().UTC()
	r.ModifiedBy = modifiedBy
}
