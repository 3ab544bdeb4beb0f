package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
)

// Blocker receives blacklist additions produced by blocking rule actions.
type Blocker interface {
	Add(ctx context.Context, item *domain.BlacklistItem) error
}

// Evaluator matches context snapshots against the catalog and turns matched
// rules into events, risk factors and blacklist additions.
type Evaluator struct {
	catalog *Catalog
	blocker Blocker
	logger  *slog.Logger
}

// NewEvaluator creates a rule evaluator. blocker may be nil, in which case
// blocking actions are recorded on events but no blacklist entry is written.
func NewEvaluator(catalog *Catalog, blocker Blocker, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		catalog: catalog,
		blocker: blocker,
		logger:  logger,
	}
}

// Result is the outcome of evaluating one context snapshot.
type Result struct {
	ContextType domain.ContextType

	// TotalRules is how many matchable rules were evaluated.
	TotalRules int

	Triggered []*domain.FraudRule
	Events    []*domain.FraudRuleEvent
	Factors   []*domain.RiskFactor

	// Score is the rule-based contribution in [0, 1], the highest impact
	// weight among triggered rules.
	Score float64

	// Warnings holds per-rule evaluation failures. A rule that cannot be
	// evaluated never blocks the remaining rules.
	Warnings []string
}

// TriggeredCount returns the number of rules that matched.
func (r *Result) TriggeredCount() int {
	return len(r.Triggered)
}

// Evaluate runs every matchable rule for the snapshot's category in priority
// order. Evaluation is sequential so that results and side effects are
// deterministic for a given rule set.
func (e *Evaluator) Evaluate(ctx context.Context, snapshot *domain.ContextSnapshot) (*Result, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: context snapshot is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	category := snapshot.Type.Category()
	matchable := e.catalog.MatchableRules(category, now, snapshot.TestMode)

	result := &Result{
		ContextType: snapshot.Type,
		TotalRules:  len(matchable),
	}
	if len(matchable) == 0 {
		return result, nil
	}

	activation := snapshot.Activation()
	if _, ok := activation["data"]; !ok {
		activation["data"] = map[string]any{}
	}

	ident := identityOf(snapshot)

	for _, compiled := range matchable {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, _, err := compiled.Program.Eval(activation)
		if err != nil {
			warning := fmt.Sprintf("rule %s: %v", compiled.Rule.RuleCode, err)
			result.Warnings = append(result.Warnings, warning)
			e.logger.Warn("rule evaluation failed",
				"rule_code", compiled.Rule.RuleCode,
				"context_type", snapshot.Type,
				"error", err)
			continue
		}

		if !toBool(out) {
			continue
		}

		e.onTriggered(ctx, compiled.Rule, snapshot, ident, result)
	}

	return result, nil
}

func (e *Evaluator) onTriggered(ctx context.Context, rule *domain.FraudRule, snapshot *domain.ContextSnapshot, ident identity, result *Result) {
	result.Triggered = append(result.Triggered, rule)

	event := domain.NewFraudRuleEvent(rule, snapshot.Type, ident.transactionID, ident.accountID, ident.ipAddress, ident.deviceID)
	result.Events = append(result.Events, event)

	weight := impactWeight(rule.ImpactLevel)
	if weight > result.Score {
		result.Score = weight
	}

	factor := domain.NewRiskFactor(rule.RuleCode, rule.Name, weight, domain.SourceRule)
	factor.RuleID = &rule.ID
	factor.TransactionID = ident.transactionID
	result.Factors = append(result.Factors, factor)

	e.logger.Info("rule triggered",
		"rule_code", rule.RuleCode,
		"impact", rule.ImpactLevel,
		"context_type", snapshot.Type,
		"test_mode", snapshot.TestMode)

	// Test-mode matches are observed, never enforced.
	if snapshot.TestMode || rule.Status == domain.RuleStatusTestMode || e.blocker == nil {
		return
	}

	for _, action := range rule.Actions {
		target, ok := action.BlacklistTarget()
		if !ok {
			continue
		}
		value := ident.blacklistValue(target)
		if value == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("rule %s: action %s has no %s value in context", rule.RuleCode, action, target))
			continue
		}

		item := domain.NewBlacklistItem(target, value,
			fmt.Sprintf("rule %s triggered", rule.RuleCode),
			&rule.ID, &event.ID, rule.ActionDuration, "system")
		if err := e.blocker.Add(ctx, item); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("rule %s: blacklist add failed: %v", rule.RuleCode, err))
			e.logger.Error("blacklist add failed",
				"rule_code", rule.RuleCode,
				"type", target,
				"error", err)
		}
	}
}

// impactWeight maps a declared impact level onto the rule score axis.
func impactWeight(impact domain.ImpactLevel) float64 {
	switch impact {
	case domain.ImpactCritical:
		return 0.95
	case domain.ImpactHigh:
		return 0.75
	case domain.ImpactMedium:
		return 0.5
	case domain.ImpactLow:
		return 0.25
	default:
		return 0.25
	}
}

// identity is the subject a snapshot's events and blacklist entries key on.
type identity struct {
	transactionID *uuid.UUID
	accountID     *uuid.UUID
	ipAddress     string
	deviceID      string
	countryCode   string
}

func (i identity) blacklistValue(target domain.BlacklistType) string {
	switch target {
	case domain.BlacklistTypeIP:
		return i.ipAddress
	case domain.BlacklistTypeDevice:
		return i.deviceID
	case domain.BlacklistTypeAccount:
		if i.accountID != nil {
			return i.accountID.String()
		}
	case domain.BlacklistTypeCountry:
		return i.countryCode
	}
	return ""
}

func identityOf(snapshot *domain.ContextSnapshot) identity {
	var ident identity
	switch snapshot.Type {
	case domain.ContextTransaction:
		if c := snapshot.Transaction; c != nil {
			txID, acctID := c.TransactionID, c.AccountID
			ident.transactionID = &txID
			ident.accountID = &acctID
			ident.countryCode = c.RecipientCountry
		}
	case domain.ContextAccountAccess:
		if c := snapshot.AccountAccess; c != nil {
			acctID := c.AccountID
			ident.accountID = &acctID
			ident.ipAddress = c.IPAddress
			ident.deviceID = c.DeviceID
			ident.countryCode = c.CountryCode
		}
	case domain.ContextIP:
		if c := snapshot.IP; c != nil {
			ident.ipAddress = c.IPAddress
			ident.countryCode = c.CountryCode
		}
	case domain.ContextDevice:
		if c := snapshot.Device; c != nil {
			ident.deviceID = c.DeviceID
			ident.ipAddress = c.IPAddress
		}
	case domain.ContextSession:
		if c := snapshot.Session; c != nil {
			acctID := c.AccountID
			ident.accountID = &acctID
			ident.ipAddress = c.IPAddress
			ident.deviceID = c.DeviceID
			ident.countryCode = c.CountryCode
		}
	}
	return ident
}
