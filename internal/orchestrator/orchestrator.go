// Package orchestrator drives the per-transaction decision pipeline.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fraudshield/kestrel/internal/aggregate"
	"github.com/fraudshield/kestrel/internal/blacklist"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/ensemble"
	"github.com/fraudshield/kestrel/internal/rules"
)

// State is the pipeline phase of one check run.
type State string

const (
	StateReceived      State = "Received"
	StateContextChecks State = "ContextChecksRunning"
	StateModelScoring  State = "ModelScoringRunning"
	StateAggregating   State = "Aggregating"
	StateCompleted     State = "Completed"
	StateFailed        State = "Failed"
)

// Request is one comprehensive check: a transaction plus whichever context
// snapshots the caller could assemble. Missing contexts reduce evidence,
// they do not fail the request.
type Request struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Amount        float64

	Contexts []*domain.ContextSnapshot
	Features ensemble.FeatureVector

	// SkipModel disables model scoring for rule-only checks.
	SkipModel bool
}

// ContextResult is one context check's sub-result.
type ContextResult struct {
	ContextType domain.ContextType `json:"contextType"`
	Result      *rules.Result      `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// DecisionNotice is the compact payload published on the decision topic.
type DecisionNotice struct {
	TransactionID uuid.UUID        `json:"transactionId"`
	Decision      domain.Decision  `json:"decision"`
	Probability   float64          `json:"probability"`
	RiskLevel     domain.RiskLevel `json:"riskLevel"`
	AnalyzedAt    time.Time        `json:"analyzedAt"`
}

// Outcome bundles the consolidated decision with its per-context breakdown.
type Outcome struct {
	State          State                                 `json:"state"`
	Result         *domain.AnalysisResult                `json:"result"`
	Evaluation     *domain.RiskEvaluation                `json:"evaluation"`
	ContextResults map[domain.ContextType]*ContextResult `json:"contextResults,omitempty"`
}

// Orchestrator wires the evaluator, scorer, blocklist and aggregator into
// the decision pipeline and owns persistence and event publication.
type Orchestrator struct {
	evaluator  *rules.Evaluator
	scorer     *ensemble.Scorer
	aggregator *aggregate.Aggregator
	store      *blacklist.Store
	repo       domain.Repository
	bus        domain.EventBus
	logger     *slog.Logger
}

// New creates an orchestrator. repo and bus may be nil in tests; persistence
// and publication are then skipped.
func New(evaluator *rules.Evaluator, scorer *ensemble.Scorer, aggregator *aggregate.Aggregator, store *blacklist.Store, repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		evaluator:  evaluator,
		scorer:     scorer,
		aggregator: aggregator,
		store:      store,
		repo:       repo,
		bus:        bus,
		logger:     logger,
	}
}

// CheckContext runs one context check: rule evaluation plus event
// persistence. It is the building block behind the five check operations.
func (o *Orchestrator) CheckContext(ctx context.Context, snapshot *domain.ContextSnapshot) (*rules.Result, error) {
	result, err := o.evaluator.Evaluate(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	o.persistEvents(ctx, result)
	return result, nil
}

// EvaluateModel runs the ensemble scorer alone.
func (o *Orchestrator) EvaluateModel(ctx context.Context, features ensemble.FeatureVector) (*ensemble.Score, error) {
	if o.scorer == nil {
		return nil, fmt.Errorf("%w: model scoring is not configured", domain.ErrInvalidInput)
	}
	return o.scorer.Score(ctx, features)
}

// Check runs the full pipeline for one transaction. The caller always gets
// an outcome with a decision; unrecoverable errors surface as a Failed
// analysis result with Decision=ReviewRequired, never as a bare error.
func (o *Orchestrator) Check(ctx context.Context, req *Request) (*Outcome, error) {
	if req == nil || req.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	state := StateReceived
	o.logState(req.TransactionID, state)

	contextResults := make(map[domain.ContextType]*ContextResult, len(req.Contexts))
	var score *ensemble.Score

	// Context checks and model scoring are read-only against independent
	// collaborators, so they run concurrently and join before aggregation.
	state = StateContextChecks
	o.logState(req.TransactionID, state)

	g, gctx := errgroup.WithContext(ctx)

	results := make([]*rules.Result, len(req.Contexts))
	for i, snapshot := range req.Contexts {
		i, snapshot := i, snapshot
		sub := &ContextResult{ContextType: snapshot.Type}
		contextResults[snapshot.Type] = sub

		g.Go(func() error {
			result, err := o.evaluator.Evaluate(gctx, snapshot)
			if err != nil {
				sub.Error = err.Error()
				o.logger.Warn("context check failed",
					"transaction_id", req.TransactionID,
					"context_type", snapshot.Type,
					"error", err)
				return nil
			}
			sub.Result = result
			results[i] = result
			return nil
		})
	}

	if !req.SkipModel && o.scorer != nil {
		g.Go(func() error {
			s, err := o.scorer.Score(gctx, req.Features)
			if err != nil {
				// Only context cancellation reaches here; model outages
				// already degrade inside the scorer.
				return err
			}
			score = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		state = StateFailed
		o.logState(req.TransactionID, state)
		result, eval := o.aggregator.AggregateFailed(req.TransactionID, err.Error())
		o.persist(ctx, result, eval)
		return &Outcome{State: state, Result: result, Evaluation: eval, ContextResults: contextResults}, nil
	}

	state = StateModelScoring
	o.logState(req.TransactionID, state)

	blocked, blockedReason := o.consultBlocklist(ctx, req.Contexts)

	state = StateAggregating
	o.logState(req.TransactionID, state)

	var warnings []string
	for _, sub := range contextResults {
		if sub.Error != "" {
			warnings = append(warnings, fmt.Sprintf("context %s unavailable: %s", sub.ContextType, sub.Error))
		}
	}

	result, eval := o.aggregator.Aggregate(aggregate.Input{
		TransactionID: req.TransactionID,
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		RuleResults:   results,
		Score:         score,
		Blocked:       blocked,
		BlockedReason: blockedReason,
		Warnings:      warnings,
	})

	for _, rr := range results {
		o.persistEvents(ctx, rr)
	}
	o.persist(ctx, result, eval)
	o.publish(ctx, result)

	state = StateCompleted
	o.logState(req.TransactionID, state)

	return &Outcome{
		State:          state,
		Result:         result,
		Evaluation:     eval,
		ContextResults: contextResults,
	}, nil
}

// consultBlocklist checks the transaction's IP, account and device against
// active blocklist entries. Lookup failures degrade to "not blocked" with a
// warning; the aggregator remains fail-safe through its thresholds.
func (o *Orchestrator) consultBlocklist(ctx context.Context, contexts []*domain.ContextSnapshot) (bool, string) {
	if o.store == nil {
		return false, ""
	}

	for _, snapshot := range contexts {
		for _, probe := range blocklistProbes(snapshot) {
			blocked, err := o.store.IsBlacklisted(ctx, probe.itemType, probe.value)
			if err != nil {
				o.logger.Warn("blocklist lookup failed",
					"type", probe.itemType, "value", probe.value, "error", err)
				continue
			}
			if blocked {
				return true, fmt.Sprintf("active blocklist entry: %s %s", probe.itemType, probe.value)
			}
		}
	}
	return false, ""
}

type blocklistProbe struct {
	itemType domain.BlacklistType
	value    string
}

func blocklistProbes(snapshot *domain.ContextSnapshot) []blocklistProbe {
	var probes []blocklistProbe
	add := func(t domain.BlacklistType, v string) {
		if v != "" {
			probes = append(probes, blocklistProbe{itemType: t, value: v})
		}
	}

	switch snapshot.Type {
	case domain.ContextTransaction:
		if c := snapshot.Transaction; c != nil {
			add(domain.BlacklistTypeAccount, c.AccountID.String())
			add(domain.BlacklistTypeCountry, c.RecipientCountry)
		}
	case domain.ContextAccountAccess:
		if c := snapshot.AccountAccess; c != nil {
			add(domain.BlacklistTypeAccount, c.AccountID.String())
			add(domain.BlacklistTypeIP, c.IPAddress)
			add(domain.BlacklistTypeDevice, c.DeviceID)
		}
	case domain.ContextIP:
		if c := snapshot.IP; c != nil {
			add(domain.BlacklistTypeIP, c.IPAddress)
		}
	case domain.ContextDevice:
		if c := snapshot.Device; c != nil {
			add(domain.BlacklistTypeDevice, c.DeviceID)
			add(domain.BlacklistTypeIP, c.IPAddress)
		}
	case domain.ContextSession:
		if c := snapshot.Session; c != nil {
			add(domain.BlacklistTypeAccount, c.AccountID.String())
			add(domain.BlacklistTypeIP, c.IPAddress)
			add(domain.BlacklistTypeDevice, c.DeviceID)
		}
	}
	return probes
}

// persistEvents writes the audit trail. Every rule match is persisted
// regardless of the final decision.
func (o *Orchestrator) persistEvents(ctx context.Context, result *rules.Result) {
	if result == nil {
		return
	}
	for _, event := range result.Events {
		if o.repo != nil {
			if err := o.repo.SaveRuleEvent(ctx, event); err != nil {
				o.logger.Error("failed to save rule event",
					"event_id", event.ID, "rule_code", event.RuleCode, "error", err)
			}
		}
		if o.bus != nil {
			payload, err := json.Marshal(event)
			if err != nil {
				o.logger.Error("failed to encode rule event", "event_id", event.ID, "error", err)
				continue
			}
			if err := o.bus.Publish(ctx, domain.TopicRuleTriggered, payload); err != nil {
				o.logger.Error("failed to publish rule event",
					"event_id", event.ID, "rule_code", event.RuleCode, "error", err)
			}
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, result *domain.AnalysisResult, eval *domain.RiskEvaluation) {
	if o.repo == nil {
		return
	}
	if err := o.repo.SaveAnalysisResult(ctx, result); err != nil {
		o.logger.Error("failed to save analysis result",
			"transaction_id", result.TransactionID, "error", err)
	}
	if err := o.repo.SaveRiskEvaluation(ctx, eval); err != nil {
		o.logger.Error("failed to save risk evaluation",
			"transaction_id", eval.TransactionID, "error", err)
	}
	if alert := result.Alert(); alert != nil {
		if err := o.repo.SaveAlert(ctx, alert); err != nil {
			o.logger.Error("failed to save alert",
				"alert_id", alert.ID, "error", err)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, result *domain.AnalysisResult) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Error("failed to encode analysis result", "error", err)
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
		o.logger.Error("failed to publish analysis result",
			"transaction_id", result.TransactionID, "error", err)
	}

	// The decision topic carries a compact summary for consumers that do
	// not need the full audit payload.
	decision, err := json.Marshal(DecisionNotice{
		TransactionID: result.TransactionID,
		Decision:      result.Decision,
		Probability:   result.FraudProbability,
		RiskLevel:     result.RiskScore.Level,
		AnalyzedAt:    result.AnalyzedAt,
	})
	if err != nil {
		o.logger.Error("failed to encode decision", "error", err)
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicDecision, decision); err != nil {
		o.logger.Error("failed to publish decision",
			"transaction_id", result.TransactionID, "error", err)
	}
	if alert := result.Alert(); alert != nil {
		alertPayload, err := json.Marshal(alert)
		if err != nil {
			o.logger.Error("failed to encode alert", "error", err)
			return
		}
		if err := o.bus.Publish(ctx, domain.TopicAlert, alertPayload); err != nil {
			o.logger.Error("failed to publish alert",
				"alert_id", alert.ID, "error", err)
		}
	}
}

func (o *Orchestrator) logState(transactionID uuid.UUID, state State) {
	o.logger.Debug("check state changed",
		"transaction_id", transactionID,
		"state", state,
		"at", time.Now().UTC())
}
