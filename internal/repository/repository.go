// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule inserts or updates a fraud rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}

	actions, _ := json.Marshal(rule.Actions)

	query := `
		INSERT INTO fraud_rules (
			id, rule_code, name, description, category, type, impact_level,
			status, actions, action_duration_secs, priority, condition,
			valid_from, valid_to, created_at, last_modified, modified_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			impact_level = excluded.impact_level,
			status = excluded.status,
			actions = excluded.actions,
			action_duration_secs = excluded.action_duration_secs,
			priority = excluded.priority,
			condition = excluded.condition,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			last_modified = excluded.last_modified,
			modified_by = excluded.modified_by
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID.String(), rule.RuleCode, rule.Name, rule.Description,
		string(rule.Category), string(rule.Type), string(rule.ImpactLevel),
		string(rule.Status), string(actions), durationSecs(rule.ActionDuration),
		rule.Priority, rule.Condition,
		nullTime(rule.ValidFrom), nullTime(rule.ValidTo),
		rule.CreatedAt, rule.LastModified, rule.ModifiedBy,
	)
	return err
}

const ruleColumns = `id, rule_code, name, description, category, type, impact_level,
	   status, actions, action_duration_secs, priority, condition,
	   valid_from, valid_to, created_at, last_modified, modified_by`

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID uuid.UUID) (*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE id = ?`
	return r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID.String()))
}

// GetRuleByCode retrieves a rule by its human code.
func (r *SQLRepository) GetRuleByCode(ctx context.Context, ruleCode string) (*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE rule_code = ?`
	return r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleCode))
}

// ListRules retrieves all rules, ordered for deterministic evaluation.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules ORDER BY priority, created_at`
	return r.queryRules(ctx, query)
}

// ListActiveRules retrieves rules in Active or TestMode status.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules
		WHERE status IN (?, ?) ORDER BY priority, created_at`
	return r.queryRules(ctx, query, string(domain.RuleStatusActive), string(domain.RuleStatusTestMode))
}

// DeleteRule removes a rule definition.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM fraud_rules WHERE id = ?`), ruleID.String())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.FraudRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRule(row rowScanner) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var id, category, ruleType, impact, status, actions string
	var durationSecs sql.NullInt64
	var validFrom, validTo sql.NullTime

	err := row.Scan(
		&id, &rule.RuleCode, &rule.Name, &rule.Description,
		&category, &ruleType, &impact, &status, &actions,
		&durationSecs, &rule.Priority, &rule.Condition,
		&validFrom, &validTo,
		&rule.CreatedAt, &rule.LastModified, &rule.ModifiedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid rule id %q: %w", id, err)
	}
	rule.Category = domain.RuleCategory(category)
	rule.Type = domain.RuleType(ruleType)
	rule.ImpactLevel = domain.ImpactLevel(impact)
	rule.Status = domain.RuleStatus(status)
	json.Unmarshal([]byte(actions), &rule.Actions)
	rule.ActionDuration = secsDuration(durationSecs)
	rule.ValidFrom = timePtr(validFrom)
	rule.ValidTo = timePtr(validTo)

	return &rule, nil
}

// SaveBlacklistItem upserts an entry on its (type, value) key.
func (r *SQLRepository) SaveBlacklistItem(ctx context.Context, item *domain.BlacklistItem) error {
	if item == nil {
		return fmt.Errorf("%w: blacklist item is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO blacklist_items (
			id, type, value, reason, rule_id, event_id, status,
			added_at, added_by, expiry_date, invalidated_at, invalidated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, value) DO UPDATE SET
			reason = excluded.reason,
			rule_id = excluded.rule_id,
			event_id = excluded.event_id,
			status = excluded.status,
			expiry_date = excluded.expiry_date,
			invalidated_at = excluded.invalidated_at,
			invalidated_by = excluded.invalidated_by
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		item.ID.String(), string(item.Type), item.Value, item.Reason,
		nullUUID(item.RuleID), nullUUID(item.EventID), string(item.Status),
		item.CreatedAt, item.AddedBy,
		nullTime(item.ExpiryDate), nullTime(item.InvalidatedAt), item.InvalidatedBy,
	)
	return err
}

// GetBlacklistItem retrieves the entry for a (type, value) key.
func (r *SQLRepository) GetBlacklistItem(ctx context.Context, itemType domain.BlacklistType, value string) (*domain.BlacklistItem, error) {
	query := `
		SELECT id, type, value, reason, rule_id, event_id, status,
			   added_at, added_by, expiry_date, invalidated_at, invalidated_by
		FROM blacklist_items
		WHERE type = ? AND value = ?
	`
	return r.scanBlacklistItem(r.db.QueryRowContext(ctx, r.rebind(query), string(itemType), value))
}

// ListBlacklistItems retrieves all entries of a type.
func (r *SQLRepository) ListBlacklistItems(ctx context.Context, itemType domain.BlacklistType) ([]*domain.BlacklistItem, error) {
	query := `
		SELECT id, type, value, reason, rule_id, event_id, status,
			   added_at, added_by, expiry_date, invalidated_at, invalidated_by
		FROM blacklist_items
		WHERE type = ?
		ORDER BY added_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(itemType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.BlacklistItem
	for rows.Next() {
		item, err := r.scanBlacklistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteExpiredBlacklistItems hard-deletes invalidated entries whose expiry
// has passed. Active entries and entries still referenced by an unresolved
// fraud rule event are retained for audit.
func (r *SQLRepository) DeleteExpiredBlacklistItems(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM blacklist_items
		WHERE expiry_date IS NOT NULL AND expiry_date < ?
		  AND status = ?
		  AND (event_id IS NULL OR NOT EXISTS (
			SELECT 1 FROM fraud_rule_events e
			WHERE e.id = blacklist_items.event_id AND e.resolved_at IS NULL))
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query), before, string(domain.BlacklistStatusInvalidated))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLRepository) scanBlacklistItem(row rowScanner) (*domain.BlacklistItem, error) {
	var item domain.BlacklistItem
	var id, itemType, status string
	var ruleID, eventID sql.NullString
	var expiry, invalidatedAt sql.NullTime
	var invalidatedBy sql.NullString

	err := row.Scan(
		&id, &itemType, &item.Value, &item.Reason,
		&ruleID, &eventID, &status,
		&item.CreatedAt, &item.AddedBy,
		&expiry, &invalidatedAt, &invalidatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	item.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklist id %q: %w", id, err)
	}
	item.Type = domain.BlacklistType(itemType)
	item.Status = domain.BlacklistStatus(status)
	item.RuleID = uuidPtr(ruleID)
	item.EventID = uuidPtr(eventID)
	item.ExpiryDate = timePtr(expiry)
	item.InvalidatedAt = timePtr(invalidatedAt)
	item.InvalidatedBy = invalidatedBy.String

	return &item, nil
}

// SaveRuleEvent appends one audit record. Resolution updates reuse the same
// statement through the upsert.
func (r *SQLRepository) SaveRuleEvent(ctx context.Context, event *domain.FraudRuleEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", domain.ErrInvalidInput)
	}

	actions, _ := json.Marshal(event.Actions)

	query := `
		INSERT INTO fraud_rule_events (
			id, rule_id, rule_code, rule_name, context_type, impact_level,
			actions, action_duration_secs, action_end_date,
			transaction_id, account_id, ip_address, device_id, warning,
			created_at, resolved_at, resolved_by, resolution_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by,
			resolution_notes = excluded.resolution_notes
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ID.String(), event.RuleID.String(), event.RuleCode, event.RuleName,
		string(event.ContextType), string(event.ImpactLevel),
		string(actions), durationSecs(event.ActionDuration), nullTime(event.ActionEndDate),
		nullUUID(event.TransactionID), nullUUID(event.AccountID),
		event.IPAddress, event.DeviceID, event.Warning,
		event.CreatedAt, nullTime(event.ResolvedDate), event.ResolvedBy, event.ResolutionNotes,
	)
	return err
}

const eventColumns = `id, rule_id, rule_code, rule_name, context_type, impact_level,
	   actions, action_duration_secs, action_end_date,
	   transaction_id, account_id, ip_address, device_id, warning,
	   created_at, resolved_at, resolved_by, resolution_notes`

// GetRuleEvent retrieves one audit record.
func (r *SQLRepository) GetRuleEvent(ctx context.Context, eventID uuid.UUID) (*domain.FraudRuleEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM fraud_rule_events WHERE id = ?`
	return r.scanRuleEvent(r.db.QueryRowContext(ctx, r.rebind(query), eventID.String()))
}

// ListRuleEventsByAccount retrieves an account's events since a point in time.
func (r *SQLRepository) ListRuleEventsByAccount(ctx context.Context, accountID uuid.UUID, since time.Time) ([]*domain.FraudRuleEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM fraud_rule_events
		WHERE account_id = ? AND created_at >= ?
		ORDER BY created_at DESC`
	return r.queryRuleEvents(ctx, query, accountID.String(), since)
}

// ListUnresolvedRuleEvents retrieves events no operator has closed yet.
func (r *SQLRepository) ListUnresolvedRuleEvents(ctx context.Context) ([]*domain.FraudRuleEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM fraud_rule_events
		WHERE resolved_at IS NULL
		ORDER BY created_at DESC`
	return r.queryRuleEvents(ctx, query)
}

func (r *SQLRepository) queryRuleEvents(ctx context.Context, query string, args ...any) ([]*domain.FraudRuleEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.FraudRuleEvent
	for rows.Next() {
		event, err := r.scanRuleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SQLRepository) scanRuleEvent(row rowScanner) (*domain.FraudRuleEvent, error) {
	var event domain.FraudRuleEvent
	var id, ruleID, contextType, impact, actions string
	var durSecs sql.NullInt64
	var actionEnd, resolvedAt sql.NullTime
	var txID, acctID sql.NullString
	var resolvedBy, notes sql.NullString

	err := row.Scan(
		&id, &ruleID, &event.RuleCode, &event.RuleName,
		&contextType, &impact, &actions, &durSecs, &actionEnd,
		&txID, &acctID, &event.IPAddress, &event.DeviceID, &event.Warning,
		&event.CreatedAt, &resolvedAt, &resolvedBy, &notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	event.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", id, err)
	}
	event.RuleID, err = uuid.Parse(ruleID)
	if err != nil {
		return nil, fmt.Errorf("invalid rule id %q: %w", ruleID, err)
	}
	event.ContextType = domain.ContextType(contextType)
	event.ImpactLevel = domain.ImpactLevel(impact)
	json.Unmarshal([]byte(actions), &event.Actions)
	event.ActionDuration = secsDuration(durSecs)
	event.ActionEndDate = timePtr(actionEnd)
	event.TransactionID = uuidPtr(txID)
	event.AccountID = uuidPtr(acctID)
	event.ResolvedDate = timePtr(resolvedAt)
	event.ResolvedBy = resolvedBy.String
	event.ResolutionNotes = notes.String

	return &event, nil
}

// SaveAnalysisResult stores the top-level outcome for a transaction.
func (r *SQLRepository) SaveAnalysisResult(ctx context.Context, result *domain.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("%w: analysis result is required", domain.ErrInvalidInput)
	}

	factorCodes, _ := json.Marshal(result.RiskScore.FactorCodes)
	triggered, _ := json.Marshal(result.TriggeredRules)
	appliedActions, _ := json.Marshal(result.AppliedActions)
	riskFactors, _ := json.Marshal(result.RiskFactors)
	warnings, _ := json.Marshal(result.Warnings)

	var mlAnalysis []byte
	if result.MLAnalysis != nil {
		mlAnalysis, _ = json.Marshal(result.MLAnalysis)
	}

	query := `
		INSERT INTO analysis_results (
			id, transaction_id, anomaly_score, fraud_probability, risk_level,
			factor_codes, decision, status, error,
			total_rule_count, triggered_rule_count, triggered_rules,
			applied_actions, risk_factors, ml_analysis, warnings, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID.String(), result.TransactionID.String(),
		result.AnomalyScore, result.FraudProbability, string(result.RiskScore.Level),
		string(factorCodes), string(result.Decision), string(result.Status), result.Error,
		result.TotalRuleCount, result.TriggeredRuleCount, string(triggered),
		string(appliedActions), string(riskFactors), string(mlAnalysis), string(warnings),
		result.AnalyzedAt,
	)
	return err
}

const analysisColumns = `id, transaction_id, anomaly_score, fraud_probability, risk_level,
	   factor_codes, decision, status, error,
	   total_rule_count, triggered_rule_count, triggered_rules,
	   applied_actions, risk_factors, ml_analysis, warnings, analyzed_at`

// GetAnalysisResult retrieves a result by ID.
func (r *SQLRepository) GetAnalysisResult(ctx context.Context, resultID uuid.UUID) (*domain.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_results WHERE id = ?`
	return r.scanAnalysisResult(r.db.QueryRowContext(ctx, r.rebind(query), resultID.String()))
}

// GetAnalysisResultByTransaction retrieves the latest result for a transaction.
func (r *SQLRepository) GetAnalysisResultByTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_results
		WHERE transaction_id = ?
		ORDER BY analyzed_at DESC
		LIMIT 1`
	return r.scanAnalysisResult(r.db.QueryRowContext(ctx, r.rebind(query), transactionID.String()))
}

func (r *SQLRepository) scanAnalysisResult(row rowScanner) (*domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	var id, txID, riskLevel, decision, status string
	var factorCodes, triggered, appliedActions, riskFactors, warnings string
	var mlAnalysis sql.NullString

	err := row.Scan(
		&id, &txID, &result.AnomalyScore, &result.FraudProbability, &riskLevel,
		&factorCodes, &decision, &status, &result.Error,
		&result.TotalRuleCount, &result.TriggeredRuleCount, &triggered,
		&appliedActions, &riskFactors, &mlAnalysis, &warnings,
		&result.AnalyzedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid result id %q: %w", id, err)
	}
	result.TransactionID, err = uuid.Parse(txID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", txID, err)
	}
	result.Decision = domain.Decision(decision)
	result.Status = domain.AnalysisStatus(status)
	result.RiskScore.Probability = result.FraudProbability
	result.RiskScore.Level = domain.RiskLevel(riskLevel)
	json.Unmarshal([]byte(factorCodes), &result.RiskScore.FactorCodes)
	json.Unmarshal([]byte(triggered), &result.TriggeredRules)
	json.Unmarshal([]byte(appliedActions), &result.AppliedActions)
	json.Unmarshal([]byte(riskFactors), &result.RiskFactors)
	json.Unmarshal([]byte(warnings), &result.Warnings)
	if mlAnalysis.Valid && mlAnalysis.String != "" {
		result.MLAnalysis = &domain.MLAnalysisResult{}
		json.Unmarshal([]byte(mlAnalysis.String), result.MLAnalysis)
	}

	return &result, nil
}

// SaveRiskEvaluation stores one scoring pass.
func (r *SQLRepository) SaveRiskEvaluation(ctx context.Context, eval *domain.RiskEvaluation) error {
	if eval == nil {
		return fmt.Errorf("%w: evaluation is required", domain.ErrInvalidInput)
	}

	algorithms, _ := json.Marshal(eval.UsedAlgorithms)
	warnings, _ := json.Marshal(eval.Warnings)
	errs, _ := json.Marshal(eval.Errors)

	query := `
		INSERT INTO risk_evaluations (
			id, transaction_id, fraud_probability, anomaly_score, risk_level,
			confidence_score, ml_score, rule_based_score, used_algorithms,
			processing_time_ms, warnings, errors, evaluated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			deleted_at = excluded.deleted_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID.String(), eval.TransactionID.String(),
		eval.FraudProbability, eval.AnomalyScore, string(eval.RiskLevel),
		eval.ConfidenceScore, eval.MLScore, eval.RuleBasedScore, string(algorithms),
		eval.ProcessingTimeMs, string(warnings), string(errs),
		eval.EvaluatedAt, nullTime(eval.DeletedAt),
	)
	return err
}

// GetRiskEvaluation retrieves one scoring pass.
func (r *SQLRepository) GetRiskEvaluation(ctx context.Context, evalID uuid.UUID) (*domain.RiskEvaluation, error) {
	query := `
		SELECT id, transaction_id, fraud_probability, anomaly_score, risk_level,
			   confidence_score, ml_score, rule_based_score, used_algorithms,
			   processing_time_ms, warnings, errors, evaluated_at, deleted_at
		FROM risk_evaluations
		WHERE id = ?
	`

	var eval domain.RiskEvaluation
	var id, txID, riskLevel, algorithms, warnings, errs string
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), evalID.String()).Scan(
		&id, &txID, &eval.FraudProbability, &eval.AnomalyScore, &riskLevel,
		&eval.ConfidenceScore, &eval.MLScore, &eval.RuleBasedScore, &algorithms,
		&eval.ProcessingTimeMs, &warnings, &errs, &eval.EvaluatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	eval.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid evaluation id %q: %w", id, err)
	}
	eval.TransactionID, err = uuid.Parse(txID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", txID, err)
	}
	eval.RiskLevel = domain.RiskLevel(riskLevel)
	json.Unmarshal([]byte(algorithms), &eval.UsedAlgorithms)
	json.Unmarshal([]byte(warnings), &eval.Warnings)
	json.Unmarshal([]byte(errs), &eval.Errors)
	eval.DeletedAt = timePtr(deletedAt)

	return &eval, nil
}

// SaveAlert stores a fraud alert; resolution updates reuse the upsert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert is required", domain.ErrInvalidInput)
	}

	factors, _ := json.Marshal(alert.Factors)

	query := `
		INSERT INTO fraud_alerts (
			id, transaction_id, account_id, analysis_result_id,
			probability, risk_level, factors, status,
			created_at, resolved_at, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID.String(), alert.TransactionID.String(), alert.AccountID.String(),
		alert.AnalysisResultID.String(),
		alert.RiskScore.Probability, string(alert.RiskScore.Level),
		string(factors), string(alert.Status),
		alert.CreatedAt, nullTime(alert.ResolvedAt), alert.ResolvedBy,
	)
	return err
}

// ListActiveAlerts retrieves alerts still under investigation.
func (r *SQLRepository) ListActiveAlerts(ctx context.Context) ([]*domain.FraudAlert, error) {
	query := `
		SELECT id, transaction_id, account_id, analysis_result_id,
			   probability, risk_level, factors, status,
			   created_at, resolved_at, resolved_by
		FROM fraud_alerts
		WHERE status IN (?, ?)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		string(domain.AlertActive), string(domain.AlertInvestigating))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		var alert domain.FraudAlert
		var id, txID, acctID, resultID, riskLevel, factors, status string
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString

		if err := rows.Scan(
			&id, &txID, &acctID, &resultID,
			&alert.RiskScore.Probability, &riskLevel, &factors, &status,
			&alert.CreatedAt, &resolvedAt, &resolvedBy,
		); err != nil {
			return nil, err
		}

		alert.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid alert id %q: %w", id, err)
		}
		alert.TransactionID, _ = uuid.Parse(txID)
		alert.AccountID, _ = uuid.Parse(acctID)
		alert.AnalysisResultID, _ = uuid.Parse(resultID)
		alert.RiskScore.Level = domain.RiskLevel(riskLevel)
		json.Unmarshal([]byte(factors), &alert.Factors)
		alert.Status = domain.AlertStatus(status)
		alert.ResolvedAt = timePtr(resolvedAt)
		alert.ResolvedBy = resolvedBy.String

		alerts = append(alerts, &alert)
	}
	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func durationSecs(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(d.Seconds())
}

func secsDuration(n sql.NullInt64) *time.Duration {
	if !n.Valid {
		return nil
	}
	d := time.Duration(n.Int64) * time.Second
	return &d
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func uuidPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}
