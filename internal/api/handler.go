package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/blacklist"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/ensemble"
	"github.com/fraudshield/kestrel/internal/orchestrator"
	"github.com/fraudshield/kestrel/internal/rules"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	catalog   *rules.Catalog
	orch      *orchestrator.Orchestrator
	blacklist *blacklist.Store
	version   string
	startTime time.Time
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalog *rules.Catalog, orch *orchestrator.Orchestrator, store *blacklist.Store, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		catalog:   catalog,
		orch:      orch,
		blacklist: store,
		version:   version,
		startTime: time.Now(),
	}
}

// AnalyzeRequest is the transaction analysis request. Context extras beyond
// the transaction itself are optional; missing ones reduce evidence.
type AnalyzeRequest struct {
	Transaction domain.TransactionContext `json:"transaction"`
	IP          *domain.IPContext         `json:"ip,omitempty"`
	Device      *domain.DeviceContext     `json:"device,omitempty"`
	Features    map[string]float64        `json:"features,omitempty"`
	TestMode    bool                      `json:"testMode,omitempty"`
}

// AnalyzeResponse is the flat summary returned by POST /analyze.
type AnalyzeResponse struct {
	TransactionID    uuid.UUID             `json:"transactionId"`
	Decision         domain.Decision       `json:"decision"`
	Status           domain.AnalysisStatus `json:"status"`
	FraudProbability float64               `json:"fraudProbability"`
	AnomalyScore     float64               `json:"anomalyScore"`
	RiskLevel        domain.RiskLevel      `json:"riskLevel"`
	TriggeredRules   int                   `json:"triggeredRuleCount"`
	TotalRules       int                   `json:"totalRuleCount"`
	FactorCodes      []string              `json:"factorCodes,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// Analyze handles POST /analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if req.Transaction.TransactionID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction.transactionId is required",
		})
		return
	}

	contexts := []*domain.ContextSnapshot{
		{Type: domain.ContextTransaction, Transaction: &req.Transaction, TestMode: req.TestMode},
	}
	if req.IP != nil {
		contexts = append(contexts, &domain.ContextSnapshot{Type: domain.ContextIP, IP: req.IP, TestMode: req.TestMode})
	}
	if req.Device != nil {
		contexts = append(contexts, &domain.ContextSnapshot{Type: domain.ContextDevice, Device: req.Device, TestMode: req.TestMode})
	}

	outcome, err := h.orch.Check(r.Context(), &orchestrator.Request{
		TransactionID: req.Transaction.TransactionID,
		AccountID:     req.Transaction.AccountID,
		Amount:        req.Transaction.Amount,
		Contexts:      contexts,
		Features:      h.featuresFor(&req),
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	result := outcome.Result
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		TransactionID:    result.TransactionID,
		Decision:         result.Decision,
		Status:           result.Status,
		FraudProbability: result.FraudProbability,
		AnomalyScore:     result.AnomalyScore,
		RiskLevel:        result.RiskScore.Level,
		TriggeredRules:   result.TriggeredRuleCount,
		TotalRules:       result.TotalRuleCount,
		FactorCodes:      result.RiskScore.FactorCodes,
		Warnings:         result.Warnings,
		Error:            result.Error,
	})
}

// featuresFor builds the model feature vector, defaulting the amount from
// the transaction when the caller supplies no explicit features.
func (h *Handler) featuresFor(req *AnalyzeRequest) ensemble.FeatureVector {
	features := ensemble.FeatureVector{}
	for k, v := range req.Features {
		features[k] = v
	}
	if _, ok := features["amount"]; !ok {
		features["amount"] = req.Transaction.Amount
	}
	return features
}

// ComprehensiveCheckRequest carries the full evidence union.
type ComprehensiveCheckRequest struct {
	TransactionID uuid.UUID                 `json:"transactionId"`
	AccountID     uuid.UUID                 `json:"accountId"`
	Amount        float64                   `json:"amount"`
	Contexts      []*domain.ContextSnapshot `json:"contexts"`
	Features      map[string]float64        `json:"features,omitempty"`
	SkipModel     bool                      `json:"skipModel,omitempty"`
}

// ComprehensiveCheck handles POST /comprehensive-check.
func (h *Handler) ComprehensiveCheck(w http.ResponseWriter, r *http.Request) {
	var req ComprehensiveCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	outcome, err := h.orch.Check(r.Context(), &orchestrator.Request{
		TransactionID: req.TransactionID,
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Contexts:      req.Contexts,
		Features:      ensemble.FeatureVector(req.Features),
		SkipModel:     req.SkipModel,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// ModelEvaluationRequest asks for a standalone ensemble score.
type ModelEvaluationRequest struct {
	Amount          float64            `json:"amount"`
	TransactionType string             `json:"transactionType,omitempty"`
	TransactionDate *time.Time         `json:"transactionDate,omitempty"`
	Features        map[string]float64 `json:"features"`
}

// ModelEvaluationResponse is the standalone score.
type ModelEvaluationResponse struct {
	FraudProbability float64          `json:"fraudProbability"`
	AnomalyScore     float64          `json:"anomalyScore"`
	Confidence       float64          `json:"confidence"`
	IsFraud          bool             `json:"isFraud"`
	RiskLevel        domain.RiskLevel `json:"riskLevel"`
	PrimaryModel     string           `json:"primaryModel"`
	UsedAlgorithms   []string         `json:"usedAlgorithms"`
	FallbackUsed     bool             `json:"fallbackUsed"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
}

// EvaluateModel handles POST /evaluate-model.
func (h *Handler) EvaluateModel(w http.ResponseWriter, r *http.Request) {
	var req ModelEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	features := ensemble.FeatureVector{}
	for k, v := range req.Features {
		features[k] = v
	}
	if _, ok := features["amount"]; !ok {
		features["amount"] = req.Amount
	}
	if req.TransactionDate != nil {
		if _, ok := features["time"]; !ok {
			features["time"] = float64(req.TransactionDate.Unix())
		}
	}

	score, err := h.orch.EvaluateModel(r.Context(), features)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ModelEvaluationResponse{
		FraudProbability: score.FraudProbability,
		AnomalyScore:     score.AnomalyScore,
		Confidence:       score.Confidence,
		IsFraud:          score.IsFraud,
		RiskLevel:        domain.RiskLevelForProbability(score.FraudProbability),
		PrimaryModel:     score.PrimaryModel,
		UsedAlgorithms:   score.UsedAlgorithms,
		FallbackUsed:     score.Health.FallbackUsed,
		ProcessingTimeMs: score.ProcessingTime.Milliseconds(),
	})
}

// ContextCheckResponse is the per-context check result.
type ContextCheckResponse struct {
	ContextType    domain.ContextType `json:"contextType"`
	TotalRules     int                `json:"totalRuleCount"`
	TriggeredRules []triggeredRule    `json:"triggeredRules"`
	RiskScore      float64            `json:"riskScore"`
	Warnings       []string           `json:"warnings,omitempty"`
}

type triggeredRule struct {
	RuleID      uuid.UUID          `json:"ruleId"`
	RuleCode    string             `json:"ruleCode"`
	Name        string             `json:"name"`
	ImpactLevel domain.ImpactLevel `json:"impactLevel"`
}

// CheckTransaction handles POST /check/transaction.
func (h *Handler) CheckTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionContext
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.TransactionID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transactionId is required"})
		return
	}
	h.checkContext(w, r, &domain.ContextSnapshot{Type: domain.ContextTransaction, Transaction: &req})
}

// CheckAccountAccess handles POST /check/account-access.
func (h *Handler) CheckAccountAccess(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountAccessContext
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.AccountID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accountId is required"})
		return
	}
	h.checkContext(w, r, &domain.ContextSnapshot{Type: domain.ContextAccountAccess, AccountAccess: &req})
}

// CheckIP handles POST /check/ip.
func (h *Handler) CheckIP(w http.ResponseWriter, r *http.Request) {
	var req domain.IPContext
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.IPAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ipAddress is required"})
		return
	}
	h.checkContext(w, r, &domain.ContextSnapshot{Type: domain.ContextIP, IP: &req})
}

// CheckDevice handles POST /check/device.
func (h *Handler) CheckDevice(w http.ResponseWriter, r *http.Request) {
	var req domain.DeviceContext
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "deviceId is required"})
		return
	}
	h.checkContext(w, r, &domain.ContextSnapshot{Type: domain.ContextDevice, Device: &req})
}

// CheckSession handles POST /check/session.
func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionContext
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.SessionID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId is required"})
		return
	}
	h.checkContext(w, r, &domain.ContextSnapshot{Type: domain.ContextSession, Session: &req})
}

func (h *Handler) checkContext(w http.ResponseWriter, r *http.Request, snapshot *domain.ContextSnapshot) {
	result, err := h.orch.CheckContext(r.Context(), snapshot)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	resp := ContextCheckResponse{
		ContextType:    result.ContextType,
		TotalRules:     result.TotalRules,
		TriggeredRules: make([]triggeredRule, 0, len(result.Triggered)),
		RiskScore:      result.Score,
		Warnings:       result.Warnings,
	}
	for _, rule := range result.Triggered {
		resp.TriggeredRules = append(resp.TriggeredRules, triggeredRule{
			RuleID:      rule.ID,
			RuleCode:    rule.RuleCode,
			Name:        rule.Name,
			ImpactLevel: rule.ImpactLevel,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Ready handles GET /ready. Ready means the repository answers and the rule
// catalog has been loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  "repository: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"rules_loaded": h.catalog.RulesCount(),
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.catalog.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(loaded),
		"rules": loaded,
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the rule creation payload.
type CreateRuleRequest struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Category       domain.RuleCategory `json:"category"`
	Type           domain.RuleType     `json:"type"`
	ImpactLevel    domain.ImpactLevel  `json:"impactLevel"`
	Actions        []domain.RuleAction `json:"actions"`
	ActionDuration *int64              `json:"actionDurationSecs,omitempty"`
	Priority       int                 `json:"priority"`
	Condition      string              `json:"condition"`
	CreatedBy      string              `json:"createdBy"`
	Activate       bool                `json:"activate,omitempty"`
}

// CreateRule handles POST /rules. The condition is compiled before the rule
// is persisted so invalid expressions never reach the catalog.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	var duration *time.Duration
	if req.ActionDuration != nil {
		d := time.Duration(*req.ActionDuration) * time.Second
		duration = &d
	}

	rule, err := domain.NewFraudRule(req.Name, req.Description, req.Category, req.Type, req.ImpactLevel, req.Actions, duration, req.Priority, req.Condition, req.CreatedBy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.catalog.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid condition: " + err.Error(),
		})
		return
	}

	if req.Activate {
		rule.Activate(req.CreatedBy)
	}

	if err := h.repo.SaveRule(r.Context(), rule); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule: " + err.Error(),
		})
		return
	}

	if rule.Status == domain.RuleStatusActive {
		if err := h.catalog.LoadRule(rule); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load rule: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       rule.ID,
		"ruleCode": rule.RuleCode,
		"status":   rule.Status,
	})
}

// ReloadRules handles POST /rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	rls, err := h.repo.ListActiveRules(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules: " + err.Error(),
		})
		return
	}

	if err := h.catalog.ReloadRules(rls); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"count":  h.catalog.RulesCount(),
	})
}

// ActivateRule handles POST /rules/{id}/activate.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	h.transitionRule(w, r, func(rule *domain.FraudRule, by string) {
		rule.Activate(by)
	})
}

// DeactivateRule handles POST /rules/{id}/deactivate.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	h.transitionRule(w, r, func(rule *domain.FraudRule, by string) {
		rule.Deactivate(by)
	})
}

// SetRuleTestMode handles POST /rules/{id}/testmode.
func (h *Handler) SetRuleTestMode(w http.ResponseWriter, r *http.Request) {
	h.transitionRule(w, r, func(rule *domain.FraudRule, by string) {
		rule.SetTestMode(by)
	})
}

type transitionRequest struct {
	ModifiedBy string `json:"modifiedBy"`
}

func (h *Handler) transitionRule(w http.ResponseWriter, r *http.Request, transition func(*domain.FraudRule, string)) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req transitionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ModifiedBy == "" {
		req.ModifiedBy = "api"
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	transition(rule, req.ModifiedBy)

	if err := h.repo.SaveRule(r.Context(), rule); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule: " + err.Error(),
		})
		return
	}

	// Keep the in-memory catalog in step with the new status.
	switch rule.Status {
	case domain.RuleStatusActive, domain.RuleStatusTestMode:
		if err := h.catalog.LoadRule(rule); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load rule: " + err.Error(),
			})
			return
		}
	default:
		h.catalog.RemoveRule(rule.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     rule.ID,
		"status": rule.Status,
	})
}

// ListEvents handles GET /events. Without filters it returns unresolved
// events; with accountId (and optional sinceHours) it returns that account's
// recent trail.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	accountParam := r.URL.Query().Get("accountId")

	var events []*domain.FraudRuleEvent
	var err error

	if accountParam != "" {
		accountID, parseErr := uuid.Parse(accountParam)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid accountId",
			})
			return
		}

		since := time.Now().UTC().Add(-24 * time.Hour)
		if hours := r.URL.Query().Get("sinceHours"); hours != "" {
			if d, parseErr := time.ParseDuration(hours + "h"); parseErr == nil {
				since = time.Now().UTC().Add(-d)
			}
		}

		events, err = h.repo.ListRuleEventsByAccount(r.Context(), accountID, since)
	} else {
		events, err = h.repo.ListUnresolvedRuleEvents(r.Context())
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list events: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

type resolveEventRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Notes      string `json:"notes"`
}

// ResolveEvent handles POST /events/{id}/resolve.
func (h *Handler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req resolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "resolvedBy is required",
		})
		return
	}

	event, err := h.repo.GetRuleEvent(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	event.Resolve(req.ResolvedBy, req.Notes)

	if err := h.repo.SaveRuleEvent(r.Context(), event); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save event: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ListBlacklist handles GET /blacklist?type=IpAddress.
func (h *Handler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	itemType := domain.BlacklistType(r.URL.Query().Get("type"))
	if itemType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type query parameter is required",
		})
		return
	}

	items, err := h.blacklist.List(r.Context(), itemType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list blacklist: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

// AddBlacklistRequest is the manual blacklist entry payload.
type AddBlacklistRequest struct {
	Type         domain.BlacklistType `json:"type"`
	Value        string               `json:"value"`
	Reason       string               `json:"reason"`
	DurationSecs *int64               `json:"durationSecs,omitempty"`
	AddedBy      string               `json:"addedBy"`
}

// AddBlacklistItem handles POST /blacklist.
func (h *Handler) AddBlacklistItem(w http.ResponseWriter, r *http.Request) {
	var req AddBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if req.Type == "" || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type and value are required",
		})
		return
	}
	if req.AddedBy == "" {
		req.AddedBy = "api"
	}

	var duration *time.Duration
	if req.DurationSecs != nil {
		d := time.Duration(*req.DurationSecs) * time.Second
		duration = &d
	}

	item := domain.NewBlacklistItem(req.Type, req.Value, req.Reason, nil, nil, duration, req.AddedBy)
	if err := h.blacklist.Add(r.Context(), item); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to add blacklist item: " + err.Error(),
		})
		return
	}

	// Add may have refreshed an existing entry instead of inserting; return
	// whatever is now active for the key.
	current, err := h.blacklist.Lookup(r.Context(), req.Type, req.Value)
	if err != nil {
		current = item
	}

	if h.bus != nil {
		if payload, err := json.Marshal(current); err == nil {
			if err := h.bus.Publish(r.Context(), domain.TopicBlacklistAdded, payload); err != nil {
				slog.Warn("failed to publish blacklist addition",
					"type", current.Type, "value", current.Value, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, current)
}

type invalidateRequest struct {
	InvalidatedBy string `json:"invalidatedBy"`
}

// InvalidateBlacklistItem handles POST /blacklist/{id}/invalidate.
func (h *Handler) InvalidateBlacklistItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req invalidateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.InvalidatedBy == "" {
		req.InvalidatedBy = "api"
	}

	item, err := h.findBlacklistItem(r, id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	if err := h.blacklist.Invalidate(r.Context(), item.Type, item.Value, req.InvalidatedBy); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to invalidate: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     item.ID,
		"status": domain.BlacklistStatusInvalidated,
	})
}

// findBlacklistItem resolves an entry id to its (type, value) key.
func (h *Handler) findBlacklistItem(r *http.Request, id uuid.UUID) (*domain.BlacklistItem, error) {
	types := []domain.BlacklistType{
		domain.BlacklistTypeIP,
		domain.BlacklistTypeAccount,
		domain.BlacklistTypeDevice,
		domain.BlacklistTypeCountry,
	}
	for _, t := range types {
		items, err := h.repo.ListBlacklistItems(r.Context(), t)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ID == id {
				return item, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// CleanupBlacklist handles POST /blacklist/cleanup.
func (h *Handler) CleanupBlacklist(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.blacklist.CleanupExpired(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cleanup failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
	})
}

// GetResult handles GET /results/{transactionId}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "transactionId"))
	if !ok {
		return
	}

	result, err := h.repo.GetAnalysisResultByTransaction(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
