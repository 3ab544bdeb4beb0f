// Package worker runs background maintenance around the decision stream:
// rolling decision counters, alert logging and expired blocklist cleanup.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudshield/kestrel/internal/blacklist"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/orchestrator"
)

// Worker consumes the decision and alert topics and periodically sweeps
// expired blocklist entries.
type Worker struct {
	bus    domain.EventBus
	cache  domain.Cache
	store  *blacklist.Store
	logger *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// CleanupInterval is how often expired blocklist entries are swept.
	// Zero disables the sweep.
	CleanupInterval time.Duration

	// CounterWindow is the rolling window for decision counters.
	CounterWindow time.Duration
}

// New creates a worker. bus is required; cache and store may be nil, the
// corresponding duties are then skipped.
func New(bus domain.EventBus, cache domain.Cache, store *blacklist.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		cache:  cache,
		store:  store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the decision and alert topics and launches the
// cleanup loop.
func (w *Worker) Start(cfg Config) error {
	if cfg.CounterWindow <= 0 {
		cfg.CounterWindow = 24 * time.Hour
	}

	decisionSub, err := w.bus.Subscribe(w.ctx, domain.TopicDecision, w.decisionHandler(cfg.CounterWindow))
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, decisionSub)

	alertSub, err := w.bus.Subscribe(w.ctx, domain.TopicAlert, w.handleAlert)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, alertSub)

	if cfg.CleanupInterval > 0 && w.store != nil {
		w.wg.Add(1)
		go w.cleanupLoop(cfg.CleanupInterval)
	}

	w.logger.Info("worker started",
		"subscriptions", len(w.subscriptions),
		"cleanup_interval", cfg.CleanupInterval,
	)
	return nil
}

// decisionHandler counts decisions per outcome over a rolling window. The
// counters back operational dashboards and cost nothing when no cache is
// configured.
func (w *Worker) decisionHandler(window time.Duration) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		var notice orchestrator.DecisionNotice
		if err := json.Unmarshal(msg.Payload, &notice); err != nil {
			w.logger.Error("failed to decode decision", "error", err)
			return err
		}

		w.logger.Debug("decision observed",
			"transaction_id", notice.TransactionID,
			"decision", notice.Decision,
			"probability", notice.Probability,
		)

		if w.cache == nil {
			return nil
		}
		key := "counters:decision:" + string(notice.Decision)
		if _, err := w.cache.IncrementCounter(ctx, key, window); err != nil {
			w.logger.Warn("failed to increment decision counter",
				"decision", notice.Decision, "error", err)
		}
		return nil
	}
}

func (w *Worker) handleAlert(ctx context.Context, msg *domain.Message) error {
	var alert domain.FraudAlert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		w.logger.Error("failed to decode alert", "error", err)
		return err
	}

	w.logger.Warn("fraud alert raised",
		"alert_id", alert.ID,
		"transaction_id", alert.TransactionID,
		"account_id", alert.AccountID,
		"probability", alert.RiskScore.Probability,
		"level", alert.RiskScore.Level,
		"factors", alert.Factors,
	)
	return nil
}

func (w *Worker) cleanupLoop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.store.CleanupExpired(w.ctx)
			if err != nil {
				w.logger.Error("blocklist cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				w.logger.Info("blocklist cleanup", "removed", removed)
			}
		}
	}
}

// Stop unsubscribes and waits for the cleanup loop to exit.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns current worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats reports the active subscriptions.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
