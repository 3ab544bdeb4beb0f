package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/bus"
	"github.com/fraudshield/kestrel/internal/cache"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/orchestrator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerCountsDecisions(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)
	defer c.Close()

	w := New(b, c, nil, quietLogger())
	if err := w.Start(Config{CounterWindow: time.Minute}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	notice := orchestrator.DecisionNotice{
		TransactionID: uuid.New(),
		Decision:      domain.DecisionDeny,
		Probability:   0.91,
		RiskLevel:     domain.RiskCritical,
		AnalyzedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if err := b.Publish(context.Background(), domain.TopicDecision, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is asynchronous; poll the counter until it lands.
	key := "counters:decision:" + string(domain.DecisionDeny)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := c.IncrementCounter(context.Background(), key, time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		// Our own increment adds one on top of the worker's.
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("decision counter never incremented, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerHandlesAlerts(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	w := New(b, nil, nil, quietLogger())
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	alert := domain.NewFraudAlert(uuid.New(), uuid.New(),
		domain.NewRiskScore(0.9, []string{"HIGH_RISK_COUNTRY"}), []string{"HIGH_RISK_COUNTRY"})
	payload, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicAlert, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after Stop, got %d", got)
	}
}
