package ensemble

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probability": 0.83, "anomaly_score": 1.7, "model": "lightgbm-v3"}`))
	}))
	defer server.Close()

	client := NewHTTPClient("lightgbm", server.URL, time.Second, 5, time.Minute, nil)

	pred, err := client.Predict(context.Background(), FeatureVector{"amount": 1500})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Probability != 0.83 {
		t.Errorf("Probability = %v, want 0.83", pred.Probability)
	}
	if pred.AnomalyScore != 1.7 {
		t.Errorf("AnomalyScore = %v, want 1.7", pred.AnomalyScore)
	}
	if pred.Model != "lightgbm-v3" {
		t.Errorf("Model = %s, want lightgbm-v3", pred.Model)
	}
}

func TestHTTPClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient("pca", server.URL, time.Second, 5, time.Minute, nil)

	if _, err := client.Predict(context.Background(), nil); err == nil {
		t.Fatalf("Predict = nil error on 503 response")
	}
}

func TestHTTPClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient("pca", server.URL, time.Second, 2, time.Minute, nil)

	for i := 0; i < 5; i++ {
		if _, err := client.Predict(context.Background(), nil); err == nil {
			t.Fatalf("Predict %d = nil error while endpoint is down", i)
		}
	}

	// After the breaker opens, calls fail fast without reaching the server.
	if hits > 2 {
		t.Errorf("server hit %d times, want breaker to stop traffic after 2 failures", hits)
	}
}
