// Package ensemble combines the classifier and anomaly model scores into a
// single calibrated fraud probability.
package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// FeatureVector is the flat numeric feature set sent to a model endpoint.
type FeatureVector map[string]float64

// Prediction is one model endpoint's answer.
type Prediction struct {
	Probability  float64 `json:"probability"`
	AnomalyScore float64 `json:"anomalyScore"`
	Model        string  `json:"model,omitempty"`
}

// ModelClient is a scoring collaborator. Implementations must treat every
// failure mode (timeout, transport error, open breaker) as an error so the
// scorer can apply its fallback policy.
type ModelClient interface {
	Predict(ctx context.Context, features FeatureVector) (*Prediction, error)
	Name() string
}

type predictRequest struct {
	Features FeatureVector `json:"features"`
}

type predictResponse struct {
	Probability  float64 `json:"probability"`
	AnomalyScore float64 `json:"anomaly_score"`
	Model        string  `json:"model"`
}

// HTTPClient calls one model-serving endpoint over JSON/HTTP. Calls run
// through a circuit breaker so a dead endpoint fails fast instead of eating
// the request budget of every transaction.
type HTTPClient struct {
	name    string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPClient creates a model client for one endpoint.
func NewHTTPClient(name, url string, timeout time.Duration, maxFailures uint32, breakerTimeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("model breaker state changed",
				"model", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPClient{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Name returns the model name used in health and audit records.
func (c *HTTPClient) Name() string { return c.name }

// Predict sends the feature vector to the model endpoint.
func (c *HTTPClient) Predict(ctx context.Context, features FeatureVector) (*Prediction, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.predict(ctx, features)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Prediction), nil
}

func (c *HTTPClient) predict(ctx context.Context, features FeatureVector) (*Prediction, error) {
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model %s unreachable: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model %s returned status %d", c.name, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("model %s returned invalid response: %w", c.name, err)
	}

	model := out.Model
	if model == "" {
		model = c.name
	}

	return &Prediction{
		Probability:  out.Probability,
		AnomalyScore: out.AnomalyScore,
		Model:        model,
	}, nil
}
