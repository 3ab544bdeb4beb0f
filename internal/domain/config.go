package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring and decisioning
	Ensemble EnsembleConfig `json:"ensemble"`
	Decision DecisionConfig `json:"decision"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// EnsembleConfig holds model endpoints and combination weights.
type EnsembleConfig struct {
	// Endpoints of the two scoring services. Empty disables the model.
	ClassifierURL string `json:"classifierUrl"`
	AnomalyURL    string `json:"anomalyUrl"`

	RequestTimeout time.Duration `json:"requestTimeout"`

	// Weighted-average combination. Must sum to 1.
	ClassifierWeight float64 `json:"classifierWeight"`
	AnomalyWeight    float64 `json:"anomalyWeight"`

	// VotingThreshold is the probability above which a sub-model votes
	// fraud. Both models voting fraud escalates the combined probability.
	VotingThreshold float64 `json:"votingThreshold"`

	// FallbackPenalty is subtracted from confidence when a sub-model is
	// down and its peer substitutes.
	FallbackPenalty float64 `json:"fallbackPenalty"`

	// Circuit breaker settings for model HTTP calls.
	BreakerMaxFailures uint32        `json:"breakerMaxFailures"`
	BreakerTimeout     time.Duration `json:"breakerTimeout"`
}

// DecisionConfig holds the aggregation thresholds.
type DecisionConfig struct {
	// DenyThreshold and ReviewThreshold partition the probability axis.
	DenyThreshold   float64 `json:"denyThreshold"`
	ReviewThreshold float64 `json:"reviewThreshold"`

	// AlertThreshold is the probability at which an analysis spawns a
	// FraudAlert.
	AlertThreshold float64 `json:"alertThreshold"`

	// AmountTiers adjust the raw probability by transaction amount.
	// Tiers are matched from highest MinAmount downward.
	AmountTiers []AmountTier `json:"amountTiers"`
}

// AmountTier scales risk for large transactions. Multiplier is applied to
// the raw probability and clamped to [0, 1].
type AmountTier struct {
	MinAmount  float64 `json:"minAmount"`
	Multiplier float64 `json:"multiplier"`
}

// DefaultConfig returns a standalone configuration: SQLite, in-process
// cache and channel bus, no model endpoints.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ensemble: EnsembleConfig{
			RequestTimeout:     2 * time.Second,
			ClassifierWeight:   0.7,
			AnomalyWeight:      0.3,
			VotingThreshold:    0.5,
			FallbackPenalty:    0.15,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Decision: DecisionConfig{
			DenyThreshold:   0.85,
			ReviewThreshold: 0.5,
			AlertThreshold:  0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ClusterConfig returns a configuration for clustered deployments:
// PostgreSQL, Redis two-phase cache, NATS bus.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
