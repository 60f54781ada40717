package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Engine     EngineConfig     `json:"engine"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds evaluation engine tunables. The freshness window and
// cross-category weights are deliberately configuration, not constants
// buried in code, so deployments can document their chosen values.
type EngineConfig struct {
	// FreshnessWindow is how long an evaluation stays fresh. Repeat
	// evaluation calls inside the window return the cached result unless
	// forceRefresh is set.
	FreshnessWindow time.Duration `json:"freshnessWindow"`

	// CategoryWeights are the cross-category weights for the overall
	// score. Missing categories default to 1.0.
	CategoryWeights map[RiskCategory]float64 `json:"categoryWeights,omitempty"`

	// DetectorWorkers bounds parallel rule evaluation.
	DetectorWorkers int `json:"detectorWorkers"`

	// CascadeMaxOpportunities caps cascade fan-out per catalog change.
	CascadeMaxOpportunities int `json:"cascadeMaxOpportunities"`

	// CascadeWorkers bounds concurrent enqueues during a cascade.
	CascadeWorkers int `json:"cascadeWorkers"`

	// Early warning thresholds.
	RiskIncreaseThreshold float64       `json:"riskIncreaseThreshold"`
	StaleAfter            time.Duration `json:"staleAfter"`
	FollowupAfter         time.Duration `json:"followupAfter"`
}

// CategoryWeight returns the configured weight for a category, defaulting
// to 1.0.
func (c EngineConfig) CategoryWeight(cat RiskCategory) float64 {
	if w, ok := c.CategoryWeights[cat]; ok {
		return w
	}
	return 1.0
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

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the documented default engine tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FreshnessWindow:         24 * time.Hour,
		DetectorWorkers:         16,
		CascadeMaxOpportunities: 1000,
		CascadeWorkers:          8,
		RiskIncreaseThreshold:   0.15,
		StaleAfter:              14 * 24 * time.Hour,
		FollowupAfter:           7 * 24 * time.Hour,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
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
		Engine: DefaultEngineConfig(),
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

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
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
		LocalTTL:       5 * time.Minute,
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
