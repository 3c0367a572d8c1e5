package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"concierge/pkg/errors"
)

type Config struct {
	App           AppConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Kafka         KafkaConfig
	AI            AIConfig
	CRM           CRMConfig
	Handoff       HandoffConfig
	Scorer        ScorerConfig
	Cache         CacheConfig
	Compliance    ComplianceConfig
	Quota         QuotaConfig
	Session       SessionConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
	Metrics       MetricsConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"concierge"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"concierge"`
}

type AIConfig struct {
	AnthropicKey   string        `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIKey      string        `envconfig:"OPENAI_API_KEY"`
	ProviderOrder  []string      `envconfig:"AI_PROVIDER_ORDER" default:"anthropic,openai,static"`
	RequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"30s"`
	AnthropicModel string        `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-sonnet-20241022"`
	OpenAIModel    string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	// Client-side request rate per provider, requests per minute
	RequestsPerMinute int `envconfig:"AI_REQUESTS_PER_MINUTE" default:"60"`
}

type CRMConfig struct {
	BaseURL    string        `envconfig:"CRM_BASE_URL" required:"true"`
	APIKey     string        `envconfig:"CRM_API_KEY" required:"true"`
	LocationID string        `envconfig:"CRM_LOCATION_ID"`
	Timeout    time.Duration `envconfig:"CRM_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"CRM_MAX_RETRIES" default:"3"`
}

type HandoffConfig struct {
	ConfidenceThreshold float64       `envconfig:"HANDOFF_CONFIDENCE_THRESHOLD" default:"0.7"`
	LoopWindowSize      int           `envconfig:"HANDOFF_LOOP_WINDOW_SIZE" default:"4"`
	LoopWindowDuration  time.Duration `envconfig:"HANDOFF_LOOP_WINDOW_DURATION" default:"10m"`
	RateCap             int           `envconfig:"HANDOFF_RATE_CAP" default:"3"`
	RateWindow          time.Duration `envconfig:"HANDOFF_RATE_WINDOW" default:"5m"`
	SnapshotTurns       int           `envconfig:"HANDOFF_SNAPSHOT_TURNS" default:"10"`
	SnapshotTTL         time.Duration `envconfig:"HANDOFF_SNAPSHOT_TTL" default:"24h"`
}

type ScorerConfig struct {
	Timeout          time.Duration `envconfig:"SCORER_TIMEOUT" default:"2s"`
	LexicalWeight    float64       `envconfig:"SCORER_LEXICAL_WEIGHT" default:"0.5"`
	TrajectoryWeight float64       `envconfig:"SCORER_TRAJECTORY_WEIGHT" default:"0.3"`
	SignalWeight     float64       `envconfig:"SCORER_SIGNAL_WEIGHT" default:"0.2"`
	TrajectoryTurns  int           `envconfig:"SCORER_TRAJECTORY_TURNS" default:"6"`
}

type CacheConfig struct {
	L1MaxEntries int           `envconfig:"CACHE_L1_MAX_ENTRIES" default:"1000"`
	L1TTL        time.Duration `envconfig:"CACHE_L1_TTL" default:"5m"`
	L2TTL        time.Duration `envconfig:"CACHE_L2_TTL" default:"1h"`
	L3TTL        time.Duration `envconfig:"CACHE_L3_TTL" default:"168h"`
	TierTimeout  time.Duration `envconfig:"CACHE_TIER_TIMEOUT" default:"250ms"`
	// Minimum cosine similarity for an L3 semantic match to count as a hit
	SemanticThreshold float64 `envconfig:"CACHE_SEMANTIC_THRESHOLD" default:"0.97"`
}

type ComplianceConfig struct {
	DisclosureText string `envconfig:"COMPLIANCE_DISCLOSURE_TEXT" default:"[AI Assistant]"`
	SMSMaxChars    int    `envconfig:"COMPLIANCE_SMS_MAX_CHARS" default:"160"`
	// Comma-separated regex fragments appended to the built-in denylist
	ExtraDenylist []string `envconfig:"COMPLIANCE_EXTRA_DENYLIST"`
	FallbackText  string   `envconfig:"COMPLIANCE_FALLBACK_TEXT" default:"Thanks for reaching out! A member of our team will follow up with you shortly."`
}

type QuotaConfig struct {
	HourlyCap int `envconfig:"QUOTA_HOURLY_CAP" default:"3"`
	DailyCap  int `envconfig:"QUOTA_DAILY_CAP" default:"10"`
}

type SessionConfig struct {
	InactivityWindow time.Duration `envconfig:"SESSION_INACTIVITY_WINDOW" default:"24h"`
	LockTimeout      time.Duration `envconfig:"SESSION_LOCK_TIMEOUT" default:"5s"`
	TurnDeadline     time.Duration `envconfig:"SESSION_TURN_DEADLINE" default:"45s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig controls the inbound processing pool and background sweepers
type WorkerConfig struct {
	InboundConcurrency   int           `envconfig:"WORKER_INBOUND_CONCURRENCY" default:"16"`
	DeferredPollInterval time.Duration `envconfig:"WORKER_DEFERRED_POLL_INTERVAL" default:"30s"`
	SnapshotGCInterval   time.Duration `envconfig:"WORKER_SNAPSHOT_GC_INTERVAL" default:"1h"`
	SessionGCInterval    time.Duration `envconfig:"WORKER_SESSION_GC_INTERVAL" default:"15m"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	Port    int  `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
