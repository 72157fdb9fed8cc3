package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is intentionally empty; each field carries its fully
	// qualified NEXUSPAY_* variable name.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Circle         CircleConfig
	Pipeline       PipelineConfig
	Reconciliation ReconciliationConfig
	Retention      RetentionConfig
	FeatureFlags   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NEXUSPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"NEXUSPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"NEXUSPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NEXUSPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"NEXUSPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"NEXUSPAY_DB_DSN"`
	Driver string `envconfig:"NEXUSPAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"NEXUSPAY_DB_HOST"`
	Port     int    `envconfig:"NEXUSPAY_DB_PORT" default:"5432"`
	User     string `envconfig:"NEXUSPAY_DB_USER"`
	Password string `envconfig:"NEXUSPAY_DB_PASSWORD"`
	Name     string `envconfig:"NEXUSPAY_DB_NAME"`
	SSLMode  string `envconfig:"NEXUSPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NEXUSPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NEXUSPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NEXUSPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NEXUSPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either NEXUSPAY_DB_DSN or host/user/name settings are required")
	}
	d.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"NEXUSPAY_REDIS_URL"`
	Address      string        `envconfig:"NEXUSPAY_REDIS_ADDR"`
	Password     string        `envconfig:"NEXUSPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"NEXUSPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NEXUSPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NEXUSPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NEXUSPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NEXUSPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NEXUSPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"NEXUSPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"NEXUSPAY_PUBSUB_NOTIFICATION_TOPIC" default:"nx-transaction-events"`
}

// CircleConfig holds the settlement provider connection settings.
type CircleConfig struct {
	BaseURL        string        `envconfig:"NEXUSPAY_CIRCLE_BASE_URL" default:"https://api.circle.com"`
	APIKey         string        `envconfig:"NEXUSPAY_CIRCLE_API_KEY"`
	WebhookSecret  string        `envconfig:"NEXUSPAY_CIRCLE_WEBHOOK_SECRET"`
	WebhookMaxSkew time.Duration `envconfig:"NEXUSPAY_CIRCLE_WEBHOOK_MAX_SKEW" default:"5m"`
	RequestTimeout time.Duration `envconfig:"NEXUSPAY_CIRCLE_REQUEST_TIMEOUT" default:"10s"`
}

// PipelineConfig tunes the event apply/retry pipeline. The retry budget and
// backoff bounds are deliberately configuration, not constants.
type PipelineConfig struct {
	Workers      int           `envconfig:"NEXUSPAY_PIPELINE_WORKERS" default:"8"`
	BatchSize    int           `envconfig:"NEXUSPAY_PIPELINE_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"NEXUSPAY_PIPELINE_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"NEXUSPAY_PIPELINE_MAX_ATTEMPTS" default:"5"`
	BaseDelay    time.Duration `envconfig:"NEXUSPAY_PIPELINE_BASE_DELAY" default:"1s"`
	MaxDelay     time.Duration `envconfig:"NEXUSPAY_PIPELINE_MAX_DELAY" default:"60s"`
	InFlightTTL  time.Duration `envconfig:"NEXUSPAY_PIPELINE_INFLIGHT_TTL" default:"2m"`
}

type ReconciliationConfig struct {
	Interval          time.Duration `envconfig:"NEXUSPAY_RECONCILE_INTERVAL" default:"5m"`
	Staleness         time.Duration `envconfig:"NEXUSPAY_RECONCILE_STALENESS" default:"15m"`
	ExtendedStaleness time.Duration `envconfig:"NEXUSPAY_RECONCILE_EXTENDED_STALENESS" default:"24h"`
	BatchSize         int           `envconfig:"NEXUSPAY_RECONCILE_BATCH_SIZE" default:"100"`
}

type RetentionConfig struct {
	AppliedEventDays int `envconfig:"NEXUSPAY_RETENTION_APPLIED_EVENT_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"NEXUSPAY_AUTO_MIGRATE" default:"false"`
}
