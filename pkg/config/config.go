package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"

	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

type Config struct {
	App      AppConfig
	Sync     SyncConfig
	Store    StoreConfig
	Redis    RedisConfig
	DB       DBConfig
	Cache    CacheConfig
	JWT      JWTConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	BigQuery BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	if cfg.Store.IsPostgres() && cfg.DB.DSN == "" {
		return nil, fmt.Errorf("ATELIER_DB_DSN is required when the record store backend is postgres")
	}
	if cfg.Store.IsRedis() && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("ATELIER_REDIS_URL or ATELIER_REDIS_ADDR is required when the record store backend is redis")
	}
	// envconfig's required tag only rejects unset variables; an exported but
	// empty secret must not be accepted as a signing key.
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("ATELIER_JWT_SECRET must not be empty")
	}
	if cfg.JWT.Issuer == "" {
		return nil, fmt.Errorf("ATELIER_JWT_ISSUER must not be empty")
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ATELIER_APP_ENV" required:"true"`
	Port         string `envconfig:"ATELIER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ATELIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ATELIER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// SyncConfig tunes the persistence debouncer and the remote listener.
type SyncConfig struct {
	DebounceWindow time.Duration `envconfig:"ATELIER_SYNC_DEBOUNCE_WINDOW" default:"100ms"`
	WriteTimeout   time.Duration `envconfig:"ATELIER_SYNC_WRITE_TIMEOUT" default:"5s"`
	LoadTimeout    time.Duration `envconfig:"ATELIER_SYNC_LOAD_TIMEOUT" default:"10s"`
	MaxRetries     uint64        `envconfig:"ATELIER_SYNC_MAX_RETRIES" default:"3"`
	RetryBackoff   time.Duration `envconfig:"ATELIER_SYNC_RETRY_BACKOFF" default:"250ms"`
}

// StoreConfig selects which remote record store backs the engine.
type StoreConfig struct {
	Backend string `envconfig:"ATELIER_STORE_BACKEND" default:"redis"`
}

func (s StoreConfig) IsRedis() bool {
	return strings.EqualFold(strings.TrimSpace(s.Backend), StoreBackendRedis)
}

func (s StoreConfig) IsPostgres() bool {
	return strings.EqualFold(strings.TrimSpace(s.Backend), StoreBackendPostgres)
}

func (s StoreConfig) validate() error {
	if s.IsRedis() || s.IsPostgres() {
		return nil
	}
	return fmt.Errorf("unknown record store backend %q (expected %s or %s)", s.Backend, StoreBackendRedis, StoreBackendPostgres)
}

type RedisConfig struct {
	URL          string        `envconfig:"ATELIER_REDIS_URL"`
	Address      string        `envconfig:"ATELIER_REDIS_ADDR"`
	Password     string        `envconfig:"ATELIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATELIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATELIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATELIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATELIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATELIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATELIER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type DBConfig struct {
	DSN             string        `envconfig:"ATELIER_DB_DSN"`
	MaxOpenConns    int           `envconfig:"ATELIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATELIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"ATELIER_DB_AUTO_MIGRATE" default:"false"`
}

// CacheConfig configures the embedded local state cache.
type CacheConfig struct {
	Path string `envconfig:"ATELIER_CACHE_PATH" default:"atelier-cache.db"`
}

type JWTConfig struct {
	Secret string `envconfig:"ATELIER_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"ATELIER_JWT_ISSUER" required:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ATELIER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ATELIER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ATELIER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EventsTopic        string `envconfig:"ATELIER_PUBSUB_EVENTS_TOPIC"`
	EventsSubscription string `envconfig:"ATELIER_PUBSUB_EVENTS_SUBSCRIPTION"`
}

// Enabled reports whether domain event fanout is configured.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.EventsTopic) != ""
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"ATELIER_BIGQUERY_DATASET" default:"atelier"`
	SyncEventsTable string `envconfig:"ATELIER_BIGQUERY_SYNC_EVENTS_TABLE" default:"sync_events"`
}
