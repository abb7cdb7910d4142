package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Booking    BookingConfig    `yaml:"booking"`
	Lock       LockConfig       `yaml:"lock"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Redis      RedisConfig      `yaml:"redis"`
	Events     EventsConfig     `yaml:"events"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	CORSOrigins     []string `yaml:"cors_origins"`
	JWTSecret       string   `yaml:"jwt_secret"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// BookingConfig holds the booking lifecycle rules.
type BookingConfig struct {
	MaxDurationHours       int           `yaml:"max_duration_hours"`
	Timezone               string        `yaml:"timezone"`
	SlotHorizonDays        int           `yaml:"slot_horizon_days"`
	PaymentTimeoutMinutes  int           `yaml:"payment_timeout_minutes"`
	CompletionGraceMinutes int           `yaml:"completion_grace_minutes"`
	MaxDuration            time.Duration `yaml:"-"`
	SlotHorizon            time.Duration `yaml:"-"`
	PaymentTimeout         time.Duration `yaml:"-"`
	CompletionGrace        time.Duration `yaml:"-"`
}

// LockConfig selects and configures the lock vendor gateway.
type LockConfig struct {
	Driver          string        `yaml:"driver"` // http or simulated
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	HTTPProxy       string        `yaml:"http_proxy"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	Timeout         time.Duration `yaml:"-"`
}

// PaymentsConfig selects and configures the payment provider.
type PaymentsConfig struct {
	Provider            string        `yaml:"provider"` // stripe or simulated
	StripeSecretKey     string        `yaml:"stripe_secret_key"`
	StripeWebhookSecret string        `yaml:"stripe_webhook_secret"`
	Dedupe              string        `yaml:"dedupe"` // memory or redis
	DedupeTTLMinutes    int           `yaml:"dedupe_ttl_minutes"`
	DedupeTTL           time.Duration `yaml:"-"`
}

// RedisConfig holds the Redis connection used for callback dedupe.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig selects the broker that receives domain events.
type EventsConfig struct {
	Broker       string   `yaml:"broker"` // none, rabbitmq or kafka
	RabbitMQURL  string   `yaml:"rabbitmq_url"`
	Exchange     string   `yaml:"exchange"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	// KafkaBatchTimeoutMs bounds how long a publish waits to fill a batch.
	KafkaBatchTimeoutMs int           `yaml:"kafka_batch_timeout_ms"`
	KafkaAsync          bool          `yaml:"kafka_async"`
	KafkaBatchTimeout   time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// SweeperConfig holds the background sweeper settings.
type SweeperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the configuration from the given path. A .env file next to the
// working directory is loaded first and ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 15
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Booking.MaxDurationHours <= 0 {
		cfg.Booking.MaxDurationHours = 24
	}
	cfg.Booking.MaxDuration = time.Duration(cfg.Booking.MaxDurationHours) * time.Hour
	if cfg.Booking.Timezone == "" {
		cfg.Booking.Timezone = "UTC"
	}
	if cfg.Booking.SlotHorizonDays <= 0 {
		cfg.Booking.SlotHorizonDays = 30
	}
	cfg.Booking.SlotHorizon = time.Duration(cfg.Booking.SlotHorizonDays) * 24 * time.Hour
	cfg.Booking.PaymentTimeout = time.Duration(cfg.Booking.PaymentTimeoutMinutes) * time.Minute
	if cfg.Booking.CompletionGraceMinutes < 0 {
		cfg.Booking.CompletionGraceMinutes = 0
	}
	cfg.Booking.CompletionGrace = time.Duration(cfg.Booking.CompletionGraceMinutes) * time.Minute

	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "simulated"
	}
	if cfg.Lock.TimeoutSeconds <= 0 {
		cfg.Lock.TimeoutSeconds = 10
	}
	cfg.Lock.Timeout = time.Duration(cfg.Lock.TimeoutSeconds) * time.Second
	if cfg.Lock.RateLimitPerSec <= 0 {
		cfg.Lock.RateLimitPerSec = 5
	}

	if cfg.Payments.Provider == "" {
		cfg.Payments.Provider = "simulated"
	}
	if cfg.Payments.Dedupe == "" {
		cfg.Payments.Dedupe = "memory"
	}
	if cfg.Payments.DedupeTTLMinutes <= 0 {
		cfg.Payments.DedupeTTLMinutes = 24 * 60
	}
	cfg.Payments.DedupeTTL = time.Duration(cfg.Payments.DedupeTTLMinutes) * time.Minute

	if cfg.Events.Broker == "" {
		cfg.Events.Broker = "none"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "pod.bookings"
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "pod.bookings"
	}
	if cfg.Events.KafkaBatchTimeoutMs <= 0 {
		cfg.Events.KafkaBatchTimeoutMs = 10
	}
	cfg.Events.KafkaBatchTimeout = time.Duration(cfg.Events.KafkaBatchTimeoutMs) * time.Millisecond

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
