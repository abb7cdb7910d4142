package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/payment"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newGateway(cfg *config.Config, log *zap.Logger) (lockgw.Gateway, error) {
	switch cfg.Lock.Driver {
	case "http":
		if cfg.Lock.BaseURL == "" {
			return nil, fmt.Errorf("lock.base_url is required for the http driver")
		}
		return lockgw.NewHTTPGateway(&cfg.Lock, log.Named("lockgw")), nil
	case "simulated":
		log.Warn("using the simulated lock gateway")
		return lockgw.NewSimulated(), nil
	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Lock.Driver)
	}
}

func newProvider(cfg *config.Config) (payment.Provider, error) {
	switch cfg.Payments.Provider {
	case "stripe":
		if cfg.Payments.StripeSecretKey == "" || cfg.Payments.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("stripe keys are required for the stripe provider")
		}
		return payment.NewStripeProvider(cfg.Payments.StripeSecretKey, cfg.Payments.StripeWebhookSecret), nil
	case "simulated":
		return payment.NewSimulatedProvider(cfg.Payments.StripeWebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payments.Provider)
	}
}

func newDeduper(ctx context.Context, cfg *config.Config) (payment.Deduper, func(), error) {
	switch cfg.Payments.Dedupe {
	case "memory":
		return payment.NewMemoryDeduper(cfg.Payments.DedupeTTL), func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return payment.NewRedisDeduper(rdb, cfg.Payments.DedupeTTL), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown dedupe backend %q", cfg.Payments.Dedupe)
	}
}

// newPublisher returns nil when no broker is configured.
func newPublisher(cfg config.EventsConfig, log *zap.Logger) (events.Publisher, error) {
	switch cfg.Broker {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		return events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.Exchange)
	case "kafka":
		return events.NewKafkaPublisher(events.KafkaOptions{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			BatchTimeout: cfg.KafkaBatchTimeout,
			Async:        cfg.KafkaAsync,
		}, log.Named("kafka"))
	default:
		return nil, fmt.Errorf("unknown event broker %q", cfg.Broker)
	}
}
