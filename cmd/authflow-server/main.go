package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frog8/authflow"
	"github.com/frog8/authflow/auditsink"
	"github.com/frog8/authflow/delivery"
	"github.com/frog8/authflow/internal/config"
	"github.com/frog8/authflow/internal/httpapi"
	"github.com/frog8/authflow/metrics/export/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authflow-server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := authflow.New().
		WithConfig(cfg.EngineConfig()).
		WithLogger(logger)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}

		sender, err := newSender(cfg, logger)
		if err != nil {
			return err
		}
		b.WithRedis(rdb).WithSender(sender)
		logger.Info("using redis backend", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("using simulated backend",
			zap.Duration("issue_delay", cfg.IssueDelay),
			zap.Duration("verify_delay", cfg.VerifyDelay),
		)
	}

	sink, err := newAuditSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	b.WithAuditSink(sink)

	engine, err := b.Build()
	if err != nil {
		if c, ok := sink.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var limiter *httpapi.IPRateLimiter
	if cfg.APIRatePerSecond > 0 {
		limiter = httpapi.NewIPRateLimiter(cfg.APIRatePerSecond, cfg.APIRateBurst, logger)
		defer limiter.Stop()
	}

	opts := httpapi.Options{
		Engine:       engine,
		Logger:       logger,
		CORSOrigins:  cfg.CORSOriginList(),
		RateLimiter:  limiter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if cfg.MetricsEnabled {
		opts.Metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}
	app, err := httpapi.New(opts)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// newSender picks Twilio behind a circuit breaker when configured, else logs codes.
func newSender(cfg *config.Config, logger *zap.Logger) (delivery.Sender, error) {
	if cfg.TwilioAccountSID == "" {
		if cfg.OTPReveal {
			logger.Warn("OTP_REVEAL is on: codes are written to the log")
		}
		return delivery.NewLogSender(logger, cfg.OTPReveal), nil
	}

	twilio, err := delivery.NewTwilioSender(delivery.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
	})
	if err != nil {
		return nil, err
	}
	return delivery.NewBreakerSender(twilio, delivery.BreakerConfig{Name: "twilio"}, logger), nil
}

func newAuditSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (authflow.AuditSink, error) {
	sinks := authflow.MultiSink{authflow.NewZapSink(logger.Named("audit"))}

	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		ks, err := auditsink.NewKafkaSink(auditsink.KafkaConfig{
			Brokers: brokers,
			Topic:   cfg.AuditKafkaTopic,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
		logger.Info("audit to kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.AuditKafkaTopic))
	}

	if cfg.MongoURI != "" {
		ms, err := auditsink.NewMongoSink(ctx, auditsink.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.AuditMongoDB,
		}, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("connect audit mongo: %w", err)
		}
		sinks = append(sinks, ms)
		logger.Info("audit to mongo", zap.String("database", cfg.AuditMongoDB))
	}

	return sinks, nil
}
