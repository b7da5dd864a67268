// Package main provides the outbox relay service entry point.
// Publishes committed claim file events from the outbox table to Redpanda.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/config"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
	"github.com/drfirst/go-edi837/internal/infrastructure/redpanda"
	"github.com/drfirst/go-edi837/internal/observability/metrics"
	"github.com/drfirst/go-edi837/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load(os.Getenv("EDI837_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.TracingFor(serviceName))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Kafka.EnsureTopics {
		admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
		if err != nil {
			logger.Fatal("admin client creation failed", zap.Error(err))
		}
		if err := admin.EnsureTopics(ctx); err != nil {
			logger.Fatal("topic setup failed", zap.Error(err))
		}
		admin.Close()
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New(nil)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, &countingPublisher{producer: producer, metrics: m}, outboxCfg, logger)

	outbox.Start()
	go reportPending(ctx, outbox, m, logger)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("outbox relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	outbox.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("producer flush failed", zap.Error(err))
	}
	metricsServer.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

// countingPublisher counts relayed messages
type countingPublisher struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (p *countingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := p.producer.Publish(ctx, topic, key, value); err != nil {
		return err
	}
	p.metrics.KafkaMessagesProduced.Inc()
	return nil
}

func reportPending(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Warn("outbox stats unavailable", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(stats.Pending))
			if stats.Failed > 0 {
				logger.Warn("outbox entries awaiting dead-letter",
					zap.Int64("failed", stats.Failed))
			}
		}
	}
}
