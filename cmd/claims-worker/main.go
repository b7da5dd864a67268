// Package main provides the claims worker entry point.
// Consumes queued claim file requests, generates and uploads the files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/config"
	"github.com/drfirst/go-edi837/internal/infrastructure/redpanda"
	"github.com/drfirst/go-edi837/internal/observability/metrics"
	"github.com/drfirst/go-edi837/internal/observability/tracing"
	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
	"github.com/drfirst/go-edi837/pkg/idempotency"
	"github.com/drfirst/go-edi837/pkg/workerpool"
)

const serviceName = "claims-worker"

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

	m := metrics.New(nil)
	breakers := circuitbreaker.NewManager(logger)
	go app.WatchBreakers(ctx, breakers, m, 15*time.Second)

	svc, err := app.NewService(cfg, pool, breakers, m, logger)
	if err != nil {
		logger.Fatal("service wiring failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	worker := claimfile.NewWorker(svc, inbox, logger)

	// Generation is bounded by the pool; retries stop at permanent failures
	poolCfg := workerpool.DefaultConfig()
	if cfg.Worker.Concurrency > 0 {
		poolCfg.Workers = cfg.Worker.Concurrency
	}
	poolCfg.MaxRetries = cfg.Worker.MaxRetries
	if cfg.Worker.RetryDelay > 0 {
		poolCfg.RetryDelay = cfg.Worker.RetryDelay
	}
	poolCfg.ShouldRetry = func(err error) bool { return !idempotency.IsPermanent(err) }

	workerPool, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		data, err := worker.Handle(ctx, task.Payload.([]byte))
		if err != nil {
			return &workerpool.Result{Success: false, Error: err}
		}
		return &workerpool.Result{Success: true, Data: data}
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workerPool.Start()
	defer workerPool.Stop()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	if cfg.Kafka.GroupID != "" {
		consumerCfg.GroupID = cfg.Kafka.GroupID
	}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		m.KafkaMessagesConsumed.Inc()
		result, err := workerPool.SubmitWait(ctx, &workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Context: ctx,
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return result.Error
		}
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.OnFailure(func(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) {
		value, err := json.Marshal(deadLetter{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Payload:   msg.Value,
			Error:     cause.Error(),
			FailedAt:  time.Now().UTC(),
		})
		if err != nil {
			logger.Error("dead letter encoding failed", zap.Error(err))
			return
		}
		// Publish even while shutting down so the message is not lost with its offset
		pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer pubCancel()
		if err := producer.Publish(pubCtx, redpanda.TopicDeadLetter, string(msg.Key), value); err != nil {
			logger.Error("dead letter publish failed",
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	})

	consumer.Start()

	admin, err := redpanda.NewAdmin(consumerCfg.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	go app.WatchConsumerLag(ctx, admin, consumerCfg.GroupID, m, 30*time.Second, logger)

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ready", app.Readiness(map[string]app.Check{
		"database": app.DatabaseCheck(pool),
		"brokers":  app.BrokerCheck(consumerCfg.Brokers),
		"queue":    app.QueueCheck(workerPool),
	}, logger))

	metricsServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("claims worker started",
		zap.Strings("brokers", consumerCfg.Brokers),
		zap.String("group_id", consumerCfg.GroupID),
		zap.Int("workers", poolCfg.Workers),
		zap.Bool("upload_enabled", cfg.UploadEnabled()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	stats := consumer.Stats()
	logger.Info("consumer drained",
		zap.Int64("messages_read", stats.MessagesRead),
		zap.Int64("bytes_read", stats.BytesRead),
		zap.Int64("errors", stats.ErrorCount),
		zap.Time("last_commit", stats.LastCommitTime))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
	logger.Info("claims worker stopped")
}

// deadLetter is published for requests that could not be processed
type deadLetter struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}
