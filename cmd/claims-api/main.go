// Package main provides the claims API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/api/handlers"
	"github.com/drfirst/go-edi837/internal/api/middleware"
	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/config"
	"github.com/drfirst/go-edi837/internal/infrastructure/redpanda"
	"github.com/drfirst/go-edi837/internal/observability/metrics"
	"github.com/drfirst/go-edi837/internal/observability/tracing"
	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

const serviceName = "claims-api"

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

	// Without brokers every request is generated inline
	var queue handlers.Enqueuer
	var producer *redpanda.Producer
	readiness := map[string]app.Check{"database": app.DatabaseCheck(pool)}
	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Kafka.EnsureTopics {
			if err := ensureTopics(ctx, cfg.Kafka.Brokers, logger); err != nil {
				logger.Fatal("topic setup failed", zap.Error(err))
			}
		}
		producerCfg := redpanda.DefaultProducerConfig()
		producerCfg.Brokers = cfg.Kafka.Brokers
		producer, err = redpanda.NewProducer(producerCfg, logger)
		if err != nil {
			logger.Fatal("producer creation failed", zap.Error(err))
		}
		defer producer.Close()
		queue = claimfile.NewQueue(producer, redpanda.TopicGenerateRequests)
		readiness["brokers"] = app.BrokerCheck(cfg.Kafka.Brokers)
		logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	claimsHandler := handlers.NewClaimsHandler(svc, queue, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// Health, readiness and metrics (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", app.Readiness(readiness, logger))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.HTTP.APIKeys))
		r.Use(middleware.MaxBody(middleware.DefaultMaxBody))
		r.Mount("/claim-files", claimsHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // synchronous generation of large batches
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if producer != nil {
			if err := producer.Flush(shutdownCtx); err != nil {
				logger.Warn("producer flush failed", zap.Error(err))
			}
		}
		cancel()
	}()

	logger.Info("starting claims API",
		zap.String("port", cfg.HTTP.Port),
		zap.Bool("queued", queue != nil),
		zap.Bool("upload_enabled", cfg.UploadEnabled()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func ensureTopics(ctx context.Context, brokers []string, logger *zap.Logger) error {
	admin, err := redpanda.NewAdmin(brokers, logger)
	if err != nil {
		return err
	}
	defer admin.Close()
	return admin.EnsureTopics(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":"1.0.0"}`, serviceName)
}
