// Package app wires the claim file pipeline from configuration for the service
// binaries: database pool, fee schedule chain, clearinghouse uploader and the
// event-sourced submission store.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/config"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
	"github.com/drfirst/go-edi837/internal/infrastructure/redpanda"
	"github.com/drfirst/go-edi837/internal/observability/metrics"
	"github.com/drfirst/go-edi837/internal/pricing"
	"github.com/drfirst/go-edi837/internal/transport"
	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

// Connect opens and pings the database pool, creating the schema when configured
func Connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database schema ensured")
	}
	logger.Info("connected to database")
	return pool, nil
}

// NewResolver builds the fee schedule chain: database lookup behind the pricing
// breaker, behind an in-memory quote cache.
func NewResolver(next pricing.Resolver, cfg config.PricingConfig, breakers *circuitbreaker.Manager) (pricing.Resolver, error) {
	cb, err := breakers.GetOrCreate(circuitbreaker.NamePricing, circuitbreaker.PricingConfig())
	if err != nil {
		return nil, err
	}
	cacheCfg := pricing.DefaultCacheConfig()
	if cfg.CacheEntries > 0 {
		cacheCfg.MaxEntries = cfg.CacheEntries
	}
	if cfg.CacheTTL > 0 {
		cacheCfg.TTL = cfg.CacheTTL
	}
	return pricing.NewCachedResolver(pricing.NewBreakerResolver(next, cb), cacheCfg)
}

// NewUploader returns the clearinghouse uploader behind its breaker, or nil when no
// mailbox is configured.
func NewUploader(cfg config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (transport.Uploader, error) {
	if !cfg.UploadEnabled() {
		return nil, nil
	}
	sftpUploader, err := transport.NewSFTPUploader(cfg.SFTP, logger)
	if err != nil {
		return nil, err
	}
	cb, err := breakers.GetOrCreate(circuitbreaker.NameClearinghouse, circuitbreaker.ClearinghouseConfig())
	if err != nil {
		return nil, err
	}
	return transport.NewBreakerUploader(sftpUploader, cb, logger), nil
}

// NewService assembles the claim file service on top of PostgreSQL
func NewService(cfg config.Config, pool *pgxpool.Pool, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *zap.Logger) (*claimfile.Service, error) {
	gen, err := encoder.New(cfg.Interchange.EncoderConfig(), logger)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(postgres.NewFeeSchedule(pool), cfg.Pricing, breakers)
	if err != nil {
		return nil, err
	}
	uploader, err := NewUploader(cfg, breakers, logger)
	if err != nil {
		return nil, err
	}

	deps := claimfile.Dependencies{
		Generator: gen,
		Store:     submission.NewRepository(pool, redpanda.TopicClaimFileEvents, logger),
		Pricer:    pricing.NewPricer(resolver, logger),
		Snapshots: postgres.NewSnapshotStore(pool, logger),
		Uploader:  uploader,
		Observer:  m,
	}
	return claimfile.NewService(cfg.OutputDir, deps, logger)
}

// WatchBreakers publishes breaker states to Prometheus until ctx is done
func WatchBreakers(ctx context.Context, breakers *circuitbreaker.Manager, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.ObserveBreakers(breakers.GetHealthStatus())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
