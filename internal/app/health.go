package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/infrastructure/redpanda"
	"github.com/drfirst/go-edi837/internal/observability/metrics"
)

// Check reports whether one dependency is usable
type Check func(ctx context.Context) error

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck pings the pool
func DatabaseCheck(p Pinger) Check {
	return p.Ping
}

// BrokerCheck dials the Redpanda seed brokers
func BrokerCheck(brokers []string) Check {
	return func(ctx context.Context) error {
		return redpanda.HealthCheck(ctx, brokers)
	}
}

// ErrBacklog is reported while the worker queue is nearly full
var ErrBacklog = errors.New("worker queue is backing up")

// QueueCheck fails while a worker pool is not keeping up
func QueueCheck(p interface{ IsHealthy() bool }) Check {
	return func(context.Context) error {
		if !p.IsHealthy() {
			return ErrBacklog
		}
		return nil
	}
}

// Readiness runs every check and answers 200, or 503 naming the failing checks
func Readiness(checks map[string]Check, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				failed[name] = err.Error()
				logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			}
		}

		status, body := http.StatusOK, map[string]interface{}{"status": "ready"}
		if len(failed) > 0 {
			status, body = http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": failed}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

// LagReader is satisfied by *redpanda.Admin
type LagReader interface {
	GetConsumerGroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error)
}

// WatchConsumerLag publishes the consumer group lag to Prometheus until ctx is done
func WatchConsumerLag(ctx context.Context, admin LagReader, groupID string, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		lag, err := admin.GetConsumerGroupLag(ctx, groupID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("consumer lag unavailable", zap.String("group_id", groupID), zap.Error(err))
		} else {
			m.ObserveConsumerLag(lag)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
