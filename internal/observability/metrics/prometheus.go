// Package metrics provides Prometheus metrics for claim file generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	ClaimFilesGenerated   prometheus.Counter
	TransactionsEncoded   prometheus.Counter
	BatchesRejected       *prometheus.CounterVec
	PricingSoftFailures   prometheus.Counter
	Uploads               *prometheus.CounterVec
	GenerationDuration    prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	ConsumerLag           *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg, or with the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ClaimFilesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edi837_claim_files_generated_total",
			Help: "Total 837P claim files generated",
		}),
		TransactionsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edi837_transactions_encoded_total",
			Help: "Total ST/SE transaction sets encoded",
		}),
		BatchesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edi837_batches_rejected_total",
			Help: "Batches that produced no file, by reason",
		}, []string{"reason"}),
		PricingSoftFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edi837_pricing_soft_failures_total",
			Help: "Procedure lines billed at zero because no price resolved",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edi837_uploads_total",
			Help: "Clearinghouse uploads by outcome",
		}, []string{"outcome"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edi837_generation_duration_seconds",
			Help:    "Time from request to written claim file",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafka_consumer_group_lag",
			Help: "Records not yet consumed by the worker group, by topic",
		}, []string{"topic"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.ClaimFilesGenerated,
		m.TransactionsEncoded,
		m.BatchesRejected,
		m.PricingSoftFailures,
		m.Uploads,
		m.GenerationDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.ConsumerLag,
		m.CircuitBreakerState,
	)

	return m
}

// FileGenerated records a written claim file
func (m *Metrics) FileGenerated(transactions int, elapsed time.Duration) {
	m.ClaimFilesGenerated.Inc()
	m.TransactionsEncoded.Add(float64(transactions))
	m.GenerationDuration.Observe(elapsed.Seconds())
}

// BatchRejected records a batch that produced no file
func (m *Metrics) BatchRejected(reason string) {
	m.BatchesRejected.WithLabelValues(reason).Inc()
}

// SoftFailures records zero-priced lines
func (m *Metrics) SoftFailures(n int) {
	if n > 0 {
		m.PricingSoftFailures.Add(float64(n))
	}
}

// Uploaded records a clearinghouse upload outcome
func (m *Metrics) Uploaded(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Uploads.WithLabelValues(outcome).Inc()
}

// ObserveBreakers copies breaker states into the CircuitBreakerState gauge
func (m *Metrics) ObserveBreakers(statuses []circuitbreaker.HealthStatus) {
	for _, s := range statuses {
		var v float64
		switch s.State {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(s.Name).Set(v)
	}
}

// ObserveConsumerLag sets the lag gauge per topic, summed over partitions
func (m *Metrics) ObserveConsumerLag(lag map[string]map[int32]int64) {
	for topic, partitions := range lag {
		var total int64
		for _, l := range partitions {
			if l > 0 {
				total += l
			}
		}
		m.ConsumerLag.WithLabelValues(topic).Set(float64(total))
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
