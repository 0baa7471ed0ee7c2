package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	backlogSize  prometheus.Gauge

	stageSubmitTotal    *prometheus.CounterVec
	stageRejectionTotal *prometheus.CounterVec
	stageSaturatedTotal *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec

	cacheHitTotal      prometheus.Counter
	cacheMissTotal     prometheus.Counter
	cacheEvictionTotal prometheus.Counter
	cacheSize          prometheus.Gauge

	clientRequestTotal    *prometheus.CounterVec
	clientRequestDuration prometheus.Histogram

	activeConversations prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			backlogSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "orchestrator_backlog",
					Help: "Outstanding turns held by the orchestrator.",
				},
			),
			stageSubmitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stage_submit_total",
					Help: "Total validation stage submissions by stage.",
				},
				[]string{"stage"},
			),
			stageRejectionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stage_rejection_total",
					Help: "Total validation stage rejections by stage.",
				},
				[]string{"stage"},
			),
			stageSaturatedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stage_saturated_total",
					Help: "Total submissions refused because a stage queue was full.",
				},
				[]string{"stage"},
			),
			stageDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stage_duration_seconds",
					Help:    "Validation stage duration in seconds by stage.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			cacheHitTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "response_cache_hit_total",
					Help: "Total response cache hits.",
				},
			),
			cacheMissTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "response_cache_miss_total",
					Help: "Total response cache misses.",
				},
			),
			cacheEvictionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "response_cache_eviction_total",
					Help: "Total response cache evictions.",
				},
			),
			cacheSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "response_cache_size",
					Help: "Current response cache entry count.",
				},
			),
			clientRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_client_request_total",
					Help: "Total model client requests by status.",
				},
				[]string{"status"},
			),
			clientRequestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "model_client_request_duration_seconds",
					Help:    "Model client request duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current tracked conversation count.",
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.backlogSize,
			m.stageSubmitTotal,
			m.stageRejectionTotal,
			m.stageSaturatedTotal,
			m.stageDuration,
			m.cacheHitTotal,
			m.cacheMissTotal,
			m.cacheEvictionTotal,
			m.cacheSize,
			m.clientRequestTotal,
			m.clientRequestDuration,
			m.activeConversations,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(outcome string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetBacklog(size int) {
	getMetrics().backlogSize.Set(float64(size))
}

func RecordStageSubmit(stage string) {
	getMetrics().stageSubmitTotal.WithLabelValues(stage).Inc()
}

func RecordStageRejection(stage string) {
	getMetrics().stageRejectionTotal.WithLabelValues(stage).Inc()
}

func RecordStageSaturated(stage string) {
	getMetrics().stageSaturatedTotal.WithLabelValues(stage).Inc()
}

func RecordStageDuration(stage string, duration time.Duration) {
	getMetrics().stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordCacheHit() {
	getMetrics().cacheHitTotal.Inc()
}

func RecordCacheMiss() {
	getMetrics().cacheMissTotal.Inc()
}

func RecordCacheEviction() {
	getMetrics().cacheEvictionTotal.Inc()
}

func SetCacheSize(size int) {
	getMetrics().cacheSize.Set(float64(size))
}

func RecordClientRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.clientRequestTotal.WithLabelValues(status).Inc()
	m.clientRequestDuration.Observe(duration.Seconds())
}

func SetActiveConversations(count int) {
	getMetrics().activeConversations.Set(float64(count))
}
