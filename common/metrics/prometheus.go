package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports orchestration metrics for scraping.
type PrometheusRecorder struct {
	completions     *prometheus.CounterVec
	completionTime  *prometheus.HistogramVec
	tokensUsed      *prometheus.CounterVec
	costUsed        *prometheus.CounterVec
	fallbackCount   *prometheus.HistogramVec
	rateLimitHits   *prometheus.CounterVec
	quotaDenials    *prometheus.CounterVec
	breakerChanges  *prometheus.CounterVec
	errorsByCode    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		completions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_completions_total",
			Help: "Completed orchestration requests by provider and outcome.",
		}, []string{"provider", "model", "kind", "success", "cache_hit"}),
		completionTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelmux_completion_duration_seconds",
			Help:    "End-to-end completion latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "kind"}),
		tokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_tokens_used_total",
			Help: "Tokens consumed per provider.",
		}, []string{"provider"}),
		costUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_cost_used_total",
			Help: "Estimated cost consumed per provider.",
		}, []string{"provider"}),
		fallbackCount: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelmux_fallbacks_per_request",
			Help:    "Providers tried and failed before the final outcome.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}, []string{"kind"}),
		rateLimitHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_rate_limit_hits_total",
			Help: "Local sliding-window rate limit denials.",
		}, []string{"provider"}),
		quotaDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_quota_denials_total",
			Help: "Quota manager denials.",
		}, []string{"provider"}),
		breakerChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"provider", "from", "to"}),
		errorsByCode: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_errors_total",
			Help: "Adapter errors by taxonomy code.",
		}, []string{"provider", "code"}),
	}
}

// RecordCompletion implements Recorder.
func (p *PrometheusRecorder) RecordCompletion(provider, model, kind string, success, cacheHit bool, fallbacks, tokensUsed int, cost float64, duration time.Duration) {
	p.completions.WithLabelValues(provider, model, kind,
		strconv.FormatBool(success), strconv.FormatBool(cacheHit)).Inc()
	p.completionTime.WithLabelValues(provider, kind).Observe(duration.Seconds())
	p.tokensUsed.WithLabelValues(provider).Add(float64(tokensUsed))
	p.costUsed.WithLabelValues(provider).Add(cost)
	p.fallbackCount.WithLabelValues(kind).Observe(float64(fallbacks))
}

// RecordRateLimitHit implements Recorder.
func (p *PrometheusRecorder) RecordRateLimitHit(provider string) {
	p.rateLimitHits.WithLabelValues(provider).Inc()
}

// RecordQuotaDenial implements Recorder.
func (p *PrometheusRecorder) RecordQuotaDenial(provider string) {
	p.quotaDenials.WithLabelValues(provider).Inc()
}

// RecordBreakerTransition implements Recorder.
func (p *PrometheusRecorder) RecordBreakerTransition(provider, from, to string) {
	p.breakerChanges.WithLabelValues(provider, from, to).Inc()
}

// RecordError implements Recorder.
func (p *PrometheusRecorder) RecordError(provider, errorCode string) {
	p.errorsByCode.WithLabelValues(provider, errorCode).Inc()
}
