// Package metrics defines the pluggable metrics sink used across the
// orchestrator. Recording must never block or fail the request path.
package metrics

import "time"

// Recorder is the metrics contract.
type Recorder interface {
	// RecordCompletion captures the outcome of one orchestrated request.
	// fallbacks counts the providers that failed before this outcome.
	RecordCompletion(provider, model, kind string, success, cacheHit bool, fallbacks, tokensUsed int, cost float64, duration time.Duration)

	// RecordRateLimitHit counts a local rate-limit denial for a provider.
	RecordRateLimitHit(provider string)

	// RecordQuotaDenial counts a quota denial for a provider.
	RecordQuotaDenial(provider string)

	// RecordBreakerTransition captures a circuit breaker state change.
	RecordBreakerTransition(provider, from, to string)

	// RecordError counts an adapter error by taxonomy code.
	RecordError(provider, errorCode string)
}

// GlobalRecorder holds the active metrics recorder implementation.
var GlobalRecorder Recorder = &NoOpRecorder{}

// NoOpRecorder is the disabled-metrics implementation.
type NoOpRecorder struct{}

// RecordCompletion implements Recorder without collecting any data.
func (n *NoOpRecorder) RecordCompletion(provider, model, kind string, success, cacheHit bool, fallbacks, tokensUsed int, cost float64, duration time.Duration) {
}

// RecordRateLimitHit implements Recorder without collecting any data.
func (n *NoOpRecorder) RecordRateLimitHit(provider string) {}

// RecordQuotaDenial implements Recorder without collecting any data.
func (n *NoOpRecorder) RecordQuotaDenial(provider string) {}

// RecordBreakerTransition implements Recorder without collecting any data.
func (n *NoOpRecorder) RecordBreakerTransition(provider, from, to string) {}

// RecordError implements Recorder without collecting any data.
func (n *NoOpRecorder) RecordError(provider, errorCode string) {}

// MultiRecorder fans out to several recorders.
type MultiRecorder struct {
	Recorders []Recorder
}

// RecordCompletion implements Recorder.
func (m *MultiRecorder) RecordCompletion(provider, model, kind string, success, cacheHit bool, fallbacks, tokensUsed int, cost float64, duration time.Duration) {
	for _, r := range m.Recorders {
		r.RecordCompletion(provider, model, kind, success, cacheHit, fallbacks, tokensUsed, cost, duration)
	}
}

// RecordRateLimitHit implements Recorder.
func (m *MultiRecorder) RecordRateLimitHit(provider string) {
	for _, r := range m.Recorders {
		r.RecordRateLimitHit(provider)
	}
}

// RecordQuotaDenial implements Recorder.
func (m *MultiRecorder) RecordQuotaDenial(provider string) {
	for _, r := range m.Recorders {
		r.RecordQuotaDenial(provider)
	}
}

// RecordBreakerTransition implements Recorder.
func (m *MultiRecorder) RecordBreakerTransition(provider, from, to string) {
	for _, r := range m.Recorders {
		r.RecordBreakerTransition(provider, from, to)
	}
}

// RecordError implements Recorder.
func (m *MultiRecorder) RecordError(provider, errorCode string) {
	for _, r := range m.Recorders {
		r.RecordError(provider, errorCode)
	}
}
