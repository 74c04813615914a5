// Package pipeline implements the per-adapter resilience composition:
// a whole-call timeout wrapping a circuit breaker wrapping a retry loop.
package pipeline

import (
	"context"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/relay/model"
)

// Pipeline drives one adapter's outgoing calls through timeout, circuit
// breaker and retry policies. State is process-global and adapter-local.
type Pipeline struct {
	name       string
	timeout    time.Duration
	maxRetries int
	breaker    *CircuitBreaker

	// backoffBase is the unit for exponential backoff (2^attempt * base).
	// Production value is one second; tests shrink it.
	backoffBase time.Duration
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithBackoffBase overrides the backoff unit.
func WithBackoffBase(d time.Duration) Option {
	return func(p *Pipeline) { p.backoffBase = d }
}

// New builds a pipeline for one adapter.
func New(name string, timeoutSeconds, maxRetries, breakerFailures, breakerDurationSeconds int, opts ...Option) *Pipeline {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	p := &Pipeline{
		name:        name,
		timeout:     time.Duration(timeoutSeconds) * time.Second,
		maxRetries:  maxRetries,
		breaker:     NewCircuitBreaker(name, breakerFailures, time.Duration(breakerDurationSeconds)*time.Second),
		backoffBase: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Breaker exposes the breaker for health reporting.
func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

// Execute runs call under the resilience composition. The returned error is
// always a *model.Error. A cancelled caller context is surfaced as
// ErrCancelled and never counted as a breaker failure.
func (p *Pipeline) Execute(ctx context.Context, call func(context.Context) error) error {
	if !p.breaker.Allow() {
		return model.NewError(model.ErrCircuitOpen,
			"circuit breaker open for provider "+p.name)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.retryLoop(ctx, cctx, call)
	if err == nil {
		p.breaker.RecordSuccess()
		return nil
	}

	me := model.AsError(err)
	if countsAsBreakerFailure(me) {
		p.breaker.RecordFailure()
	} else {
		// A non-counting outcome (cancellation, client error) still ends
		// any in-flight probe so the next caller may probe again.
		p.breaker.AbortProbe()
	}
	return me
}

func (p *Pipeline) retryLoop(parent, cctx context.Context, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := call(cctx)
		if err == nil {
			if attempt > 0 {
				logger.Logger.Debug("call succeeded after retry",
					zap.String("provider", p.name),
					zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = p.normalize(parent, cctx, err)
		me := model.AsError(lastErr)

		// A whole-call timeout or caller cancellation ends the loop; the
		// retry policy never re-enters after either.
		if me.Code == model.ErrTimeout || me.Code == model.ErrCancelled {
			return lastErr
		}
		if attempt >= p.maxRetries || !Retryable(me) {
			return lastErr
		}

		delay := p.backoffBase<<attempt + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		logger.Logger.Debug("retrying provider call",
			zap.String("provider", p.name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(me.RawError))

		timer := time.NewTimer(delay)
		select {
		case <-cctx.Done():
			timer.Stop()
			return p.normalize(parent, cctx, cctx.Err())
		case <-timer.C:
		}
	}
}

// normalize folds context-level outcomes into the taxonomy: a cancelled
// caller context becomes ErrCancelled, an expired whole-call deadline
// becomes ErrTimeout.
func (p *Pipeline) normalize(parent, cctx context.Context, err error) error {
	if parent.Err() != nil {
		return model.WrapError(model.ErrCancelled, parent.Err(), "request cancelled")
	}
	if cctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.ErrTimeout, err,
			"provider "+p.name+" timed out after "+p.timeout.String())
	}
	return err
}

// Retryable reports whether an error should be retried against the same
// provider: transport failures, timeouts, 5xx, 429 and 408.
func Retryable(me *model.Error) bool {
	switch me.Code {
	case model.ErrTimeout:
		return true
	case model.ErrCancelled, model.ErrCircuitOpen, model.ErrQuotaExceeded,
		model.ErrRateLimitExceeded, model.ErrInvalidRequest, model.ErrInvalidResponse:
		return false
	}
	if status, ok := me.Code.HTTPStatus(); ok {
		return status >= 500 || status == 429 || status == 408
	}
	return isTransportError(me.RawError)
}

// countsAsBreakerFailure reports whether the failure should advance the
// breaker: transport errors, timeouts and 5xx. Cancellation, quota and
// rate-limit denials do not.
func countsAsBreakerFailure(me *model.Error) bool {
	switch me.Code {
	case model.ErrTimeout:
		return true
	case model.ErrCancelled, model.ErrCircuitOpen, model.ErrQuotaExceeded,
		model.ErrRateLimitExceeded, model.ErrInvalidRequest:
		return false
	}
	if status, ok := me.Code.HTTPStatus(); ok {
		return status >= 500
	}
	return isTransportError(me.RawError)
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
