package metrics

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/model"
)

// SqlRecorder folds completion outcomes into per-day aggregates. Writes run
// on a background goroutine so the request path never waits on the database.
type SqlRecorder struct{}

// NewSqlRecorder builds the SQL recorder. model.InitDB must have run.
func NewSqlRecorder() *SqlRecorder {
	return &SqlRecorder{}
}

// RecordCompletion implements Recorder.
func (s *SqlRecorder) RecordCompletion(provider, modelName, kind string, success, cacheHit bool, fallbacks, tokensUsed int, cost float64, duration time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := model.AddMetricSample(ctx, provider, success, cacheHit, fallbacks, int64(tokensUsed), cost, duration); err != nil {
			logger.Logger.Error("metric write failed",
				zap.String("provider", provider),
				zap.Error(err))
		}
	}()
}

// RecordRateLimitHit implements Recorder; per-day aggregates do not track it.
func (s *SqlRecorder) RecordRateLimitHit(provider string) {}

// RecordQuotaDenial implements Recorder; per-day aggregates do not track it.
func (s *SqlRecorder) RecordQuotaDenial(provider string) {}

// RecordBreakerTransition implements Recorder; per-day aggregates do not track it.
func (s *SqlRecorder) RecordBreakerTransition(provider, from, to string) {}

// RecordError implements Recorder; errors land in the failure counters.
func (s *SqlRecorder) RecordError(provider, errorCode string) {}
