package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetricDaily aggregates completion outcomes per (provider, date).
type MetricDaily struct {
	Id       int    `gorm:"primaryKey"`
	Provider string `gorm:"size:64;uniqueIndex:idx_metric_day,priority:1"`
	Date     string `gorm:"size:10;uniqueIndex:idx_metric_day,priority:2"` // YYYY-MM-DD

	Requests  int64
	Successes int64
	Failures  int64
	Fallbacks int64
	CacheHits int64

	TokensUsed    int64
	CostUsed      float64
	TotalDuration int64 // milliseconds, for mean latency

	UpdatedAt time.Time
}

// AddMetricSample folds one completion outcome into the day's aggregate.
func AddMetricSample(ctx context.Context, provider string, success, cacheHit bool, fallbacks int, tokens int64, cost float64, duration time.Duration) error {
	now := time.Now().UTC()
	row := &MetricDaily{
		Provider:      provider,
		Date:          now.Format("2006-01-02"),
		Requests:      1,
		TokensUsed:    tokens,
		CostUsed:      cost,
		Fallbacks:     int64(fallbacks),
		TotalDuration: duration.Milliseconds(),
	}
	if success {
		row.Successes = 1
	} else {
		row.Failures = 1
	}
	if cacheHit {
		row.CacheHits = 1
	}

	err := DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"requests":       gorm.Expr("requests + ?", 1),
			"successes":      gorm.Expr("successes + ?", row.Successes),
			"failures":       gorm.Expr("failures + ?", row.Failures),
			"fallbacks":      gorm.Expr("fallbacks + ?", row.Fallbacks),
			"cache_hits":     gorm.Expr("cache_hits + ?", row.CacheHits),
			"tokens_used":    gorm.Expr("tokens_used + ?", tokens),
			"cost_used":      gorm.Expr("cost_used + ?", cost),
			"total_duration": gorm.Expr("total_duration + ?", row.TotalDuration),
			"updated_at":     now,
		}),
	}).Create(row).Error
	return errors.Wrap(err, "add metric sample")
}
