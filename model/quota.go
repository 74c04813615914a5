package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Quota window identifiers.
const (
	WindowDaily   = "daily"
	WindowMonthly = "monthly"
)

// Quota scope identifiers.
const (
	ScopeProvider = "provider"
	ScopeUser     = "user"
)

// QuotaUsage is one rolling-window counter row, keyed by
// (scope, scope_id, window, period_start).
type QuotaUsage struct {
	Id          int       `gorm:"primaryKey"`
	Scope       string    `gorm:"size:16;uniqueIndex:idx_quota_window,priority:1"`
	ScopeId     string    `gorm:"size:128;uniqueIndex:idx_quota_window,priority:2"`
	Window      string    `gorm:"size:16;uniqueIndex:idx_quota_window,priority:3"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_quota_window,priority:4"`

	RequestCount int64
	TokenCount   int64
	CostUsed     float64

	UpdatedAt time.Time
}

// PeriodStartFor truncates now to the window boundary in UTC.
func PeriodStartFor(window string, now time.Time) time.Time {
	now = now.UTC()
	if window == WindowMonthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodEndFor returns the instant the window rolls over.
func PeriodEndFor(window string, now time.Time) time.Time {
	start := PeriodStartFor(window, now)
	if window == WindowMonthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// GetQuotaUsage loads the current-window counters, returning a zero row when
// none have been recorded yet.
func GetQuotaUsage(ctx context.Context, scope, scopeId, window string, now time.Time) (*QuotaUsage, error) {
	usage := &QuotaUsage{
		Scope:       scope,
		ScopeId:     scopeId,
		Window:      window,
		PeriodStart: PeriodStartFor(window, now),
	}
	err := DB.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND window = ? AND period_start = ?",
			scope, scopeId, window, usage.PeriodStart).
		First(usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return usage, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get quota usage")
	}
	return usage, nil
}

// AddQuotaUsage atomically increments the current-window counters. Failed
// attempts still advance the request count, so tokens/cost may be zero.
func AddQuotaUsage(ctx context.Context, scope, scopeId, window string, now time.Time, tokens int64, cost float64) error {
	row := &QuotaUsage{
		Scope:        scope,
		ScopeId:      scopeId,
		Window:       window,
		PeriodStart:  PeriodStartFor(window, now),
		RequestCount: 1,
		TokenCount:   tokens,
		CostUsed:     cost,
	}
	err := DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "scope"}, {Name: "scope_id"}, {Name: "window"}, {Name: "period_start"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count": gorm.Expr("request_count + ?", 1),
			"token_count":   gorm.Expr("token_count + ?", tokens),
			"cost_used":     gorm.Expr("cost_used + ?", cost),
			"updated_at":    now,
		}),
	}).Create(row).Error
	return errors.Wrap(err, "add quota usage")
}
