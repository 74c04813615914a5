package quota

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/modelmux/modelmux/model"
)

// SqlManager persists quota windows through the model package so multiple
// instances share one budget.
type SqlManager struct {
	cfg *Config
}

// NewSqlManager builds the SQL-backed quota manager. model.InitDB must have
// run first.
func NewSqlManager(cfg *Config) *SqlManager {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SqlManager{cfg: cfg}
}

// CheckQuota implements Manager.
func (s *SqlManager) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*CheckResult, error) {
	now := time.Now()
	result := &CheckResult{CanProceed: true, RemainingRequests: -1, RemainingTokens: -1}

	check := func(scope, scopeId string, limits Limits) error {
		for _, window := range windows {
			usage, err := model.GetQuotaUsage(ctx, scope, scopeId, window, now)
			if err != nil {
				return errors.Wrapf(err, "check %s/%s quota", scope, window)
			}
			got := usageCounters{
				requests: usage.RequestCount,
				tokens:   usage.TokenCount,
				cost:     usage.CostUsed,
			}
			blocked, remReq, remTok := exceeded(window, limits, got, estTokens, estCost)
			mergeResult(result, blocked, remReq, remTok, model.PeriodEndFor(window, now).Sub(now))
		}
		return nil
	}

	if limits, ok := s.cfg.PerProvider[provider]; ok {
		if err := check(model.ScopeProvider, provider, limits); err != nil {
			return nil, err
		}
	}
	if userId != "" {
		if err := check(model.ScopeUser, userId, s.cfg.PerUser); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RecordUsage implements Manager. Counter updates are atomic upserts.
func (s *SqlManager) RecordUsage(ctx context.Context, provider, userId string, tokensUsed int64, costUsed float64, success bool) error {
	if !success {
		tokensUsed, costUsed = 0, 0
	}

	now := time.Now()
	for _, window := range windows {
		if err := model.AddQuotaUsage(ctx, model.ScopeProvider, provider, window, now, tokensUsed, costUsed); err != nil {
			return errors.Wrap(err, "record provider usage")
		}
		if userId != "" {
			if err := model.AddQuotaUsage(ctx, model.ScopeUser, userId, window, now, tokensUsed, costUsed); err != nil {
				return errors.Wrap(err, "record user usage")
			}
		}
	}
	return nil
}

// Status implements Manager.
func (s *SqlManager) Status(ctx context.Context, provider string) ([]Status, error) {
	limits := s.cfg.PerProvider[provider]
	now := time.Now()

	var out []Status
	for _, window := range windows {
		usage, err := model.GetQuotaUsage(ctx, model.ScopeProvider, provider, window, now)
		if err != nil {
			return nil, errors.Wrap(err, "quota status")
		}
		limit := limits.DailyRequests
		if window == "monthly" {
			limit = limits.MonthlyRequests
		}
		out = append(out, Status{
			Scope:    model.ScopeProvider,
			Window:   window,
			Limit:    limit,
			Consumed: usage.RequestCount,
			Expires:  model.PeriodEndFor(window, now),
		})
	}
	return out, nil
}
