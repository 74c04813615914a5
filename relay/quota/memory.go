package quota

import (
	"context"
	"sync"
	"time"

	"github.com/modelmux/modelmux/model"
)

// MemoryManager keeps quota windows in process memory. Counters roll over
// lazily when the window's period changes.
type MemoryManager struct {
	mu  sync.Mutex
	cfg *Config

	// counters keyed by scope|scopeId|window|periodStart.
	counters map[memoryKey]*usageCounters

	now func() time.Time
}

type memoryKey struct {
	scope       string
	scopeId     string
	window      string
	periodStart time.Time
}

// NewMemoryManager builds an in-memory quota manager.
func NewMemoryManager(cfg *Config) *MemoryManager {
	if cfg == nil {
		cfg = &Config{}
	}
	return &MemoryManager{
		cfg:      cfg,
		counters: make(map[memoryKey]*usageCounters),
		now:      time.Now,
	}
}

func (m *MemoryManager) get(scope, scopeId, window string, now time.Time) *usageCounters {
	key := memoryKey{scope, scopeId, window, model.PeriodStartFor(window, now)}
	c, ok := m.counters[key]
	if !ok {
		c = &usageCounters{}
		m.counters[key] = c
	}
	return c
}

// CheckQuota implements Manager.
func (m *MemoryManager) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := &CheckResult{CanProceed: true, RemainingRequests: -1, RemainingTokens: -1}

	check := func(scope, scopeId string, limits Limits) {
		for _, window := range windows {
			got := m.get(scope, scopeId, window, now)
			blocked, remReq, remTok := exceeded(window, limits, *got, estTokens, estCost)
			mergeResult(result, blocked, remReq, remTok, model.PeriodEndFor(window, now).Sub(now))
		}
	}

	if limits, ok := m.cfg.PerProvider[provider]; ok {
		check(model.ScopeProvider, provider, limits)
	}
	if userId != "" {
		check(model.ScopeUser, userId, m.cfg.PerUser)
	}
	return result, nil
}

// RecordUsage implements Manager.
func (m *MemoryManager) RecordUsage(ctx context.Context, provider, userId string, tokensUsed int64, costUsed float64, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !success {
		tokensUsed, costUsed = 0, 0
	}

	now := m.now()
	for _, window := range windows {
		c := m.get(model.ScopeProvider, provider, window, now)
		c.requests++
		c.tokens += tokensUsed
		c.cost += costUsed

		if userId != "" {
			c := m.get(model.ScopeUser, userId, window, now)
			c.requests++
			c.tokens += tokensUsed
			c.cost += costUsed
		}
	}
	return nil
}

// Status implements Manager.
func (m *MemoryManager) Status(ctx context.Context, provider string) ([]Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limits := m.cfg.PerProvider[provider]
	now := m.now()

	var out []Status
	for _, window := range windows {
		got := m.get(model.ScopeProvider, provider, window, now)
		limit := limits.DailyRequests
		if window == "monthly" {
			limit = limits.MonthlyRequests
		}
		out = append(out, Status{
			Scope:    model.ScopeProvider,
			Window:   window,
			Limit:    limit,
			Consumed: got.requests,
			Expires:  model.PeriodEndFor(window, now),
		})
	}
	return out, nil
}

// mergeResult folds one window's verdict into the aggregate check result,
// keeping the tightest remainders and the soonest binding reset.
func mergeResult(result *CheckResult, blocked bool, remReq, remTok int64, untilReset time.Duration) {
	if blocked {
		result.CanProceed = false
		if result.TimeUntilReset == 0 || untilReset < result.TimeUntilReset {
			result.TimeUntilReset = untilReset
		}
	}
	if remReq >= 0 && (result.RemainingRequests < 0 || remReq < result.RemainingRequests) {
		result.RemainingRequests = remReq
	}
	if remTok >= 0 && (result.RemainingTokens < 0 || remTok < result.RemainingTokens) {
		result.RemainingTokens = remTok
	}
}
