// Package quota enforces request/token/cost budgets over rolling daily and
// monthly windows, scoped per provider and per user. Variants: SQL-backed,
// in-memory, and a null manager that always admits.
package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
)

// Limits is one scope's budget. Zero means unlimited.
type Limits struct {
	DailyRequests   int64   `json:"dailyRequests"`
	MonthlyRequests int64   `json:"monthlyRequests"`
	DailyTokens     int64   `json:"dailyTokens"`
	MonthlyTokens   int64   `json:"monthlyTokens"`
	DailyCost       float64 `json:"dailyCost"`
	MonthlyCost     float64 `json:"monthlyCost"`
}

// Config maps providers (and the shared per-user budget) to limits.
type Config struct {
	PerProvider map[string]Limits `json:"perProvider"`
	PerUser     Limits            `json:"perUser"`
}

// ParseConfig decodes the QUOTA_LIMITS JSON document.
func ParseConfig(data []byte) (*Config, error) {
	if len(data) == 0 {
		return &Config{}, nil
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode quota limits")
	}
	return &cfg, nil
}

// CheckResult is the outcome of a quota probe.
type CheckResult struct {
	CanProceed        bool          `json:"canProceed"`
	RemainingRequests int64         `json:"remainingRequests"`
	RemainingTokens   int64         `json:"remainingTokens"`
	TimeUntilReset    time.Duration `json:"timeUntilReset"`
}

// Status reports one (scope, window) counter for health output.
type Status struct {
	Scope    string    `json:"scope"`
	Window   string    `json:"window"`
	Limit    int64     `json:"limit"`
	Consumed int64     `json:"consumed"`
	Expires  time.Time `json:"expires"`
}

// Manager is the quota contract the orchestration core depends on.
// RecordUsage is called exactly once per request attempt; failed attempts
// still count against request limits but not token/cost budgets.
type Manager interface {
	CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*CheckResult, error)
	RecordUsage(ctx context.Context, provider, userId string, tokensUsed int64, costUsed float64, success bool) error
	Status(ctx context.Context, provider string) ([]Status, error)
}

// NullManager admits everything and records nothing. It is the contract the
// core relies on when quota enforcement is disabled.
type NullManager struct{}

// CheckQuota implements Manager; it always admits.
func (NullManager) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*CheckResult, error) {
	return &CheckResult{CanProceed: true, RemainingRequests: -1, RemainingTokens: -1}, nil
}

// RecordUsage implements Manager; it records nothing.
func (NullManager) RecordUsage(ctx context.Context, provider, userId string, tokensUsed int64, costUsed float64, success bool) error {
	return nil
}

// Status implements Manager.
func (NullManager) Status(ctx context.Context, provider string) ([]Status, error) {
	return nil, nil
}

// windows enumerates the rolling windows every scope is tracked under.
var windows = []string{"daily", "monthly"}

// usageCounters is the scope-window counter triple shared by the variants.
type usageCounters struct {
	requests int64
	tokens   int64
	cost     float64
}

// exceeded reports whether admitting (estTokens, estCost) would cross any
// configured limit of the window, along with the binding remainders.
func exceeded(window string, limits Limits, got usageCounters, estTokens int64, estCost float64) (bool, int64, int64) {
	reqLimit, tokLimit, costLimit := limits.DailyRequests, limits.DailyTokens, limits.DailyCost
	if window == "monthly" {
		reqLimit, tokLimit, costLimit = limits.MonthlyRequests, limits.MonthlyTokens, limits.MonthlyCost
	}

	remainingReq, remainingTok := int64(-1), int64(-1)
	blocked := false
	if reqLimit > 0 {
		remainingReq = reqLimit - got.requests
		if remainingReq < 1 {
			blocked = true
		}
	}
	if tokLimit > 0 {
		remainingTok = tokLimit - got.tokens
		if got.tokens+estTokens > tokLimit {
			blocked = true
		}
	}
	if costLimit > 0 && got.cost+estCost > costLimit {
		blocked = true
	}
	return blocked, remainingReq, remainingTok
}
