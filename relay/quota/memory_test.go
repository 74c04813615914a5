package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		PerProvider: map[string]Limits{
			"OpenAI": {
				DailyRequests: 3,
				DailyTokens:   1000,
				DailyCost:     1.0,
			},
		},
		PerUser: Limits{DailyRequests: 2},
	}
}

func TestMemoryManagerRequestLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())

	for i := 0; i < 3; i++ {
		res, err := m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
		require.NoError(t, err)
		require.True(t, res.CanProceed, "request %d should pass", i)
		require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 10, 0.01, true))
	}

	res, err := m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
	require.NoError(t, err)
	assert.False(t, res.CanProceed)
	assert.Greater(t, res.TimeUntilReset, time.Duration(0))
	assert.LessOrEqual(t, res.TimeUntilReset, 24*time.Hour)
}

func TestMemoryManagerTokenBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())

	require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 900, 0.01, true))

	// 900 consumed; estimating 200 more would cross the 1000-token budget.
	res, err := m.CheckQuota(ctx, "OpenAI", "", 200, 0.01)
	require.NoError(t, err)
	assert.False(t, res.CanProceed)

	res, err = m.CheckQuota(ctx, "OpenAI", "", 50, 0.01)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.Equal(t, int64(100), res.RemainingTokens)
}

func TestMemoryManagerFailedAttemptsCountRequestsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())

	require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 500, 0.5, false))

	statuses, err := m.Status(ctx, "OpenAI")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.Equal(t, int64(1), statuses[0].Consumed)

	// The failed attempt consumed a request slot but no tokens.
	res, err := m.CheckQuota(ctx, "OpenAI", "", 999, 0.01)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}

func TestMemoryManagerPerUserScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())

	require.NoError(t, m.RecordUsage(ctx, "OpenAI", "alice", 10, 0, true))
	require.NoError(t, m.RecordUsage(ctx, "Groq", "alice", 10, 0, true))

	// Alice hit her 2-request daily budget across providers.
	res, err := m.CheckQuota(ctx, "Groq", "alice", 10, 0)
	require.NoError(t, err)
	assert.False(t, res.CanProceed)

	// Bob is unaffected; Groq itself carries no provider limits.
	res, err = m.CheckQuota(ctx, "Groq", "bob", 10, 0)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}

func TestMemoryManagerWindowRollover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 10, 0.01, true))
	}
	res, err := m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
	require.NoError(t, err)
	require.False(t, res.CanProceed)

	// Crossing midnight UTC resets the daily window.
	now = now.Add(2 * time.Hour)
	res, err = m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}

func TestMemoryManagerUnconfiguredProviderUnlimited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryManager(testConfig())

	for i := 0; i < 50; i++ {
		require.NoError(t, m.RecordUsage(ctx, "Ollama", "", 10, 0, true))
	}
	res, err := m.CheckQuota(ctx, "Ollama", "", 10, 0)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.PerProvider)

	cfg, err = ParseConfig([]byte(`{
		"perProvider": {"OpenAI": {"dailyRequests": 100, "monthlyCost": 50.0}},
		"perUser": {"dailyRequests": 10}
	}`))
	require.NoError(t, err)
	assert.Equal(t, int64(100), cfg.PerProvider["OpenAI"].DailyRequests)
	assert.Equal(t, 50.0, cfg.PerProvider["OpenAI"].MonthlyCost)
	assert.Equal(t, int64(10), cfg.PerUser.DailyRequests)

	_, err = ParseConfig([]byte("{not json"))
	require.Error(t, err)
}
