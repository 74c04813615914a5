package quota

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/model"
)

func initTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, model.InitDB(filepath.Join(t.TempDir(), "quota.db")))
}

func TestSqlManagerRequestLimit(t *testing.T) {
	initTestDB(t)

	ctx := context.Background()
	m := NewSqlManager(&Config{
		PerProvider: map[string]Limits{
			"OpenAI": {DailyRequests: 2},
		},
	})

	for i := 0; i < 2; i++ {
		res, err := m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
		require.NoError(t, err)
		require.True(t, res.CanProceed)
		require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 10, 0.01, true))
	}

	res, err := m.CheckQuota(ctx, "OpenAI", "", 10, 0.01)
	require.NoError(t, err)
	assert.False(t, res.CanProceed)

	statuses, err := m.Status(ctx, "OpenAI")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, int64(2), statuses[0].Consumed)
	assert.Equal(t, int64(2), statuses[0].Limit)
}

func TestSqlManagerFailedAttemptZeroesTokens(t *testing.T) {
	initTestDB(t)

	ctx := context.Background()
	m := NewSqlManager(&Config{
		PerProvider: map[string]Limits{
			"OpenAI": {DailyTokens: 100},
		},
	})

	require.NoError(t, m.RecordUsage(ctx, "OpenAI", "", 500, 1.5, false))

	// Tokens from the failed attempt were not charged.
	res, err := m.CheckQuota(ctx, "OpenAI", "", 90, 0)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.Equal(t, int64(100), res.RemainingTokens)
}

func TestSqlManagerPerUserSharedAcrossProviders(t *testing.T) {
	initTestDB(t)

	ctx := context.Background()
	m := NewSqlManager(&Config{
		PerUser: Limits{DailyRequests: 1},
	})

	require.NoError(t, m.RecordUsage(ctx, "OpenAI", "carol", 10, 0, true))

	res, err := m.CheckQuota(ctx, "Anthropic", "carol", 10, 0)
	require.NoError(t, err)
	assert.False(t, res.CanProceed)

	res, err = m.CheckQuota(ctx, "Anthropic", "dave", 10, 0)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}
