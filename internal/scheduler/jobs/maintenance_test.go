package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/pkg/logger"
)

type fakeCleaner struct{ removed int }

func (f *fakeCleaner) CleanStale() int { return f.removed }

func TestCacheCleanupJob(t *testing.T) {
	job := NewCacheCleanupJob(&fakeCleaner{removed: 3}, logger.NewNop())
	assert.Equal(t, "price_cache_cleanup", job.Name())
	assert.Equal(t, "0 */5 * * * *", job.Schedule())
	assert.NoError(t, job.Run(context.Background()))
}

func TestLedgerSyncJob_RestoresPrimary(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemoryKV()
	backup := store.NewMemoryKV()
	l := ledger.New(primary, backup, logger.NewNop())

	require.NoError(t, l.Put(ctx, contracts.InvestmentRecord{
		Symbol:          "ABCUSDT",
		BasisUSD:        decimal.NewFromInt(10),
		Quantity:        decimal.NewFromInt(20),
		TargetProfitPct: 5,
		AcquiredAt:      time.Now(),
	}))
	primary.Reset()

	job := NewLedgerSyncJob(l, logger.NewNop())
	assert.Equal(t, "ledger_sync", job.Name())
	require.NoError(t, job.Run(ctx))

	keys, err := primary.Keys(ctx, store.NamespaceInvestments)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABCUSDT"}, keys)
}
