package commands

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/contracts"
)

// offlineEnv configures a paper engine over a Badger backup in dir, with no network sources
func offlineEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("ENV", "development")
	t.Setenv("TRADING_MODE", "paper")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("BACKUP_DRIVER", "badger")
	t.Setenv("BADGER_PATH", dir)
	t.Setenv("PRICE_STREAM_ENABLED", "false")
	t.Setenv("ADVISORY_PRIMARY_URL", "")
	t.Setenv("ADVISORY_SECONDARY_URL", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SCANNER_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
}

func TestApp_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	offlineEnv(t, t.TempDir())

	cfg, err := loadConfig()
	require.NoError(t, err)

	a, err := buildApp(ctx, cfg)
	require.NoError(t, err)

	_, _, err = a.target.Advance(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, _, err = a.target.Advance(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, 7, a.target.Current())

	require.NoError(t, a.ledger.Put(ctx, contracts.InvestmentRecord{
		Symbol:          "XUSDT",
		BasisUSD:        decimal.NewFromInt(5),
		Quantity:        decimal.NewFromInt(10),
		TargetProfitPct: 3,
	}))
	a.Close()

	// 재시작: 메모리 primary 는 비어 있고 Badger 만 남음
	restarted, err := buildApp(ctx, cfg)
	require.NoError(t, err)
	defer restarted.Close()

	assert.Equal(t, 7, restarted.target.Current())
	assert.Equal(t, 2, restarted.target.State().TotalDispositions)

	require.NotNil(t, restarted.paper)
	require.NoError(t, restarted.restorePaperHoldings(ctx))
	assert.True(t, restarted.paper.Holding("XUSDT").Equal(decimal.NewFromInt(10)))
}
