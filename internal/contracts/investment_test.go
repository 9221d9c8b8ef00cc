package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvestmentRecord_ReturnPct(t *testing.T) {
	rec := InvestmentRecord{
		Symbol:          "ABCUSDT",
		BasisUSD:        decimal.RequireFromString("5.00"),
		Quantity:        decimal.RequireFromString("10"),
		TargetProfitPct: 5,
	}

	tests := []struct {
		name       string
		price      string
		wantPct    string
		wantTarget bool
	}{
		{"8% up", "0.54", "8", true},
		{"exactly target", "0.525", "5", true},
		{"below target", "0.52", "4", false},
		{"loss", "0.45", "-10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := decimal.RequireFromString(tt.price)
			assert.True(t, rec.ReturnPct(price).Equal(decimal.RequireFromString(tt.wantPct)), "got %s", rec.ReturnPct(price))
			assert.Equal(t, tt.wantTarget, rec.ReachedTarget(price))
		})
	}
}

func TestInvestmentRecord_ZeroBasis(t *testing.T) {
	rec := InvestmentRecord{Symbol: "X", Quantity: decimal.NewFromInt(1)}
	assert.True(t, rec.ReturnPct(decimal.NewFromInt(1)).IsZero())
	assert.Error(t, rec.Validate())
}

func TestInvestmentRecord_Validate(t *testing.T) {
	rec := InvestmentRecord{Symbol: "ABCUSDT", BasisUSD: decimal.NewFromInt(10), TargetProfitPct: 5}
	require.NoError(t, rec.Validate())

	rec.TargetProfitPct = 0
	assert.Error(t, rec.Validate())

	rec.TargetProfitPct = 5
	rec.Symbol = " "
	assert.Error(t, rec.Validate())
}

func TestInvestmentRecord_JSONDecimalAsString(t *testing.T) {
	rec := InvestmentRecord{
		Symbol:          "ABCUSDT",
		BasisUSD:        decimal.RequireFromString("10.10"),
		Quantity:        decimal.RequireFromString("3.5"),
		TargetProfitPct: 7,
		AcquiredAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"basis_usd":"10.1"`)

	var back InvestmentRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.BasisUSD.Equal(rec.BasisUSD))
	assert.Equal(t, 7, back.TargetProfitPct)
}

func TestErrorTypesUnwrap(t *testing.T) {
	base := errors.New("boom")

	var feedErr *FeedError
	assert.True(t, errors.As(&FeedError{Op: "tickers", Err: base}, &feedErr))
	assert.ErrorIs(t, &ExecutionError{Symbol: "X", Side: "sell", Err: base}, base)
	assert.ErrorIs(t, &PersistenceError{Tier: "backup", Err: base}, base)
	assert.ErrorIs(t, &AdvisoryError{SourceID: "a", Err: base}, base)
	assert.Contains(t, (&ExecutionError{Symbol: "X", Side: "sell", Err: base}).Error(), "sell X")
}

func TestNewAdvisoryRequest_JSONShape(t *testing.T) {
	req := NewAdvisoryRequest(Candidate{
		Symbol:         "ABCUSDT",
		LastPrice:      1.25,
		GrowthPct:      4.5,
		RiskTier:       RiskLow,
		LiquidityTier:  LiquidityMedium,
		CompositeScore: 7.2,
	})
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "ABCUSDT", m["symbol"])
	assert.Equal(t, "low", m["riskTier"])
	assert.Equal(t, "medium", m["liquidityTier"])
	assert.Equal(t, 4.5, m["growthPct"])
	_, hasCap := m["marketCap"]
	assert.False(t, hasCap)
}
