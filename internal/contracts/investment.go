package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// InvestmentRecord is an open position
// ⭐ SSOT: 심볼당 활성 레코드는 최대 1개
type InvestmentRecord struct {
	Symbol          string          `json:"symbol"`
	BasisUSD        decimal.Decimal `json:"basis_usd"`
	Quantity        decimal.Decimal `json:"quantity"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	TargetProfitPct int             `json:"target_profit_pct"` // 매수 시점 값 고정
	BoostUSD        decimal.Decimal `json:"boost_usd"`
	OrderID         string          `json:"order_id,omitempty"`
	AcquiredAt      time.Time       `json:"acquired_at"`
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
}

// Validate checks the fields every stored record must carry
func (r *InvestmentRecord) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("investment record: symbol is required")
	}
	if !r.BasisUSD.IsPositive() {
		return fmt.Errorf("investment record %s: basis must be positive", r.Symbol)
	}
	if r.TargetProfitPct <= 0 {
		return fmt.Errorf("investment record %s: target must be positive", r.Symbol)
	}
	return nil
}

// CurrentValue returns quantity * price
func (r *InvestmentRecord) CurrentValue(price decimal.Decimal) decimal.Decimal {
	return r.Quantity.Mul(price)
}

// ReturnPct returns (value - basis) / basis * 100
func (r *InvestmentRecord) ReturnPct(price decimal.Decimal) decimal.Decimal {
	if r.BasisUSD.IsZero() {
		return decimal.Zero
	}
	return r.CurrentValue(price).Sub(r.BasisUSD).Div(r.BasisUSD).Mul(hundred)
}

// ReachedTarget reports whether the live return meets the record's own target
func (r *InvestmentRecord) ReachedTarget(price decimal.Decimal) bool {
	return r.ReturnPct(price).GreaterThanOrEqual(decimal.NewFromInt(int64(r.TargetProfitPct)))
}

// SoldTombstone blocks resurrection of a disposed symbol from stale tiers
type SoldTombstone struct {
	Symbol         string          `json:"symbol"`
	SoldAt         time.Time       `json:"sold_at"`
	RealizedPnLUSD decimal.Decimal `json:"realized_pnl_usd"`
	ProceedsUSD    decimal.Decimal `json:"proceeds_usd"`
	BasisUSD       decimal.Decimal `json:"basis_usd"`
}
