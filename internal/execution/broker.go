package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
)

// Broker defines the order execution boundary
// ⭐ SSOT: 거래소 연동 인터페이스는 여기서만 정의
type Broker interface {
	// Buy places a market buy spending notional quote currency
	Buy(ctx context.Context, symbol string, notional decimal.Decimal) (*BuyResult, error)

	// Sell places a market sell of the full free balance
	Sell(ctx context.Context, symbol string) (*SellResult, error)

	// Price returns the latest traded price
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceProvider 현재가 조회 인터페이스
type PriceProvider interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BuyResult represents a filled buy
type BuyResult struct {
	OrderID     string
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	QuoteSpent  decimal.Decimal // 실제 체결 금액 (basis)
	FilledAt    time.Time
}

// SellResult represents a filled sell
type SellResult struct {
	OrderID     string
	ExecutedQty decimal.Decimal
	ProceedsUSD decimal.Decimal
	FilledAt    time.Time
}

// PaperBroker fills every order at the provider price
// ⭐ 실제 운영(live)에서는 binance.Broker 사용
type PaperBroker struct {
	prices  PriceProvider
	feeRate decimal.Decimal

	mu       sync.Mutex
	holdings map[string]decimal.Decimal
}

// NewPaperBroker creates a paper broker; feeRate is charged on both sides (0.001 = 0.1%)
func NewPaperBroker(prices PriceProvider, feeRate decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		prices:   prices,
		feeRate:  feeRate,
		holdings: make(map[string]decimal.Decimal),
	}
}

func (b *PaperBroker) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return b.prices.Price(ctx, symbol)
}

func (b *PaperBroker) Buy(ctx context.Context, symbol string, notional decimal.Decimal) (*BuyResult, error) {
	if !notional.IsPositive() {
		return nil, fmt.Errorf("notional must be positive, got %s", notional)
	}
	price, err := b.prices.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("no price for %s", symbol)
	}

	// 수수료는 수량에서 차감
	qty := notional.Div(price).Mul(decimal.NewFromInt(1).Sub(b.feeRate))

	b.mu.Lock()
	b.holdings[symbol] = b.holdings[symbol].Add(qty)
	b.mu.Unlock()

	return &BuyResult{
		OrderID:     "PAPER-" + uuid.NewString(),
		ExecutedQty: qty,
		AvgPrice:    price,
		QuoteSpent:  notional,
		FilledAt:    time.Now(),
	}, nil
}

func (b *PaperBroker) Sell(ctx context.Context, symbol string) (*SellResult, error) {
	b.mu.Lock()
	qty := b.holdings[symbol]
	b.mu.Unlock()
	if !qty.IsPositive() {
		return nil, fmt.Errorf("no free balance for %s", symbol)
	}

	price, err := b.prices.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	delete(b.holdings, symbol)
	b.mu.Unlock()

	proceeds := qty.Mul(price).Mul(decimal.NewFromInt(1).Sub(b.feeRate))
	return &SellResult{
		OrderID:     "PAPER-" + uuid.NewString(),
		ExecutedQty: qty,
		ProceedsUSD: proceeds,
		FilledAt:    time.Now(),
	}, nil
}

// Seed sets a holding
func (b *PaperBroker) Seed(symbol string, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[symbol] = qty
}

// Restore seeds holdings from open ledger records after a restart.
// Symbols that already hold a balance are left alone. Returns the number seeded.
func (b *PaperBroker) Restore(records []contracts.InvestmentRecord) int {
	seeded := 0
	for _, rec := range records {
		if !rec.Quantity.IsPositive() || b.Holding(rec.Symbol).IsPositive() {
			continue
		}
		b.Seed(rec.Symbol, rec.Quantity)
		seeded++
	}
	return seeded
}

// Holding returns the paper balance for symbol
func (b *PaperBroker) Holding(symbol string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holdings[symbol]
}
