package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
)

// Ledger is what the executors need from the investment ledger
type Ledger interface {
	Put(ctx context.Context, rec contracts.InvestmentRecord) error
	Get(ctx context.Context, symbol string) (*contracts.InvestmentRecord, error)
	Has(ctx context.Context, symbol string) (bool, error)
	List(ctx context.Context) ([]contracts.InvestmentRecord, error)
	Boost(ctx context.Context, symbol string, usd, qty decimal.Decimal) (*contracts.InvestmentRecord, error)
	Dispose(ctx context.Context, tomb contracts.SoldTombstone) error
}

// TargetMachine supplies the default target and advances it after a sale
type TargetMachine interface {
	Current() int
	Advance(ctx context.Context, realizedPnL decimal.Decimal) (contracts.CycleState, bool, error)
}

// Bookkeeper receives added/skipped counts (the scheduler)
type Bookkeeper interface {
	RecordAdded(symbol string)
	RecordSkipped(symbol, reason string)
}

// Publisher receives cycle-complete events
type Publisher interface {
	Publish(ev contracts.CycleCompleteEvent)
}

type nopBookkeeper struct{}

func (nopBookkeeper) RecordAdded(string)           {}
func (nopBookkeeper) RecordSkipped(string, string) {}
