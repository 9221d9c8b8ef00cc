package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Skip reasons reported to the bookkeeper
const (
	SkipInFlight   = "in_flight"
	SkipHeld       = "already_held"
	SkipBuyFailed  = "buy_failed"
	SkipPersist    = "persist_failed"
	SkipRejected   = "advisory_rejected"
	SkipMaxOpen    = "max_open_positions"
	SkipLedgerRead = "ledger_read_failed"
)

// Acquirer buys admitted candidates and records them
// ⭐ SSOT: 매수 + 레코드 생성은 여기서만
type Acquirer struct {
	broker       Broker
	ledger       Ledger
	target       TargetMachine
	inflight     *InFlight
	bookkeeper   Bookkeeper
	notional     decimal.Decimal
	orderTimeout time.Duration
	logger       *logger.Logger
	now          func() time.Time
}

// NewAcquirer creates an acquirer
func NewAcquirer(broker Broker, l Ledger, target TargetMachine, inflight *InFlight, notional decimal.Decimal, orderTimeout time.Duration, log *logger.Logger) *Acquirer {
	if orderTimeout <= 0 {
		orderTimeout = 10 * time.Second
	}
	return &Acquirer{
		broker:       broker,
		ledger:       l,
		target:       target,
		inflight:     inflight,
		bookkeeper:   nopBookkeeper{},
		notional:     notional,
		orderTimeout: orderTimeout,
		logger:       log,
		now:          time.Now,
	}
}

// SetBookkeeper 추가/스킵 카운터 설정
func (a *Acquirer) SetBookkeeper(b Bookkeeper) {
	a.bookkeeper = b
}

// Notional returns the fixed per-acquisition budget
func (a *Acquirer) Notional() decimal.Decimal { return a.notional }

// Acquire buys the candidate once. Failures are not retried.
func (a *Acquirer) Acquire(ctx context.Context, c contracts.Candidate) (*contracts.InvestmentRecord, error) {
	symbol := ledger.NormalizeSymbol(c.Symbol)

	if !a.inflight.TryAcquire(symbol) {
		a.bookkeeper.RecordSkipped(symbol, SkipInFlight)
		return nil, fmt.Errorf("acquire %s: %w", symbol, contracts.ErrInFlight)
	}
	defer a.inflight.Release(symbol)

	held, err := a.ledger.Has(ctx, symbol)
	if err != nil {
		a.bookkeeper.RecordSkipped(symbol, SkipLedgerRead)
		return nil, err
	}
	if held {
		a.bookkeeper.RecordSkipped(symbol, SkipHeld)
		return nil, fmt.Errorf("acquire %s: %w", symbol, contracts.ErrAlreadyHeld)
	}

	orderCtx, cancel := context.WithTimeout(ctx, a.orderTimeout)
	res, err := a.broker.Buy(orderCtx, symbol, a.notional)
	cancel()
	if err != nil {
		execErr := &contracts.ExecutionError{Symbol: symbol, Side: "buy", Err: err}
		a.logger.WithError(execErr).WithField("symbol", symbol).Warn("Acquisition failed, not retrying")
		a.bookkeeper.RecordSkipped(symbol, SkipBuyFailed)
		return nil, execErr
	}

	basis := res.QuoteSpent
	if !basis.IsPositive() {
		basis = a.notional
	}
	rec := contracts.InvestmentRecord{
		Symbol:          symbol,
		BasisUSD:        basis,
		Quantity:        res.ExecutedQty,
		AvgPrice:        res.AvgPrice,
		TargetProfitPct: a.target.Current(),
		OrderID:         res.OrderID,
		AcquiredAt:      a.now(),
	}

	if err := a.ledger.Put(ctx, rec); err != nil {
		// 체결은 됐지만 기록 실패: 운영자 확인 필요
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"symbol":   symbol,
			"order_id": res.OrderID,
			"qty":      res.ExecutedQty.String(),
		}).Error("Bought but failed to record investment")
		a.bookkeeper.RecordSkipped(symbol, SkipPersist)
		return nil, err
	}

	a.bookkeeper.RecordAdded(symbol)
	a.logger.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"basis_usd":  rec.BasisUSD.String(),
		"qty":        rec.Quantity.String(),
		"target_pct": rec.TargetProfitPct,
		"score":      c.CompositeScore,
	}).Info("Acquired")
	return &rec, nil
}

// Boost tops up an open position with usd and adds it to the basis
func (a *Acquirer) Boost(ctx context.Context, symbol string, usd decimal.Decimal) (*contracts.InvestmentRecord, error) {
	if !usd.IsPositive() {
		return nil, contracts.ErrInvalidAmount
	}
	symbol = ledger.NormalizeSymbol(symbol)

	if !a.inflight.TryAcquire(symbol) {
		return nil, fmt.Errorf("boost %s: %w", symbol, contracts.ErrInFlight)
	}
	defer a.inflight.Release(symbol)

	if _, err := a.ledger.Get(ctx, symbol); err != nil {
		return nil, err
	}

	orderCtx, cancel := context.WithTimeout(ctx, a.orderTimeout)
	res, err := a.broker.Buy(orderCtx, symbol, usd)
	cancel()
	if err != nil {
		return nil, &contracts.ExecutionError{Symbol: symbol, Side: "buy", Err: err}
	}

	spent := res.QuoteSpent
	if !spent.IsPositive() {
		spent = usd
	}
	rec, err := a.ledger.Boost(ctx, symbol, spent, res.ExecutedQty)
	if errors.Is(err, contracts.ErrNotFound) {
		a.logger.WithField("symbol", symbol).Error("Boost filled but record vanished")
	}
	return rec, err
}
