package execution

import (
	"context"
	"time"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Disposer sells a position that reached its target
// ⭐ SSOT: 매도 + tombstone + 목표 상향은 여기서만
type Disposer struct {
	broker       Broker
	ledger       Ledger
	target       TargetMachine
	publisher    Publisher
	orderTimeout time.Duration
	logger       *logger.Logger
	now          func() time.Time
}

// NewDisposer creates a disposer; publisher may be nil
func NewDisposer(broker Broker, l Ledger, target TargetMachine, publisher Publisher, orderTimeout time.Duration, log *logger.Logger) *Disposer {
	if orderTimeout <= 0 {
		orderTimeout = 10 * time.Second
	}
	return &Disposer{
		broker:       broker,
		ledger:       l,
		target:       target,
		publisher:    publisher,
		orderTimeout: orderTimeout,
		logger:       log,
		now:          time.Now,
	}
}

// Dispose sells the full balance. On failure the record is left untouched.
// The caller owns the in-flight latch for rec.Symbol.
func (d *Disposer) Dispose(ctx context.Context, rec contracts.InvestmentRecord) (*contracts.CycleCompleteEvent, error) {
	orderCtx, cancel := context.WithTimeout(ctx, d.orderTimeout)
	res, err := d.broker.Sell(orderCtx, rec.Symbol)
	cancel()
	if err != nil {
		execErr := &contracts.ExecutionError{Symbol: rec.Symbol, Side: "sell", Err: err}
		d.logger.WithError(execErr).WithField("symbol", rec.Symbol).Warn("Disposal failed, record kept for next poll")
		return nil, execErr
	}

	pnl := res.ProceedsUSD.Sub(rec.BasisUSD)
	tomb := contracts.SoldTombstone{
		Symbol:         rec.Symbol,
		SoldAt:         d.now(),
		RealizedPnLUSD: pnl,
		ProceedsUSD:    res.ProceedsUSD,
		BasisUSD:       rec.BasisUSD,
	}
	if err := d.ledger.Dispose(ctx, tomb); err != nil {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"symbol":   rec.Symbol,
			"order_id": res.OrderID,
		}).Error("Sold but failed to tombstone investment")
		return nil, err
	}

	state, wrapped, err := d.target.Advance(ctx, pnl)
	if err != nil {
		// 메모리 상태는 이미 전이됨
		d.logger.WithError(err).Warn("Target advanced but not persisted")
	}

	ev := contracts.CycleCompleteEvent{
		Symbol:          rec.Symbol,
		RealizedPnLUSD:  pnl,
		NewTargetPct:    state.CurrentTargetPct,
		CyclesCompleted: state.TotalCyclesCompleted,
		Wrapped:         wrapped,
		At:              tomb.SoldAt,
	}

	d.logger.WithFields(map[string]interface{}{
		"symbol":       rec.Symbol,
		"proceeds_usd": res.ProceedsUSD.String(),
		"basis_usd":    rec.BasisUSD.String(),
		"realized_pnl": pnl.String(),
		"next_target":  state.CurrentTargetPct,
		"wrapped":      wrapped,
	}).Info("Disposed")

	if d.publisher != nil {
		d.publisher.Publish(ev)
	}
	return &ev, nil
}
