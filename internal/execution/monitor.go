package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// CheckResult is one position's evaluation in a tick
type CheckResult struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ReturnPct  decimal.Decimal `json:"return_pct"`
	TargetPct  int             `json:"target_pct"`
	Dispatched bool            `json:"dispatched"`
	Skipped    string          `json:"skipped,omitempty"` // in_flight, price_unavailable, stale
}

// ProfitMonitor polls open records and dispatches disposals
// ⭐ SSOT: 목표 수익률 도달 판단은 여기서만
type ProfitMonitor struct {
	ledger   Ledger
	prices   PriceProvider
	disposer *Disposer
	inflight *InFlight
	interval time.Duration
	logger   *logger.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	loopDone  chan struct{}
	lastCheck time.Time

	disposals sync.WaitGroup
}

// NewProfitMonitor creates a monitor; interval defaults to 30s
func NewProfitMonitor(l Ledger, prices PriceProvider, disposer *Disposer, inflight *InFlight, interval time.Duration, log *logger.Logger) *ProfitMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProfitMonitor{
		ledger:   l,
		prices:   prices,
		disposer: disposer,
		inflight: inflight,
		interval: interval,
		logger:   log,
	}
}

// CheckAll evaluates every open record once.
// Disposals run in the background; the latch makes each crossing dispatch once.
func (m *ProfitMonitor) CheckAll(ctx context.Context) ([]CheckResult, error) {
	records, err := m.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}

	results := make([]CheckResult, 0, len(records))
	for _, rec := range records {
		res := CheckResult{Symbol: rec.Symbol, TargetPct: rec.TargetProfitPct}

		if m.inflight.Has(rec.Symbol) {
			res.Skipped = "in_flight"
			results = append(results, res)
			continue
		}

		price, err := m.prices.Price(ctx, rec.Symbol)
		if err != nil || !price.IsPositive() {
			m.logger.WithFields(map[string]interface{}{
				"symbol": rec.Symbol,
				"error":  fmt.Sprint(err),
			}).Warn("Price unavailable, skipping position")
			res.Skipped = "price_unavailable"
			results = append(results, res)
			continue
		}

		res.Price = price
		res.ReturnPct = rec.ReturnPct(price)

		if rec.ReachedTarget(price) && m.inflight.TryAcquire(rec.Symbol) {
			// List 스냅샷은 오래됐을 수 있음: latch 획득 후 재조회
			current, ok := m.recheck(ctx, rec.Symbol, price)
			if !ok {
				m.inflight.Release(rec.Symbol)
				res.Skipped = "stale"
				results = append(results, res)
				continue
			}

			res.Dispatched = true
			res.TargetPct = current.TargetProfitPct
			res.ReturnPct = current.ReturnPct(price)
			m.logger.WithFields(map[string]interface{}{
				"symbol":     current.Symbol,
				"return_pct": res.ReturnPct.StringFixed(2),
				"target_pct": current.TargetProfitPct,
			}).Info("Target reached, dispatching disposal")
			m.dispatch(ctx, *current)
		}
		results = append(results, res)
	}

	m.mu.Lock()
	m.lastCheck = time.Now()
	m.mu.Unlock()

	return results, nil
}

// recheck re-reads the record under the latch.
// A record disposed since the List snapshot, or no longer at target, is not sold.
func (m *ProfitMonitor) recheck(ctx context.Context, symbol string, price decimal.Decimal) (*contracts.InvestmentRecord, bool) {
	current, err := m.ledger.Get(ctx, symbol)
	if errors.Is(err, contracts.ErrNotFound) {
		m.logger.WithField("symbol", symbol).Debug("Record closed since snapshot, skipping")
		return nil, false
	}
	if err != nil {
		m.logger.WithError(err).WithField("symbol", symbol).Warn("Record re-read failed, skipping")
		return nil, false
	}
	if !current.ReachedTarget(price) {
		return nil, false
	}
	return current, true
}

// dispatch sells in the background; the latch is released either way
func (m *ProfitMonitor) dispatch(ctx context.Context, rec contracts.InvestmentRecord) {
	m.disposals.Add(1)
	go func() {
		defer m.disposals.Done()
		defer m.inflight.Release(rec.Symbol)

		if _, err := m.disposer.Dispose(ctx, rec); err != nil {
			m.logger.WithError(err).WithField("symbol", rec.Symbol).Debug("Disposal attempt ended with error")
		}
	}()
}

// Start 백그라운드 모니터링 시작
func (m *ProfitMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})

	m.logger.WithField("interval", m.interval.String()).Info("Starting profit monitor")

	go m.loop(ctx, m.stopCh, m.loopDone)
	return nil
}

func (m *ProfitMonitor) loop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.setStopped()
			m.logger.Info("Profit monitor stopped: context cancelled")
			return
		case <-stopCh:
			m.logger.Info("Profit monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.CheckAll(ctx); err != nil {
				m.logger.WithError(err).Error("Error checking positions")
			}
		}
	}
}

// Stop halts the ticker and waits for dispatched disposals; idempotent.
// A loop already ended by its context still has its disposals waited for.
func (m *ProfitMonitor) Stop() {
	m.mu.Lock()
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	done := m.loopDone
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.disposals.Wait()
}

// Wait blocks until dispatched disposals finish
func (m *ProfitMonitor) Wait() {
	m.disposals.Wait()
}

// IsRunning 실행 상태 확인
func (m *ProfitMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastCheck returns when CheckAll last completed
func (m *ProfitMonitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// Interval returns the poll cadence
func (m *ProfitMonitor) Interval() time.Duration { return m.interval }

func (m *ProfitMonitor) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}
