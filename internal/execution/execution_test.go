package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/internal/target"
	"github.com/wonny/cyclebot/pkg/logger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeBroker fills at the configured price; Sell can be held open with sellGate
type fakeBroker struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	buyErr   error
	sellErr  error
	sellGate chan struct{}
	buys     atomic.Int32
	sells    atomic.Int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{prices: make(map[string]decimal.Decimal)}
}

func (b *fakeBroker) setPrice(symbol, price string) {
	b.mu.Lock()
	b.prices[symbol] = d(price)
	b.mu.Unlock()
}

func (b *fakeBroker) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

func (b *fakeBroker) Buy(ctx context.Context, symbol string, notional decimal.Decimal) (*BuyResult, error) {
	b.buys.Add(1)
	if b.buyErr != nil {
		return nil, b.buyErr
	}
	price, err := b.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &BuyResult{OrderID: "B1", ExecutedQty: notional.Div(price), AvgPrice: price, QuoteSpent: notional}, nil
}

func (b *fakeBroker) Sell(ctx context.Context, symbol string) (*SellResult, error) {
	b.sells.Add(1)
	if b.sellGate != nil {
		<-b.sellGate
	}
	if b.sellErr != nil {
		return nil, b.sellErr
	}
	price, _ := b.Price(ctx, symbol)
	return &SellResult{OrderID: "S1", ExecutedQty: d("10"), ProceedsUSD: d("10").Mul(price)}, nil
}

type countingBookkeeper struct {
	mu      sync.Mutex
	added   []string
	skipped map[string]string
}

func (c *countingBookkeeper) RecordAdded(symbol string) {
	c.mu.Lock()
	c.added = append(c.added, symbol)
	c.mu.Unlock()
}

func (c *countingBookkeeper) RecordSkipped(symbol, reason string) {
	c.mu.Lock()
	if c.skipped == nil {
		c.skipped = make(map[string]string)
	}
	c.skipped[symbol] = reason
	c.mu.Unlock()
}

type capturePublisher struct {
	mu     sync.Mutex
	events []contracts.CycleCompleteEvent
}

func (p *capturePublisher) Publish(ev contracts.CycleCompleteEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	broker   *fakeBroker
	ledger   *ledger.Ledger
	target   *target.StateMachine
	inflight *InFlight
	books    *countingBookkeeper
	events   *capturePublisher
	acquirer *Acquirer
	disposer *Disposer
	monitor  *ProfitMonitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()

	f := &fixture{
		broker:   newFakeBroker(),
		ledger:   ledger.New(store.NewMemoryKV(), store.NewMemoryKV(), log),
		inflight: NewInFlight(),
		books:    &countingBookkeeper{},
		events:   &capturePublisher{},
	}
	tm, err := target.New(context.Background(), store.NewMemoryKV(), target.DefaultBounds, log)
	require.NoError(t, err)
	f.target = tm

	f.acquirer = NewAcquirer(f.broker, f.ledger, f.target, f.inflight, d("5"), time.Second, log)
	f.acquirer.SetBookkeeper(f.books)
	f.disposer = NewDisposer(f.broker, f.ledger, f.target, f.events, time.Second, log)
	f.monitor = NewProfitMonitor(f.ledger, f.broker, f.disposer, f.inflight, time.Hour, log)
	return f
}

func TestAcquire_RecordsBasisAndTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.setPrice("NEWUSDT", "0.5")

	rec, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "newusdt"})
	require.NoError(t, err)

	assert.Equal(t, "NEWUSDT", rec.Symbol)
	assert.True(t, rec.BasisUSD.Equal(d("5")))
	assert.True(t, rec.Quantity.Equal(d("10")))
	assert.Equal(t, 3, rec.TargetProfitPct)
	assert.Equal(t, []string{"NEWUSDT"}, f.books.added)

	stored, err := f.ledger.Get(ctx, "NEWUSDT")
	require.NoError(t, err)
	assert.Equal(t, "B1", stored.OrderID)
	assert.False(t, f.inflight.Has("NEWUSDT"))
}

func TestAcquire_SkipsHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.setPrice("NEWUSDT", "0.5")

	_, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "NEWUSDT"})
	require.NoError(t, err)

	_, err = f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "NEWUSDT"})
	assert.ErrorIs(t, err, contracts.ErrAlreadyHeld)
	assert.Equal(t, int32(1), f.broker.buys.Load())
	assert.Equal(t, SkipHeld, f.books.skipped["NEWUSDT"])
}

func TestAcquire_SkipsInFlight(t *testing.T) {
	f := newFixture(t)
	f.broker.setPrice("NEWUSDT", "0.5")
	require.True(t, f.inflight.TryAcquire("NEWUSDT"))

	_, err := f.acquirer.Acquire(context.Background(), contracts.Candidate{Symbol: "NEWUSDT"})
	assert.ErrorIs(t, err, contracts.ErrInFlight)
	assert.Zero(t, f.broker.buys.Load())
}

func TestAcquire_BuyFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.buyErr = errors.New("insufficient balance")

	_, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "NEWUSDT"})
	var execErr *contracts.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "buy", execErr.Side)

	has, err := f.ledger.Has(ctx, "NEWUSDT")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, SkipBuyFailed, f.books.skipped["NEWUSDT"])
	assert.Equal(t, int32(1), f.broker.buys.Load(), "no retry")
}

func TestAcquire_ClearsTombstone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.setPrice("NEWUSDT", "0.5")
	require.NoError(t, f.ledger.Dispose(ctx, contracts.SoldTombstone{Symbol: "NEWUSDT"}))

	_, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "NEWUSDT"})
	require.NoError(t, err)

	_, err = f.ledger.Tombstone(ctx, "NEWUSDT")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestBoost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.setPrice("NEWUSDT", "0.5")

	_, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "NEWUSDT"})
	require.NoError(t, err)

	rec, err := f.acquirer.Boost(ctx, "NEWUSDT", d("2"))
	require.NoError(t, err)
	assert.True(t, rec.BasisUSD.Equal(d("7")))
	assert.True(t, rec.BoostUSD.Equal(d("2")))
	assert.True(t, rec.Quantity.Equal(d("14")))

	_, err = f.acquirer.Boost(ctx, "OTHERUSDT", d("2"))
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	_, err = f.acquirer.Boost(ctx, "NEWUSDT", d("0"))
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)
}

func putRecord(t *testing.T, f *fixture, symbol, basis, qty string, targetPct int) {
	t.Helper()
	require.NoError(t, f.ledger.Put(context.Background(), contracts.InvestmentRecord{
		Symbol:          symbol,
		BasisUSD:        d(basis),
		Quantity:        d(qty),
		TargetProfitPct: targetPct,
	}))
}

func TestMonitor_DisposesExactlyOnceAcrossTicks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// basis $5.00, value $5.40 (+8%), target 5%
	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.54")
	f.broker.sellGate = make(chan struct{})

	first, err := f.monitor.CheckAll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Dispatched)
	assert.True(t, first[0].ReturnPct.Equal(d("8")))

	// second tick while the sell is still pending
	second, err := f.monitor.CheckAll(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.False(t, second[0].Dispatched)

	close(f.broker.sellGate)
	f.monitor.Wait()

	assert.Equal(t, int32(1), f.broker.sells.Load())
	assert.Equal(t, 1, f.events.count())

	has, err := f.ledger.Has(ctx, "XUSDT")
	require.NoError(t, err)
	assert.False(t, has)

	tomb, err := f.ledger.Tombstone(ctx, "XUSDT")
	require.NoError(t, err)
	assert.True(t, tomb.RealizedPnLUSD.Equal(d("0.4")))

	// third tick: nothing left to sell
	third, err := f.monitor.CheckAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.Equal(t, int32(1), f.broker.sells.Load())
}

// pausingLedger runs afterList once List has taken its snapshot
type pausingLedger struct {
	*ledger.Ledger
	afterList func()
}

func (p *pausingLedger) List(ctx context.Context) ([]contracts.InvestmentRecord, error) {
	records, err := p.Ledger.List(ctx)
	if p.afterList != nil {
		p.afterList()
	}
	return records, err
}

func TestMonitor_StaleSnapshotIsNotSoldAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.54")
	f.broker.sellGate = make(chan struct{})

	paused := &pausingLedger{Ledger: f.ledger}
	m := NewProfitMonitor(paused, f.broker, f.disposer, f.inflight, time.Hour, logger.NewNop())

	// tick 1: sell held open
	first, err := m.CheckAll(ctx)
	require.NoError(t, err)
	require.True(t, first[0].Dispatched)

	// tick 2: snapshot taken while the sell is pending, then paused
	listed := make(chan struct{})
	resume := make(chan struct{})
	paused.afterList = func() {
		close(listed)
		<-resume
	}
	secondCh := make(chan []CheckResult, 1)
	go func() {
		results, _ := m.CheckAll(ctx)
		secondCh <- results
	}()
	<-listed

	// 첫 매도 완료 → latch 해제 후 tick 2 재개
	close(f.broker.sellGate)
	m.Wait()
	require.False(t, f.inflight.Has("XUSDT"))
	close(resume)

	second := <-secondCh
	require.Len(t, second, 1)
	assert.False(t, second[0].Dispatched)
	assert.Equal(t, "stale", second[0].Skipped)
	m.Wait()

	assert.Equal(t, int32(1), f.broker.sells.Load())
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, 5, f.target.Current())
	assert.False(t, f.inflight.Has("XUSDT"))
}

func TestMonitor_BelowTargetHolds(t *testing.T) {
	f := newFixture(t)
	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.52") // +4%

	results, err := f.monitor.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Dispatched)
	assert.Zero(t, f.broker.sells.Load())
}

func TestMonitor_MissingPriceSkips(t *testing.T) {
	f := newFixture(t)
	putRecord(t, f, "XUSDT", "5", "10", 5)

	results, err := f.monitor.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "price_unavailable", results[0].Skipped)
}

func TestDisposal_FailureKeepsRecordAndReleasesLatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.54")
	f.broker.sellErr = errors.New("exchange busy")

	_, err := f.monitor.CheckAll(ctx)
	require.NoError(t, err)
	f.monitor.Wait()

	assert.False(t, f.inflight.Has("XUSDT"))
	rec, err := f.ledger.Get(ctx, "XUSDT")
	require.NoError(t, err)
	assert.True(t, rec.BasisUSD.Equal(d("5")))
	assert.Equal(t, 3, f.target.Current(), "target unchanged")
	assert.Zero(t, f.events.count())

	// next poll retries
	f.broker.sellErr = nil
	_, err = f.monitor.CheckAll(ctx)
	require.NoError(t, err)
	f.monitor.Wait()

	assert.Equal(t, int32(2), f.broker.sells.Load())
	assert.Equal(t, 5, f.target.Current())
}

func TestDisposal_AdvancesTargetForFutureOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.broker.setPrice("AUSDT", "0.5")
	f.broker.setPrice("BUSDT", "0.5")

	_, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "AUSDT"})
	require.NoError(t, err)
	_, err = f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "BUSDT"})
	require.NoError(t, err)

	a, err := f.ledger.Get(ctx, "AUSDT")
	require.NoError(t, err)
	f.broker.setPrice("AUSDT", "0.6")
	ev, err := f.disposer.Dispose(ctx, *a)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.NewTargetPct)
	assert.False(t, ev.Wrapped)

	// open position keeps its own target
	b, err := f.ledger.Get(ctx, "BUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, b.TargetProfitPct)

	f.broker.setPrice("CUSDT", "0.5")
	c, err := f.acquirer.Acquire(ctx, contracts.Candidate{Symbol: "CUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 5, c.TargetProfitPct)
}

func TestProfitMonitor_StartStop(t *testing.T) {
	f := newFixture(t)
	m := NewProfitMonitor(f.ledger, f.broker, f.disposer, f.inflight, 10*time.Millisecond, logger.NewNop())

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool { return !m.LastCheck().IsZero() }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestProfitMonitor_StopWaitsAfterContextCancel(t *testing.T) {
	f := newFixture(t)
	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.54")
	f.broker.sellGate = make(chan struct{})

	m := NewProfitMonitor(f.ledger, f.broker, f.disposer, f.inflight, time.Hour, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))

	results, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.True(t, results[0].Dispatched)

	cancel()
	assert.Eventually(t, func() bool { return !m.IsRunning() }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	isStopped := func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}
	assert.Never(t, isStopped, 50*time.Millisecond, 5*time.Millisecond, "Stop returned with a disposal pending")

	close(f.broker.sellGate)
	assert.Eventually(t, isStopped, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.events.count())
}

func TestPaperBroker(t *testing.T) {
	ctx := context.Background()
	prices := newFakeBroker()
	prices.setPrice("XUSDT", "2")
	b := NewPaperBroker(prices, d("0.001"))

	buy, err := b.Buy(ctx, "XUSDT", d("10"))
	require.NoError(t, err)
	assert.True(t, buy.ExecutedQty.Equal(d("4.995")))
	assert.True(t, buy.QuoteSpent.Equal(d("10")))
	assert.True(t, b.Holding("XUSDT").Equal(d("4.995")))

	prices.setPrice("XUSDT", "4")
	sell, err := b.Sell(ctx, "XUSDT")
	require.NoError(t, err)
	assert.True(t, sell.ExecutedQty.Equal(d("4.995")))
	assert.True(t, sell.ProceedsUSD.Equal(d("19.96002")))
	assert.True(t, b.Holding("XUSDT").IsZero())

	_, err = b.Sell(ctx, "XUSDT")
	assert.Error(t, err)

	_, err = b.Buy(ctx, "NOPRICEUSDT", d("10"))
	assert.Error(t, err)
}

func TestPaperBroker_RestoredPositionCanBeDisposed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	putRecord(t, f, "XUSDT", "5", "10", 5)
	f.broker.setPrice("XUSDT", "0.6")

	// 재시작 직후: ledger 에는 레코드가 있지만 paper 잔고는 비어 있음
	paper := NewPaperBroker(f.broker, decimal.Zero)
	_, err := paper.Sell(ctx, "XUSDT")
	require.Error(t, err)

	records, err := f.ledger.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, paper.Restore(records))
	assert.Equal(t, 0, paper.Restore(records), "existing balances are kept")
	assert.True(t, paper.Holding("XUSDT").Equal(d("10")))

	disposer := NewDisposer(paper, f.ledger, f.target, f.events, time.Second, logger.NewNop())
	ev, err := disposer.Dispose(ctx, records[0])
	require.NoError(t, err)
	assert.True(t, ev.RealizedPnLUSD.Equal(d("1")))
	assert.True(t, paper.Holding("XUSDT").IsZero())
}

func TestInFlight(t *testing.T) {
	f := NewInFlight()
	assert.True(t, f.TryAcquire("A"))
	assert.False(t, f.TryAcquire("A"))
	assert.True(t, f.TryAcquire("B"))
	assert.Equal(t, []string{"A", "B"}, f.Symbols())

	f.Release("A")
	f.Release("A")
	assert.False(t, f.Has("A"))
	assert.True(t, f.TryAcquire("A"))
}
