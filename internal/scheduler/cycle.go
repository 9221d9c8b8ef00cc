package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/execution"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Cycle triggers
const (
	TriggerStart  = "start"
	TriggerTimer  = "timer"
	TriggerManual = "manual"
	TriggerWake   = "wake"
)

const (
	scheduleKey   = "state"
	recentLogSize = 50
)

// Feed supplies the 24h market snapshot
type Feed interface {
	Tickers(ctx context.Context) ([]contracts.Ticker, error)
}

// Scanner filters and ranks tickers
type Scanner interface {
	Scan(tickers []contracts.Ticker) []contracts.Candidate
}

// Gate decides advisory consensus for one candidate
type Gate interface {
	Evaluate(ctx context.Context, c contracts.Candidate) (contracts.AdvisoryDecision, error)
}

// Acquirer buys an admitted candidate
type Acquirer interface {
	Acquire(ctx context.Context, c contracts.Candidate) (*contracts.InvestmentRecord, error)
}

// Positions is the read side of the ledger the scheduler needs
type Positions interface {
	Has(ctx context.Context, symbol string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// CycleStateReader exposes the target state machine
type CycleStateReader interface {
	State() contracts.CycleState
}

// Deps are the collaborators of a CycleScheduler
type Deps struct {
	Feed      Feed
	Scanner   Scanner
	Gate      Gate
	Acquirer  Acquirer
	Positions Positions
	Cycle     CycleStateReader
	Store     store.KV
}

// Options tune a CycleScheduler
type Options struct {
	IntervalMinutes  int
	MaxOpenPositions int // 0 = unlimited
	MaxCandidates    int // per cycle, 0 = scanner decides
	FeedTimeout      time.Duration
	WakeOnDisposal   bool
}

// OptionsFromConfig maps application config onto scheduler options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IntervalMinutes:  cfg.Cycle.IntervalMinutes,
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		MaxCandidates:    cfg.Trading.MaxCandidatesPerCycle,
		FeedTimeout:      cfg.Binance.FeedTimeout,
		WakeOnDisposal:   cfg.Cycle.WakeOnDisposal,
	}
}

// CycleScheduler runs scan -> gate -> acquire passes on a repeating timer
// ⭐ SSOT: 스캔 사이클 실행/제어는 이 스케줄러에서만
type CycleScheduler struct {
	deps   Deps
	opts   Options
	logger *logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	cron       *cron.Cron
	entryID    cron.EntryID
	enabled    bool // 타이머 armed
	running    bool // 사이클 진행 허용 (runOnce 중에는 임시로 true)
	stopGen    uint64
	interval   time.Duration
	state      contracts.ScheduleState
	lastReport *contracts.CycleReport

	// 백그라운드 사이클 컨텍스트; Close 에서 취소
	baseCtx context.Context
	cancel  context.CancelFunc

	searching atomic.Bool // 재진입 가드
	wg        sync.WaitGroup
}

var _ execution.Bookkeeper = (*CycleScheduler)(nil)

// NewCycleScheduler creates a stopped scheduler
func NewCycleScheduler(deps Deps, opts Options, log *logger.Logger) *CycleScheduler {
	if opts.IntervalMinutes < 1 {
		opts.IntervalMinutes = 60
	}
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = 15 * time.Second
	}

	interval := time.Duration(opts.IntervalMinutes) * time.Minute
	baseCtx, cancel := context.WithCancel(context.Background())
	return &CycleScheduler{
		deps:     deps,
		opts:     opts,
		logger:   log.WithField("component", "cycle_scheduler"),
		now:      time.Now,
		cron:     cron.New(),
		interval: interval,
		state: contracts.ScheduleState{
			IntervalMs: interval.Milliseconds(),
			RecentLogs: []contracts.LogEntry{},
		},
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// Restore loads persisted schedule state and re-arms the timer if it was enabled
func (s *CycleScheduler) Restore(ctx context.Context) error {
	var st contracts.ScheduleState
	err := store.GetJSON(ctx, s.deps.Store, store.NamespaceSchedule, scheduleKey, &st)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &contracts.PersistenceError{Tier: s.deps.Store.Name(), Namespace: store.NamespaceSchedule, Key: scheduleKey, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.IntervalMs >= time.Minute.Milliseconds() {
		s.interval = time.Duration(st.IntervalMs) * time.Millisecond
	}
	st.IntervalMs = s.interval.Milliseconds()
	if st.RecentLogs == nil {
		st.RecentLogs = []contracts.LogEntry{}
	}
	if len(st.RecentLogs) > recentLogSize {
		st.RecentLogs = st.RecentLogs[len(st.RecentLogs)-recentLogSize:]
	}
	wasEnabled := st.Enabled
	st.Enabled = false
	st.NextRunAt = nil
	s.state = st

	if wasEnabled {
		s.enabled = true
		s.running = true
		s.state.Enabled = true
		s.armLocked()
		s.appendLogLocked("info", "", "schedule restored")
	}
	s.persistLocked(ctx)

	s.logger.WithFields(map[string]interface{}{
		"enabled":  wasEnabled,
		"interval": s.interval.String(),
	}).Info("Schedule state restored")
	return nil
}

// Start arms the timer and runs one cycle immediately. No-op when already started.
// Cycles run on the scheduler's own context; ctx only bounds the state write.
func (s *CycleScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = true
	s.running = true
	s.state.Enabled = true
	s.armLocked()
	s.appendLogLocked("info", "", fmt.Sprintf("scheduler started (every %s)", s.interval))
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.WithField("interval", s.interval.String()).Info("Cycle scheduler started")
	s.spawn(TriggerStart)
}

// Stop disarms the timer and clears the running flag. Idempotent.
// A cycle in progress stops at its next candidate boundary.
func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopGen++
	if !s.enabled && !s.running {
		return
	}

	s.disarmLocked()
	s.enabled = false
	s.running = false
	s.state.Enabled = false
	s.state.NextRunAt = nil
	s.appendLogLocked("info", "", "scheduler stopped")
	s.persistLocked(context.Background())

	s.logger.Info("Cycle scheduler stopped")
}

// RunOnce runs a single cycle now, regardless of the timer, and restores the
// prior running state afterwards. A Stop during the cycle wins.
func (s *CycleScheduler) RunOnce(ctx context.Context) (*contracts.CycleReport, error) {
	s.mu.Lock()
	prior := s.running
	gen := s.stopGen
	s.running = true
	s.mu.Unlock()

	report, err := s.runCycle(ctx, TriggerManual)

	s.mu.Lock()
	if s.stopGen == gen {
		s.running = prior || s.enabled
	}
	s.mu.Unlock()

	return report, err
}

// SetIntervalMinutes persists a new interval and re-arms the timer when enabled
func (s *CycleScheduler) SetIntervalMinutes(ctx context.Context, minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("interval must be >= 1 minute, got %d", minutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = time.Duration(minutes) * time.Minute
	s.state.IntervalMs = s.interval.Milliseconds()
	if s.enabled {
		s.disarmLocked()
		s.armLocked()
	}
	s.appendLogLocked("info", "", fmt.Sprintf("interval set to %d minutes", minutes))
	s.persistLocked(ctx)

	return nil
}

// Status reports the control-surface view
func (s *CycleScheduler) Status(ctx context.Context) contracts.SchedulerStatus {
	s.mu.Lock()
	st := contracts.SchedulerStatus{
		Running:         s.running,
		Searching:       s.searching.Load(),
		LastRun:         copyTime(s.state.LastRunAt),
		NextRun:         copyTime(s.state.NextRunAt),
		IntervalMinutes: int(s.interval / time.Minute),
		RunCount:        s.state.RunCount,
		AddedCount:      s.state.AddedCount,
		SkippedCount:    s.state.SkippedCount,
		RecentLogs:      append([]contracts.LogEntry(nil), s.state.RecentLogs...),
	}
	if s.lastReport != nil {
		report := *s.lastReport
		st.LastReport = &report
	}
	s.mu.Unlock()

	if s.deps.Cycle != nil {
		st.Cycle = s.deps.Cycle.State()
	}
	if n, err := s.deps.Positions.Count(ctx); err == nil {
		st.OpenPositions = n
	} else {
		s.logger.WithError(err).Warn("Failed to count open positions")
	}
	return st
}

// IsRunning reports the running flag
func (s *CycleScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsSearching reports whether a cycle body is executing
func (s *CycleScheduler) IsSearching() bool {
	return s.searching.Load()
}

// OnCycleComplete records a disposal and, when enabled, wakes an immediate cycle
func (s *CycleScheduler) OnCycleComplete(ev contracts.CycleCompleteEvent) {
	s.mu.Lock()
	s.appendLogLocked("info", ev.Symbol, fmt.Sprintf("sold, pnl %s USD, next target %d%%", ev.RealizedPnLUSD.StringFixed(2), ev.NewTargetPct))
	wake := s.enabled && s.opts.WakeOnDisposal
	s.mu.Unlock()

	if wake {
		s.spawn(TriggerWake)
	}
}

// RecordAdded counts a successful acquisition
func (s *CycleScheduler) RecordAdded(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.AddedCount++
	s.appendLogLocked("info", symbol, "acquired")
	s.persistLocked(context.Background())
}

// RecordSkipped counts a candidate that was not acquired
func (s *CycleScheduler) RecordSkipped(symbol, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SkippedCount++
	s.appendLogLocked("debug", symbol, "skipped: "+reason)
}

// Wait blocks until background cycles finish
func (s *CycleScheduler) Wait() {
	s.wg.Wait()
}

// Close stops the timer loop without clearing the persisted enabled flag,
// so Restore re-arms after a restart
func (s *CycleScheduler) Close() {
	s.mu.Lock()
	s.disarmLocked()
	s.running = false
	s.stopGen++
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

// spawn runs a cycle in the background; overlapping triggers are dropped by the guard
func (s *CycleScheduler) spawn(trigger string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runCycle(s.baseCtx, trigger); err != nil && !errors.Is(err, contracts.ErrCycleInProgress) {
			s.logger.WithError(err).WithField("trigger", trigger).Warn("Cycle ended with error")
		}
	}()
}

func (s *CycleScheduler) timerFired() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	next := s.now().Add(s.interval)
	s.state.NextRunAt = &next
	s.mu.Unlock()

	s.spawn(TriggerTimer)
}

// runCycle executes one cycle body; at most one runs at a time
func (s *CycleScheduler) runCycle(ctx context.Context, trigger string) (*contracts.CycleReport, error) {
	if !s.searching.CompareAndSwap(false, true) {
		s.logger.WithField("trigger", trigger).Debug("Cycle already in progress, skipping")
		return nil, contracts.ErrCycleInProgress
	}
	defer s.searching.Store(false)

	report := &contracts.CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	s.mu.Lock()
	skippedBefore := s.state.SkippedCount
	s.appendLogLocked("info", "", "cycle started ("+trigger+")")
	s.mu.Unlock()

	err := s.cycleBody(ctx, report)
	if err != nil {
		report.Error = err.Error()
	}

	report.FinishedAt = s.now()

	s.mu.Lock()
	report.Skipped = s.state.SkippedCount - skippedBefore
	last := report.FinishedAt
	s.state.LastRunAt = &last
	s.state.RunCount++
	s.lastReport = report
	switch {
	case err != nil:
		s.appendLogLocked("error", "", "cycle failed: "+err.Error())
	case report.Stopped:
		s.appendLogLocked("warn", "", fmt.Sprintf("cycle stopped after %d/%d candidates", report.Evaluated, report.Candidates))
	default:
		s.appendLogLocked("info", "", fmt.Sprintf("cycle finished: %d candidates, %d acquired", report.Candidates, report.Acquired))
	}
	s.persistLocked(context.Background())
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"cycle_id":   report.ID,
		"trigger":    trigger,
		"tickers":    report.Tickers,
		"candidates": report.Candidates,
		"evaluated":  report.Evaluated,
		"admitted":   report.Admitted,
		"acquired":   report.Acquired,
		"stopped":    report.Stopped,
		"duration":   report.FinishedAt.Sub(report.StartedAt),
	}).Info("Cycle finished")

	return report, err
}

func (s *CycleScheduler) cycleBody(ctx context.Context, report *contracts.CycleReport) error {
	feedCtx, cancel := context.WithTimeout(ctx, s.opts.FeedTimeout)
	tickers, err := s.deps.Feed.Tickers(feedCtx)
	cancel()
	if err != nil {
		var feedErr *contracts.FeedError
		if !errors.As(err, &feedErr) {
			err = &contracts.FeedError{Op: "tickers", Err: err}
		}
		return err
	}
	report.Tickers = len(tickers)

	if !s.shouldContinue(ctx) {
		report.Stopped = true
		return nil
	}

	candidates := s.deps.Scanner.Scan(tickers)
	if s.opts.MaxCandidates > 0 && len(candidates) > s.opts.MaxCandidates {
		candidates = candidates[:s.opts.MaxCandidates]
	}
	report.Candidates = len(candidates)

	for _, c := range candidates {
		if !s.shouldContinue(ctx) {
			report.Stopped = true
			return nil
		}

		held, err := s.deps.Positions.Has(ctx, c.Symbol)
		if err != nil {
			s.RecordSkipped(c.Symbol, execution.SkipLedgerRead)
			continue
		}
		if held {
			s.RecordSkipped(c.Symbol, execution.SkipHeld)
			continue
		}

		if s.opts.MaxOpenPositions > 0 {
			open, err := s.deps.Positions.Count(ctx)
			if err == nil && open >= s.opts.MaxOpenPositions {
				s.RecordSkipped(c.Symbol, execution.SkipMaxOpen)
				s.logger.WithField("open", open).Info("Max open positions reached, ending cycle early")
				return nil
			}
		}

		decision, err := s.deps.Gate.Evaluate(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				report.Stopped = true
				return nil
			}
			s.logger.WithError(err).WithField("symbol", c.Symbol).Warn("Advisory evaluation failed")
			s.RecordSkipped(c.Symbol, execution.SkipRejected)
			continue
		}
		report.Evaluated++

		if !decision.Recommended {
			s.RecordSkipped(c.Symbol, execution.SkipRejected)
			continue
		}
		report.Admitted++

		// Acquirer 가 추가/스킵을 직접 기록
		if _, err := s.deps.Acquirer.Acquire(ctx, c); err == nil {
			report.Acquired++
		}
	}

	return nil
}

func (s *CycleScheduler) shouldContinue(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *CycleScheduler) armLocked() {
	s.entryID = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.timerFired))
	s.cron.Start()

	next := s.now().Add(s.interval)
	s.state.NextRunAt = &next
}

func (s *CycleScheduler) disarmLocked() {
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
}

func (s *CycleScheduler) appendLogLocked(level, symbol, msg string) {
	s.state.RecentLogs = append(s.state.RecentLogs, contracts.LogEntry{
		At:      s.now(),
		Level:   level,
		Symbol:  symbol,
		Message: msg,
	})
	if len(s.state.RecentLogs) > recentLogSize {
		s.state.RecentLogs = s.state.RecentLogs[len(s.state.RecentLogs)-recentLogSize:]
	}
}

// persistLocked writes ScheduleState; a failure is logged and kept in memory
func (s *CycleScheduler) persistLocked(ctx context.Context) {
	if s.deps.Store == nil {
		return
	}
	if err := store.SetJSON(ctx, s.deps.Store, store.NamespaceSchedule, scheduleKey, s.state); err != nil {
		perr := &contracts.PersistenceError{Tier: s.deps.Store.Name(), Namespace: store.NamespaceSchedule, Key: scheduleKey, Err: err}
		s.logger.WithError(perr).Warn("Failed to persist schedule state")
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
