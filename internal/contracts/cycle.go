package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleState tracks the escalating default target
// ⭐ SSOT: 목표 수익률 상태는 target 패키지만 변경
type CycleState struct {
	CurrentTargetPct           int             `json:"current_target_pct"`
	DispositionsInCurrentCycle int             `json:"dispositions_in_current_cycle"`
	TotalCyclesCompleted       int             `json:"total_cycles_completed"`
	TotalDispositions          int             `json:"total_dispositions"`
	TotalRealizedPnL           decimal.Decimal `json:"total_realized_pnl"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

// LogEntry is one line of the operator-visible recent log ring
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
}

// ScheduleState is the persisted scheduler state
type ScheduleState struct {
	Enabled      bool       `json:"enabled"`
	IntervalMs   int64      `json:"interval_ms"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	RunCount     int        `json:"run_count"`
	AddedCount   int        `json:"added_count"`
	SkippedCount int        `json:"skipped_count"`
	RecentLogs   []LogEntry `json:"recent_logs"`
}

// SchedulerStatus is what the control surface reports
type SchedulerStatus struct {
	Running         bool         `json:"running"`
	Searching       bool         `json:"searching"`
	LastRun         *time.Time   `json:"last_run,omitempty"`
	NextRun         *time.Time   `json:"next_run,omitempty"`
	IntervalMinutes int          `json:"interval_minutes"`
	RunCount        int          `json:"run_count"`
	AddedCount      int          `json:"added_count"`
	SkippedCount    int          `json:"skipped_count"`
	OpenPositions   int          `json:"open_positions"`
	Cycle           CycleState   `json:"cycle"`
	LastReport      *CycleReport `json:"last_report,omitempty"`
	RecentLogs      []LogEntry   `json:"recent_logs"`
}

// CycleReport summarizes one scan -> gate -> acquire pass
type CycleReport struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"` // timer, manual, wake, start
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Tickers    int       `json:"tickers"`
	Candidates int       `json:"candidates"`
	Evaluated  int       `json:"evaluated"`
	Admitted   int       `json:"admitted"`
	Acquired   int       `json:"acquired"`
	Skipped    int       `json:"skipped"`
	Stopped    bool      `json:"stopped"` // stop() 로 중단됨
	Error      string    `json:"error,omitempty"`
}

// CycleCompleteEvent is published after every successful disposal
type CycleCompleteEvent struct {
	Symbol          string          `json:"symbol"`
	RealizedPnLUSD  decimal.Decimal `json:"realized_pnl_usd"`
	NewTargetPct    int             `json:"new_target_pct"`
	CyclesCompleted int             `json:"cycles_completed"`
	Wrapped         bool            `json:"wrapped"`
	At              time.Time       `json:"at"`
}
