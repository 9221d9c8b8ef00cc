package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNotFound        = errors.New("not found")
	ErrTombstoned      = errors.New("symbol sold (tombstoned)")
	ErrInFlight        = errors.New("operation already in flight for symbol")
	ErrAlreadyHeld     = errors.New("symbol already held")
	ErrCycleInProgress = errors.New("cycle already in progress")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

// FeedError: 시세 조회 실패. 현재 사이클만 중단
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string { return fmt.Sprintf("feed %s: %v", e.Op, e.Err) }
func (e *FeedError) Unwrap() error { return e.Err }

// AdvisoryError: 어드바이저리 소스 하나의 실패. 해당 소스는 "비추천"으로 처리
type AdvisoryError struct {
	SourceID string
	Err      error
}

func (e *AdvisoryError) Error() string { return fmt.Sprintf("advisory %s: %v", e.SourceID, e.Err) }
func (e *AdvisoryError) Unwrap() error { return e.Err }

// ExecutionError: 매수/매도 실패. 자동 재시도 없음
type ExecutionError struct {
	Symbol string
	Side   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Side, e.Symbol, e.Err)
}
func (e *ExecutionError) Unwrap() error { return e.Err }

// PersistenceError: 저장소 쓰기 실패. 백업 티어면 divergence 로 표시
type PersistenceError struct {
	Tier      string
	Namespace string
	Key       string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s/%s: %v", e.Tier, e.Namespace, e.Key, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }
