package handlers

import (
	"context"
	"net/http"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// TargetControl exposes the profit-target state machine
type TargetControl interface {
	State() contracts.CycleState
	Reset(ctx context.Context) (contracts.CycleState, error)
}

// CycleHandler handles profit-target cycle endpoints
type CycleHandler struct {
	target TargetControl
	logger *logger.Logger
}

// NewCycleHandler creates a cycle handler
func NewCycleHandler(target TargetControl, log *logger.Logger) *CycleHandler {
	return &CycleHandler{target: target, logger: log}
}

// GetCycle returns the current target state
// GET /api/cycle
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.target.State())
}

// Reset moves the target back to the floor
// POST /api/cycle/reset
func (h *CycleHandler) Reset(w http.ResponseWriter, r *http.Request) {
	state, err := h.target.Reset(r.Context())
	if err != nil {
		// 메모리 상태는 이미 리셋됨, 저장 실패만 알림
		h.logger.WithError(err).Error("Failed to persist target reset")
		respondDomainError(w, err)
		return
	}

	h.logger.WithField("target_pct", state.CurrentTargetPct).Info("Target reset via API")
	respondJSON(w, http.StatusOK, state)
}
