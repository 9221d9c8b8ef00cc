package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// SchedulerControl is the slice of the cycle scheduler the API drives
type SchedulerControl interface {
	Start(ctx context.Context)
	Stop()
	RunOnce(ctx context.Context) (*contracts.CycleReport, error)
	SetIntervalMinutes(ctx context.Context, minutes int) error
	Status(ctx context.Context) contracts.SchedulerStatus
}

// StatusProbe contributes one section to GET /api/status
type StatusProbe func(ctx context.Context) interface{}

// SchedulerHandler handles scheduler control and status endpoints
// ⭐ SSOT: 스케줄러 제어 API 는 이 핸들러에서만
type SchedulerHandler struct {
	scheduler SchedulerControl
	probes    map[string]StatusProbe
	logger    *logger.Logger
}

// NewSchedulerHandler creates a scheduler handler
func NewSchedulerHandler(scheduler SchedulerControl, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		probes:    make(map[string]StatusProbe),
		logger:    log,
	}
}

// AddProbe registers an extra status section (price feed, jobs, divergence...)
func (h *SchedulerHandler) AddProbe(name string, probe StatusProbe) {
	h.probes[name] = probe
}

// GetStatus returns scheduler state plus every registered probe
// GET /api/status
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]interface{}{
		"scheduler": h.scheduler.Status(ctx),
	}
	for name, probe := range h.probes {
		resp[name] = probe(ctx)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Start arms the scheduler
// POST /api/scheduler/start
func (h *SchedulerHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Start(r.Context())
	h.logger.Info("Scheduler started via API")

	respondJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}

// Stop disarms the scheduler
// POST /api/scheduler/stop
func (h *SchedulerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	h.logger.Info("Scheduler stopped via API")

	respondJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}

// RunOnce runs one cycle synchronously and returns its report
// POST /api/scheduler/run
func (h *SchedulerHandler) RunOnce(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, contracts.ErrCycleInProgress) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}

		h.logger.WithError(err).Warn("Manual cycle failed")
		// 리포트가 있으면 실패 사유와 함께 반환
		if report != nil {
			respondJSON(w, statusFor(err), report)
			return
		}
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

type intervalRequest struct {
	Minutes int `json:"minutes"`
}

// SetInterval changes the cycle interval
// PUT /api/scheduler/interval
func (h *SchedulerHandler) SetInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Minutes < 1 {
		respondError(w, http.StatusBadRequest, "minutes must be >= 1")
		return
	}

	if err := h.scheduler.SetIntervalMinutes(r.Context(), req.Minutes); err != nil {
		h.logger.WithError(err).Error("Failed to set interval")
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}
