package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/pkg/logger"
)

// LedgerReader is the read/repair side of the investment ledger
type LedgerReader interface {
	List(ctx context.Context) ([]contracts.InvestmentRecord, error)
	Get(ctx context.Context, symbol string) (*contracts.InvestmentRecord, error)
	Tombstones(ctx context.Context) ([]contracts.SoldTombstone, error)
	AdjustTarget(ctx context.Context, symbol string, pct int) (*contracts.InvestmentRecord, error)
	SyncAll(ctx context.Context) (*ledger.SyncReport, error)
	Divergent() []string
}

// Booster adds capital to an existing position
type Booster interface {
	Boost(ctx context.Context, symbol string, usd decimal.Decimal) (*contracts.InvestmentRecord, error)
}

// LedgerHandler handles investment and tombstone endpoints
// ⭐ SSOT: 원장 API 핸들러는 이 구조체에서만
type LedgerHandler struct {
	ledger  LedgerReader
	booster Booster
	logger  *logger.Logger
}

// NewLedgerHandler creates a ledger handler
func NewLedgerHandler(l LedgerReader, booster Booster, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:  l,
		booster: booster,
		logger:  log,
	}
}

// ListInvestments returns every open position
// GET /api/investments
func (h *LedgerHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list investments")
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"investments": records,
		"count":       len(records),
	})
}

// GetInvestment returns one position
// GET /api/investments/{symbol}
func (h *LedgerHandler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	symbol := ledger.NormalizeSymbol(mux.Vars(r)["symbol"])

	rec, err := h.ledger.Get(r.Context(), symbol)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

type boostRequest struct {
	USD decimal.Decimal `json:"usd"`
}

// Boost buys more of a held symbol
// POST /api/investments/{symbol}/boost
func (h *LedgerHandler) Boost(w http.ResponseWriter, r *http.Request) {
	symbol := ledger.NormalizeSymbol(mux.Vars(r)["symbol"])

	var req boostRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.USD.IsPositive() {
		respondError(w, http.StatusBadRequest, contracts.ErrInvalidAmount.Error())
		return
	}

	rec, err := h.booster.Boost(r.Context(), symbol, req.USD)
	if err != nil {
		h.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"usd":    req.USD.String(),
		}).WithError(err).Warn("Boost failed")
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

type targetRequest struct {
	Pct int `json:"pct"`
}

// SetTarget overrides a position's profit target
// PUT /api/investments/{symbol}/target
func (h *LedgerHandler) SetTarget(w http.ResponseWriter, r *http.Request) {
	symbol := ledger.NormalizeSymbol(mux.Vars(r)["symbol"])

	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Pct <= 0 {
		respondError(w, http.StatusBadRequest, "pct must be positive")
		return
	}

	rec, err := h.ledger.AdjustTarget(r.Context(), symbol, req.Pct)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// ListTombstones returns every sold-position tombstone
// GET /api/tombstones
func (h *LedgerHandler) ListTombstones(w http.ResponseWriter, r *http.Request) {
	tombs, err := h.ledger.Tombstones(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tombstones")
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tombstones": tombs,
		"count":      len(tombs),
	})
}

// Sync reconciles the primary and backup tiers
// POST /api/ledger/sync
func (h *LedgerHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.SyncAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Ledger sync failed")
		respondDomainError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"restored": len(report.Restored),
		"purged":   len(report.Purged),
	}).Info("Ledger sync via API")

	respondJSON(w, http.StatusOK, report)
}

// Divergence is a status probe listing symbols whose tiers disagree
func (h *LedgerHandler) Divergence(ctx context.Context) interface{} {
	return h.ledger.Divergent()
}
