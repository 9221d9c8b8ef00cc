// Package ledger keeps open investment records in two tiers: a fast primary
// store and a durable backup every write is mirrored to. Sold symbols are
// tombstoned so stale copies can never resurrect them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/pkg/logger"
)

// PrimaryStore is the fast tier consulted first on every read
type PrimaryStore interface {
	store.KV
}

// BackupStore is the durable tier every write is mirrored to
type BackupStore interface {
	store.KV
}

// Ledger is the investment record store
// ⭐ SSOT: InvestmentRecord / SoldTombstone 변경은 이 구조체에서만
type Ledger struct {
	primary PrimaryStore
	backup  BackupStore
	logger  *logger.Logger
	locks   *symbolLocks
	now     func() time.Time

	divergentMu sync.Mutex
	divergent   map[string]time.Time // backup 미러링 실패한 심볼
}

// New creates a ledger over the two tiers
func New(primary PrimaryStore, backup BackupStore, log *logger.Logger) *Ledger {
	return &Ledger{
		primary:   primary,
		backup:    backup,
		logger:    log,
		locks:     newSymbolLocks(),
		now:       time.Now,
		divergent: make(map[string]time.Time),
	}
}

// NormalizeSymbol upper-cases and trims a symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// =============================================================================
// Writes
// =============================================================================

// Put stores a freshly acquired record and clears any tombstone for the symbol
func (l *Ledger) Put(ctx context.Context, rec contracts.InvestmentRecord) error {
	rec.Symbol = NormalizeSymbol(rec.Symbol)
	if err := rec.Validate(); err != nil {
		return err
	}

	unlock := l.locks.Lock(rec.Symbol)
	defer unlock()

	now := l.now()
	if rec.AcquiredAt.IsZero() {
		rec.AcquiredAt = now
	}
	rec.LastUpdatedAt = now

	if err := l.writeRecord(ctx, &rec); err != nil {
		return err
	}

	// 새 매수는 tombstone 을 명시적으로 해제 (레코드 기록 성공 후에만)
	l.deleteBoth(ctx, store.NamespaceTombstones, rec.Symbol)

	l.logger.WithFields(map[string]interface{}{
		"symbol":     rec.Symbol,
		"basis_usd":  rec.BasisUSD.String(),
		"target_pct": rec.TargetProfitPct,
	}).Info("Investment recorded")
	return nil
}

// Boost adds a top-up to an open record
func (l *Ledger) Boost(ctx context.Context, symbol string, usd, qty decimal.Decimal) (*contracts.InvestmentRecord, error) {
	if !usd.IsPositive() || qty.IsNegative() {
		return nil, contracts.ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)

	unlock := l.locks.Lock(symbol)
	defer unlock()

	rec, err := l.getLocked(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rec.BasisUSD = rec.BasisUSD.Add(usd)
	rec.BoostUSD = rec.BoostUSD.Add(usd)
	rec.Quantity = rec.Quantity.Add(qty)
	if rec.Quantity.IsPositive() {
		rec.AvgPrice = rec.BasisUSD.Div(rec.Quantity)
	}
	rec.LastUpdatedAt = l.now()

	if err := l.writeRecord(ctx, rec); err != nil {
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"boost_usd": usd.String(),
		"basis_usd": rec.BasisUSD.String(),
	}).Info("Investment boosted")
	return rec, nil
}

// AdjustTarget explicitly changes a record's own target
func (l *Ledger) AdjustTarget(ctx context.Context, symbol string, pct int) (*contracts.InvestmentRecord, error) {
	if pct <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", pct)
	}
	symbol = NormalizeSymbol(symbol)

	unlock := l.locks.Lock(symbol)
	defer unlock()

	rec, err := l.getLocked(ctx, symbol)
	if err != nil {
		return nil, err
	}

	prev := rec.TargetProfitPct
	rec.TargetProfitPct = pct
	rec.LastUpdatedAt = l.now()

	if err := l.writeRecord(ctx, rec); err != nil {
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"from":   prev,
		"to":     pct,
	}).Info("Investment target adjusted")
	return rec, nil
}

// Dispose writes the tombstone and removes the record from both tiers
func (l *Ledger) Dispose(ctx context.Context, tomb contracts.SoldTombstone) error {
	tomb.Symbol = NormalizeSymbol(tomb.Symbol)
	if tomb.SoldAt.IsZero() {
		tomb.SoldAt = l.now()
	}

	unlock := l.locks.Lock(tomb.Symbol)
	defer unlock()

	if err := l.writeBoth(ctx, store.NamespaceTombstones, tomb.Symbol, tomb); err != nil {
		return err
	}
	l.deleteBoth(ctx, store.NamespaceInvestments, tomb.Symbol)

	l.logger.WithFields(map[string]interface{}{
		"symbol":       tomb.Symbol,
		"realized_pnl": tomb.RealizedPnLUSD.String(),
	}).Info("Investment disposed, tombstone written")
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Get returns the open record for symbol.
// A primary miss heals from the backup unless the symbol is tombstoned.
func (l *Ledger) Get(ctx context.Context, symbol string) (*contracts.InvestmentRecord, error) {
	symbol = NormalizeSymbol(symbol)

	unlock := l.locks.Lock(symbol)
	defer unlock()

	return l.getLocked(ctx, symbol)
}

// Has reports whether an open record exists
func (l *Ledger) Has(ctx context.Context, symbol string) (bool, error) {
	_, err := l.Get(ctx, symbol)
	if errors.Is(err, contracts.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns every open record (both tiers), sorted by symbol
func (l *Ledger) List(ctx context.Context) ([]contracts.InvestmentRecord, error) {
	symbols, err := l.allSymbols(ctx, store.NamespaceInvestments)
	if err != nil {
		return nil, err
	}

	records := make([]contracts.InvestmentRecord, 0, len(symbols))
	for _, symbol := range symbols {
		rec, err := l.Get(ctx, symbol)
		if errors.Is(err, contracts.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Count returns the number of open records
func (l *Ledger) Count(ctx context.Context) (int, error) {
	records, err := l.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Tombstone returns the tombstone for symbol
func (l *Ledger) Tombstone(ctx context.Context, symbol string) (*contracts.SoldTombstone, error) {
	symbol = NormalizeSymbol(symbol)
	tomb, found, err := l.findTombstone(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("tombstone %s: %w", symbol, contracts.ErrNotFound)
	}
	return tomb, nil
}

// Tombstones lists every tombstone, newest first
func (l *Ledger) Tombstones(ctx context.Context) ([]contracts.SoldTombstone, error) {
	symbols, err := l.allSymbols(ctx, store.NamespaceTombstones)
	if err != nil {
		return nil, err
	}

	out := make([]contracts.SoldTombstone, 0, len(symbols))
	for _, symbol := range symbols {
		tomb, found, err := l.findTombstone(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, *tomb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	return out, nil
}

// Divergent lists symbols whose last backup write failed
func (l *Ledger) Divergent() []string {
	l.divergentMu.Lock()
	defer l.divergentMu.Unlock()

	out := make([]string, 0, len(l.divergent))
	for symbol := range l.divergent {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Internals (caller holds the symbol lock)
// =============================================================================

func (l *Ledger) getLocked(ctx context.Context, symbol string) (*contracts.InvestmentRecord, error) {
	var rec contracts.InvestmentRecord

	err := store.GetJSON(ctx, l.primary, store.NamespaceInvestments, symbol, &rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		// primary 장애 시 backup 으로 계속 진행
		l.logger.WithError(err).WithField("symbol", symbol).Warn("Primary read failed, falling back to backup")
	}

	_, tombstoned, terr := l.findTombstone(ctx, symbol)
	if terr != nil {
		return nil, terr
	}
	if tombstoned {
		l.purgeStale(ctx, symbol)
		return nil, fmt.Errorf("investment %s: %w", symbol, contracts.ErrNotFound)
	}

	err = store.GetJSON(ctx, l.backup, store.NamespaceInvestments, symbol, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("investment %s: %w", symbol, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, &contracts.PersistenceError{Tier: l.backup.Name(), Namespace: store.NamespaceInvestments, Key: symbol, Err: err}
	}

	// self-heal: primary 재적재
	if err := store.SetJSON(ctx, l.primary, store.NamespaceInvestments, symbol, rec); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to repopulate primary from backup")
	} else {
		l.logger.WithField("symbol", symbol).Info("Primary restored from backup")
	}
	return &rec, nil
}

// findTombstone checks the primary tier first, then the backup
func (l *Ledger) findTombstone(ctx context.Context, symbol string) (*contracts.SoldTombstone, bool, error) {
	var tomb contracts.SoldTombstone

	err := store.GetJSON(ctx, l.primary, store.NamespaceTombstones, symbol, &tomb)
	if err == nil {
		return &tomb, true, nil
	}

	err = store.GetJSON(ctx, l.backup, store.NamespaceTombstones, symbol, &tomb)
	if err == nil {
		return &tomb, true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	return nil, false, &contracts.PersistenceError{Tier: l.backup.Name(), Namespace: store.NamespaceTombstones, Key: symbol, Err: err}
}

// purgeStale resolves a reconciliation conflict in favor of the tombstone
func (l *Ledger) purgeStale(ctx context.Context, symbol string) bool {
	purged := false
	for _, kv := range []store.KV{l.primary, l.backup} {
		if _, err := kv.Get(ctx, store.NamespaceInvestments, symbol); err != nil {
			continue
		}
		if err := kv.Delete(ctx, store.NamespaceInvestments, symbol); err != nil {
			l.logger.WithError(err).WithFields(map[string]interface{}{
				"symbol": symbol,
				"tier":   kv.Name(),
			}).Warn("Failed to purge stale record")
			continue
		}
		purged = true
		l.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"tier":   kv.Name(),
		}).Warn("Stale record purged (tombstone wins)")
	}
	return purged
}

// writeRecord mirrors to the backup, then writes the primary.
// Backup failure only flags divergence; both failing is an error.
func (l *Ledger) writeRecord(ctx context.Context, rec *contracts.InvestmentRecord) error {
	return l.writeBoth(ctx, store.NamespaceInvestments, rec.Symbol, rec)
}

func (l *Ledger) writeBoth(ctx context.Context, namespace, symbol string, value interface{}) error {
	backupErr := store.SetJSON(ctx, l.backup, namespace, symbol, value)
	if backupErr != nil {
		l.markDivergent(namespace, symbol, backupErr)
	} else {
		l.clearDivergent(symbol)
	}

	primaryErr := store.SetJSON(ctx, l.primary, namespace, symbol, value)
	if primaryErr == nil {
		return nil
	}
	if backupErr != nil {
		return &contracts.PersistenceError{Tier: l.primary.Name(), Namespace: namespace, Key: symbol, Err: primaryErr}
	}

	l.logger.WithError(primaryErr).WithField("symbol", symbol).Warn("Primary write failed, backup holds the record")
	return nil
}

func (l *Ledger) deleteBoth(ctx context.Context, namespace, symbol string) {
	for _, kv := range []store.KV{l.backup, l.primary} {
		if err := kv.Delete(ctx, namespace, symbol); err != nil {
			l.logger.WithError(err).WithFields(map[string]interface{}{
				"symbol":    symbol,
				"namespace": namespace,
				"tier":      kv.Name(),
			}).Warn("Delete failed")
		}
	}
}

func (l *Ledger) markDivergent(namespace, symbol string, err error) {
	l.divergentMu.Lock()
	l.divergent[symbol] = l.now()
	l.divergentMu.Unlock()

	l.logger.WithError(&contracts.PersistenceError{Tier: l.backup.Name(), Namespace: namespace, Key: symbol, Err: err}).
		WithField("symbol", symbol).
		Error("Backup write failed, symbol flagged divergent")
}

func (l *Ledger) clearDivergent(symbol string) {
	l.divergentMu.Lock()
	delete(l.divergent, symbol)
	l.divergentMu.Unlock()
}

func (l *Ledger) isDivergent(symbol string) bool {
	l.divergentMu.Lock()
	defer l.divergentMu.Unlock()
	_, ok := l.divergent[symbol]
	return ok
}

// allSymbols unions the keys of both tiers for a namespace
func (l *Ledger) allSymbols(ctx context.Context, namespace string) ([]string, error) {
	seen := make(map[string]struct{})

	primaryKeys, err := l.primary.Keys(ctx, namespace)
	if err != nil {
		l.logger.WithError(err).Warn("Primary key listing failed")
	}
	backupKeys, berr := l.backup.Keys(ctx, namespace)
	if berr != nil && err != nil {
		return nil, &contracts.PersistenceError{Tier: l.backup.Name(), Namespace: namespace, Err: berr}
	}

	for _, k := range append(primaryKeys, backupKeys...) {
		seen[k] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
