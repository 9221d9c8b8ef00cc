package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/store"
)

// SyncReport summarizes one consistency sweep
type SyncReport struct {
	Restored           []string      `json:"restored"`            // backup -> primary
	Purged             []string      `json:"purged"`              // tombstone 충돌로 삭제
	Remirrored         []string      `json:"remirrored"`          // primary -> backup
	TombstonesMirrored []string      `json:"tombstones_mirrored"` // tombstone 양쪽 티어 보정
	StillDivergent     []string      `json:"still_divergent"`
	Duration           time.Duration `json:"duration"`
}

// SyncAll repairs both tiers:
// restores primary entries missing relative to the backup, purges records
// that conflict with a tombstone, and re-mirrors records whose backup write
// failed earlier.
func (l *Ledger) SyncAll(ctx context.Context) (*SyncReport, error) {
	start := l.now()
	report := &SyncReport{}

	if err := l.syncTombstones(ctx, report); err != nil {
		return nil, err
	}

	symbols, err := l.allSymbols(ctx, store.NamespaceInvestments)
	if err != nil {
		return nil, err
	}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		l.syncSymbol(ctx, symbol, report)
	}

	report.StillDivergent = l.Divergent()
	report.Duration = l.now().Sub(start)

	l.logger.WithFields(map[string]interface{}{
		"restored":        len(report.Restored),
		"purged":          len(report.Purged),
		"remirrored":      len(report.Remirrored),
		"tombstones":      len(report.TombstonesMirrored),
		"still_divergent": len(report.StillDivergent),
	}).Info("Ledger sync completed")
	return report, nil
}

func (l *Ledger) syncSymbol(ctx context.Context, symbol string, report *SyncReport) {
	unlock := l.locks.Lock(symbol)
	defer unlock()

	_, tombstoned, err := l.findTombstone(ctx, symbol)
	if err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Warn("Tombstone lookup failed during sync")
		return
	}
	if tombstoned {
		if l.purgeStale(ctx, symbol) {
			report.Purged = append(report.Purged, symbol)
		}
		return
	}

	_, primaryErr := l.primary.Get(ctx, store.NamespaceInvestments, symbol)
	backupData, backupErr := l.backup.Get(ctx, store.NamespaceInvestments, symbol)

	switch {
	case errors.Is(primaryErr, store.ErrNotFound) && backupErr == nil:
		if err := l.primary.Set(ctx, store.NamespaceInvestments, symbol, backupData); err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("Restore to primary failed")
			return
		}
		report.Restored = append(report.Restored, symbol)

	case primaryErr == nil && (errors.Is(backupErr, store.ErrNotFound) || l.isDivergent(symbol)):
		var rec contracts.InvestmentRecord
		if err := store.GetJSON(ctx, l.primary, store.NamespaceInvestments, symbol, &rec); err != nil {
			return
		}
		if err := store.SetJSON(ctx, l.backup, store.NamespaceInvestments, symbol, rec); err != nil {
			l.markDivergent(store.NamespaceInvestments, symbol, err)
			return
		}
		l.clearDivergent(symbol)
		report.Remirrored = append(report.Remirrored, symbol)
	}
}

// syncTombstones makes sure both tiers hold every tombstone
func (l *Ledger) syncTombstones(ctx context.Context, report *SyncReport) error {
	primaryKeys, err := l.primary.Keys(ctx, store.NamespaceTombstones)
	if err != nil {
		primaryKeys = nil
	}
	backupKeys, err := l.backup.Keys(ctx, store.NamespaceTombstones)
	if err != nil {
		return &contracts.PersistenceError{Tier: l.backup.Name(), Namespace: store.NamespaceTombstones, Err: err}
	}

	inPrimary := toSet(primaryKeys)
	inBackup := toSet(backupKeys)

	for symbol := range inBackup {
		if _, ok := inPrimary[symbol]; ok {
			continue
		}
		if copyEntry(ctx, l.backup, l.primary, store.NamespaceTombstones, symbol) == nil {
			report.TombstonesMirrored = append(report.TombstonesMirrored, symbol)
		}
	}
	for symbol := range inPrimary {
		if _, ok := inBackup[symbol]; ok {
			continue
		}
		if err := copyEntry(ctx, l.primary, l.backup, store.NamespaceTombstones, symbol); err != nil {
			l.markDivergent(store.NamespaceTombstones, symbol, err)
			continue
		}
		l.clearDivergent(symbol)
		report.TombstonesMirrored = append(report.TombstonesMirrored, symbol)
	}
	return nil
}

func copyEntry(ctx context.Context, from, to store.KV, namespace, key string) error {
	data, err := from.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	return to.Set(ctx, namespace, key, data)
}

func toSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}
