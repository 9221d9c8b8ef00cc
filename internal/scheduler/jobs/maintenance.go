package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/pkg/logger"
)

// StaleCleaner evicts stale live prices
type StaleCleaner interface {
	CleanStale() int
}

// LedgerSyncer reconciles the ledger tiers
type LedgerSyncer interface {
	SyncAll(ctx context.Context) (*ledger.SyncReport, error)
}

// CacheCleanupJob cleans stale prices from the live price cache
type CacheCleanupJob struct {
	cache  StaleCleaner
	logger *logger.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job
func NewCacheCleanupJob(c StaleCleaner, log *logger.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache:  c,
		logger: log,
	}
}

func (j *CacheCleanupJob) Name() string { return "price_cache_cleanup" }

// Schedule returns the cron schedule (every 5 minutes)
func (j *CacheCleanupJob) Schedule() string { return "0 */5 * * * *" }

// Run executes the cache cleanup
func (j *CacheCleanupJob) Run(ctx context.Context) error {
	if count := j.cache.CleanStale(); count > 0 {
		j.logger.WithField("removed", count).Info("Price cache cleanup completed")
	}
	return nil
}

// LedgerSyncJob repairs primary/backup divergence
type LedgerSyncJob struct {
	ledger LedgerSyncer
	logger *logger.Logger
}

// NewLedgerSyncJob creates a ledger sync job
func NewLedgerSyncJob(l LedgerSyncer, log *logger.Logger) *LedgerSyncJob {
	return &LedgerSyncJob{
		ledger: l,
		logger: log,
	}
}

func (j *LedgerSyncJob) Name() string { return "ledger_sync" }

// Schedule returns the cron schedule (every 5 minutes, offset from cleanup)
func (j *LedgerSyncJob) Schedule() string { return "30 */5 * * * *" }

// Run executes SyncAll; remaining divergence fails the run so it is retried
func (j *LedgerSyncJob) Run(ctx context.Context) error {
	report, err := j.ledger.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}

	fields := map[string]interface{}{
		"restored":   len(report.Restored),
		"purged":     len(report.Purged),
		"remirrored": len(report.Remirrored),
		"divergent":  len(report.StillDivergent),
		"duration":   report.Duration,
	}
	if len(report.StillDivergent) > 0 {
		j.logger.WithFields(fields).Warn("Ledger tiers still divergent")
		return fmt.Errorf("ledger sync: %d symbols still divergent", len(report.StillDivergent))
	}

	j.logger.WithFields(fields).Debug("Ledger sync completed")
	return nil
}
