package store

import (
	"context"
	"fmt"

	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/database"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

// OpenPrimary returns the fast tier: redis when enabled, memory otherwise
func OpenPrimary(cfg *config.Config, rc *redis.Client, log *logger.Logger) KV {
	if rc != nil && rc.Enabled() {
		kv, err := NewRedisKV(redis.NewCache(rc, cfg.Redis.Prefix))
		if err == nil {
			log.WithField("tier", "redis").Info("Primary store ready")
			return kv
		}
	}
	log.WithField("tier", "memory").Info("Primary store ready")
	return NewMemoryKV()
}

// OpenBackup opens the durable tier selected by BACKUP_DRIVER.
// The returned close func releases the tier and any pool it opened.
func OpenBackup(ctx context.Context, cfg *config.Config, log *logger.Logger) (KV, func(), error) {
	switch cfg.Backup.Driver {
	case "postgres":
		db, err := database.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres backup: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.WithField("tier", "postgres").Info("Backup store ready")
		return NewPostgresKV(db), db.Close, nil

	case "memory":
		log.WithField("tier", "memory").Warn("Backup store is not durable")
		return NewMemoryKV(), func() {}, nil

	default:
		kv, err := OpenBadger(cfg.Backup.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(map[string]interface{}{
			"tier": "badger",
			"path": cfg.Backup.BadgerPath,
		}).Info("Backup store ready")
		return kv, func() { _ = kv.Close() }, nil
	}
}
