package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wonny/cyclebot/pkg/logger"
)

// MirroredKV writes through to both tiers and reads the primary first.
// Engine state (cycle, schedule) lives here so it survives a restart even
// when the primary tier is process memory.
type MirroredKV struct {
	primary KV
	backup  KV
	logger  *logger.Logger
}

// NewMirroredKV pairs a fast primary with a durable backup.
// Close is a no-op; each tier is closed by whoever opened it.
func NewMirroredKV(primary, backup KV, log *logger.Logger) *MirroredKV {
	return &MirroredKV{primary: primary, backup: backup, logger: log}
}

func (m *MirroredKV) Name() string {
	return m.primary.Name() + "+" + m.backup.Name()
}

// Get falls back to the backup on a primary miss and repopulates the primary
func (m *MirroredKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := m.primary.Get(ctx, namespace, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"namespace": namespace,
			"key":       key,
		}).Warn("Primary read failed, falling back to backup")
	}

	data, err = m.backup.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}

	if err := m.primary.Set(ctx, namespace, key, data); err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("Failed to repopulate primary from backup")
	}
	return data, nil
}

// Set writes the backup, then the primary. Only both failing is an error.
func (m *MirroredKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	backupErr := m.backup.Set(ctx, namespace, key, value)
	if backupErr != nil {
		m.logger.WithError(backupErr).WithFields(map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"tier":      m.backup.Name(),
		}).Error("Backup write failed")
	}

	primaryErr := m.primary.Set(ctx, namespace, key, value)
	if primaryErr != nil && backupErr != nil {
		return fmt.Errorf("%s: set %s/%s: %w", m.Name(), namespace, key, primaryErr)
	}
	return nil
}

func (m *MirroredKV) Delete(ctx context.Context, namespace, key string) error {
	backupErr := m.backup.Delete(ctx, namespace, key)
	primaryErr := m.primary.Delete(ctx, namespace, key)
	return errors.Join(backupErr, primaryErr)
}

// Keys returns the sorted union of both tiers
func (m *MirroredKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, kv := range []KV{m.primary, m.backup} {
		keys, err := kv.Keys(ctx, namespace)
		if err != nil {
			return nil, fmt.Errorf("%s: keys %s: %w", kv.Name(), namespace, err)
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MirroredKV) Close() error { return nil }
