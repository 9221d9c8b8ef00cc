// Package store provides the namespaced key/value tiers the ledger,
// target state machine and scheduler persist through.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespaces
const (
	NamespaceInvestments = "investments"
	NamespaceTombstones  = "tombstones"
	NamespaceCycle       = "cycle"
	NamespaceSchedule    = "schedule"
)

// ErrNotFound is returned by Get when the key is absent
var ErrNotFound = errors.New("store: key not found")

// KV is a namespaced byte store
// ⭐ SSOT: 모든 영속화는 이 인터페이스를 통해서만
type KV interface {
	Name() string
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
	Close() error
}

// GetJSON decodes the value at namespace/key into dest
func GetJSON(ctx context.Context, kv KV, namespace, key string, dest interface{}) error {
	data, err := kv.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%s: decode %s/%s: %w", kv.Name(), namespace, key, err)
	}
	return nil
}

// SetJSON encodes value and stores it at namespace/key
func SetJSON(ctx context.Context, kv KV, namespace, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: encode %s/%s: %w", kv.Name(), namespace, key, err)
	}
	return kv.Set(ctx, namespace, key, data)
}
