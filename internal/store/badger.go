package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerKV is the embedded durable tier
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path
func OpenBadger(path string) (*BadgerKV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("badger: path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger open %s: %w", path, err)
	}
	return &BadgerKV{db: db}, nil
}

// OpenBadgerInMemory opens a non-persistent badger instance (tests)
func OpenBadgerInMemory() (*BadgerKV, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger open in-memory: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func badgerKey(namespace, key string) []byte {
	return []byte(namespace + "/" + key)
}

func (b *BadgerKV) Name() string { return "badger" }

func (b *BadgerKV) Get(_ context.Context, namespace, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(namespace, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s/%s: %w", namespace, key, err)
	}
	return out, nil
}

func (b *BadgerKV) Set(_ context.Context, namespace, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(namespace, key), value)
	})
	if err != nil {
		return fmt.Errorf("badger set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (b *BadgerKV) Delete(_ context.Context, namespace, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(namespace, key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (b *BadgerKV) Keys(_ context.Context, namespace string) ([]string, error) {
	prefix := []byte(namespace + "/")
	keys := make([]string, 0)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger keys %s: %w", namespace, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *BadgerKV) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
