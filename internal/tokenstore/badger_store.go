package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps entries in memory only.
	InMemory bool
	Logger   *zap.Logger
}

// BadgerStore persists credential entries in an embedded BadgerDB directory.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (adapter *badgerLogger) Errorf(format string, args ...interface{}) {
	adapter.sugar.Errorf(format, args...)
}

func (adapter *badgerLogger) Warningf(format string, args ...interface{}) {
	adapter.sugar.Warnf(format, args...)
}

func (adapter *badgerLogger) Infof(format string, args ...interface{}) {
	adapter.sugar.Debugf(format, args...)
}

func (adapter *badgerLogger) Debugf(format string, args ...interface{}) {
	adapter.sugar.Debugf(format, args...)
}

// NewBadgerStore opens (creating if needed) a BadgerDB-backed store.
func NewBadgerStore(configuration BadgerConfig) (*BadgerStore, error) {
	var options badger.Options
	if configuration.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(configuration.Path) == "" {
			return nil, fmt.Errorf("token_store.open.badger: %w", errBadgerEmptyPath)
		}
		if err := os.MkdirAll(configuration.Path, 0o700); err != nil {
			return nil, fmt.Errorf("token_store.open.badger: %w", err)
		}
		options = badger.DefaultOptions(configuration.Path).WithSyncWrites(true)
	}
	options = options.WithNumVersionsToKeep(1)
	if configuration.Logger != nil {
		options = options.WithLogger(&badgerLogger{sugar: configuration.Logger.Sugar()})
	} else {
		options = options.WithLogger(nil)
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("token_store.open.badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Driver identifies the backend.
func (store *BadgerStore) Driver() string {
	return "badger"
}

// Get loads the entry stored under key.
func (store *BadgerStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("token_store.get.badger: %w", ErrEmptyKey)
	}
	var value []byte
	found := true
	err := store.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(key))
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if getErr != nil {
			return getErr
		}
		copied, copyErr := item.ValueCopy(nil)
		if copyErr != nil {
			return copyErr
		}
		value = copied
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("token_store.get.badger: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return string(value), true, nil
}

// Set stores value under key.
func (store *BadgerStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("token_store.set.badger: %w", ErrEmptyKey)
	}
	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("token_store.set.badger: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (store *BadgerStore) Delete(ctx context.Context, key string) error {
	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("token_store.delete.badger: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (store *BadgerStore) Close() error {
	return store.db.Close()
}
