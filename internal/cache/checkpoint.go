package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// LastClearKey is the persisted key holding the time of the last purge.
const LastClearKey = "lastCacheClearTime"

// Checkpoint persists the time of the last cache purge.
type Checkpoint interface {
	LastClear(ctx context.Context) (time.Time, bool, error)
	RecordClear(ctx context.Context, at time.Time) error
}

// BadgerCheckpoint stores the checkpoint as epoch milliseconds in a badger database.
type BadgerCheckpoint struct {
	db *badger.DB
}

// OpenBadgerCheckpoint opens the checkpoint database at path. An empty path opens an in-memory database.
func OpenBadgerCheckpoint(path string) (*BadgerCheckpoint, error) {
	opts := badger.DefaultOptions(path)
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	return &BadgerCheckpoint{db: db}, nil
}

// Close closes the underlying database.
func (c *BadgerCheckpoint) Close() error {
	return c.db.Close()
}

// LastClear returns the recorded purge time. found is false when nothing was recorded.
func (c *BadgerCheckpoint) LastClear(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var raw string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(LastClearKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid checkpoint value %q: %w", raw, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

// RecordClear stores at as the last purge time.
func (c *BadgerCheckpoint) RecordClear(ctx context.Context, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value := strconv.FormatInt(at.UnixMilli(), 10)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(LastClearKey), []byte(value))
	})
}
