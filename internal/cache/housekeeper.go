// Package cache purges the local on-disk catalog cache on a time gate.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultInterval is the minimum time between automatic purges.
const DefaultInterval = time.Hour

// Config configures a Housekeeper.
type Config struct {
	Fs         afero.Fs
	Dir        string
	Checkpoint Checkpoint
	Interval   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Housekeeper deletes cache directory entries and records when it last did so.
type Housekeeper struct {
	fs         afero.Fs
	dir        string
	checkpoint Checkpoint
	interval   time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewHousekeeper validates cfg and constructs a Housekeeper.
func NewHousekeeper(cfg Config) (*Housekeeper, error) {
	if cfg.Fs == nil {
		return nil, errors.New("cache: filesystem required")
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("cache: directory required")
	}
	if cfg.Checkpoint == nil {
		return nil, errors.New("cache: checkpoint required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{
		fs:         cfg.Fs,
		dir:        filepath.Clean(dir),
		checkpoint: cfg.Checkpoint,
		interval:   interval,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Interval returns the purge interval.
func (h *Housekeeper) Interval() time.Duration {
	return h.interval
}

// Clear deletes every entry of the cache directory. The directory itself is kept.
func (h *Housekeeper) Clear(ctx context.Context) (int, error) {
	entries, err := afero.ReadDir(h.fs, h.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := h.fs.RemoveAll(filepath.Join(h.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	h.logger.Info("cache cleared", zap.String("dir", h.dir), zap.Int("entries", removed))
	return removed, nil
}

// AutoClear purges the cache when no purge was recorded or the last one is at least
// one interval old. Failures are logged and reported as not cleared.
func (h *Housekeeper) AutoClear(ctx context.Context) bool {
	now := h.clock()
	last, found, err := h.checkpoint.LastClear(ctx)
	if err != nil {
		h.logger.Warn("cache checkpoint read failed", zap.Error(err))
		return false
	}
	if found && now.Sub(last) < h.interval {
		return false
	}
	if _, err := h.Clear(ctx); err != nil {
		h.logger.Warn("cache auto clear failed", zap.Error(err))
		return false
	}
	if err := h.checkpoint.RecordClear(ctx, now); err != nil {
		h.logger.Warn("cache checkpoint write failed", zap.Error(err))
	}
	return true
}

// Run calls AutoClear immediately and then once per interval until ctx ends.
func (h *Housekeeper) Run(ctx context.Context) {
	h.AutoClear(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.AutoClear(ctx)
		}
	}
}
