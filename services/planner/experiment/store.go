// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StoreConfig holds configuration for the results store.
type StoreConfig struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory keeps results in RAM only. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites.
	GCDiscardRatio float64
}

// DefaultStoreConfig returns durable defaults for the results database at path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns a configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// SweepMeta describes one invocation of a sweep or multi-run.
type SweepMeta struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Domain  string    `json:"domain"`
	Started time.Time `json:"started"`
}

// Store persists sweep metadata, episodes and sweep rows in BadgerDB.
//
// Keys are laid out so that one prefix scan returns everything recorded
// for a sweep, in order:
//
//	sweep/{id}/meta
//	sweep/{id}/episode/{seq:08d}
//	sweep/{id}/row/{simulations:010d}
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db       *badger.DB
	stopGC   chan struct{}
	gcDone   chan struct{}
	logger   *slog.Logger
	inMemory bool
}

// OpenStore opens the results database and starts value log GC when
// configured.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent results store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create results directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open results store: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
			db.Close()
			return nil, errors.New("gc discard ratio must be between 0 and 1")
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing needed collecting.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("results store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}

// Sync flushes pending writes. A no-op in memory.
func (s *Store) Sync() error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

func sweepPrefix(id string) []byte {
	return []byte("sweep/" + id + "/")
}

// SaveSweep records the metadata of a sweep.
func (s *Store) SaveSweep(ctx context.Context, meta SweepMeta) error {
	return s.put(ctx, append(sweepPrefix(meta.ID), "meta"...), meta)
}

// SaveEpisode records episode seq of sweep id.
func (s *Store) SaveEpisode(ctx context.Context, id string, seq int, ep Episode) error {
	return s.put(ctx, fmt.Appendf(sweepPrefix(id), "episode/%08d", seq), ep)
}

// SaveSweepRow records one DiscountedReturn sweep point.
func (s *Store) SaveSweepRow(ctx context.Context, id string, row SweepRow) error {
	return s.put(ctx, fmt.Appendf(sweepPrefix(id), "row/%010d", row.Simulations), row)
}

// SaveAverageRow records one AverageReward sweep point.
func (s *Store) SaveAverageRow(ctx context.Context, id string, row AverageRow) error {
	return s.put(ctx, fmt.Appendf(sweepPrefix(id), "avg/%010d", row.Simulations), row)
}

// Sweep returns the metadata of sweep id.
func (s *Store) Sweep(ctx context.Context, id string) (SweepMeta, error) {
	var meta SweepMeta
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(append(sweepPrefix(id), "meta"...))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return SweepMeta{}, fmt.Errorf("load sweep %s: %w", id, err)
	}
	return meta, nil
}

// Episodes returns the episodes of sweep id in recording order.
func (s *Store) Episodes(ctx context.Context, id string) ([]Episode, error) {
	return scan[Episode](ctx, s, append(sweepPrefix(id), "episode/"...))
}

// SweepRows returns the DiscountedReturn rows of sweep id by simulation count.
func (s *Store) SweepRows(ctx context.Context, id string) ([]SweepRow, error) {
	return scan[SweepRow](ctx, s, append(sweepPrefix(id), "row/"...))
}

// AverageRows returns the AverageReward rows of sweep id by simulation count.
func (s *Store) AverageRows(ctx context.Context, id string) ([]AverageRow, error) {
	return scan[AverageRow](ctx, s, append(sweepPrefix(id), "avg/"...))
}

func (s *Store) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

func scan[T any](ctx context.Context, s *Store, prefix []byte) ([]T, error) {
	var out []T
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
