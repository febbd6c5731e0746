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
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStore_RequiresPath(t *testing.T) {
	_, err := OpenStore(StoreConfig{})
	assert.Error(t, err)
}

func TestOpenStore_RejectsBadDiscardRatio(t *testing.T) {
	cfg := DefaultStoreConfig(t.TempDir())
	cfg.GCDiscardRatio = 1
	_, err := OpenStore(cfg)
	assert.Error(t, err)
}

func TestStore_SweepMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := SweepMeta{ID: "s1", Kind: "discounted_return", Domain: "rocksample", Started: started}
	require.NoError(t, store.SaveSweep(ctx, meta))

	got, err := store.Sweep(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = store.Sweep(ctx, "missing")
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestStore_EpisodesKeepRecordingOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Sequence numbers past 9 must still sort after the single digits.
	for seq := 1; seq <= 12; seq++ {
		ep := Episode{ID: "ep", Steps: seq, Elapsed: time.Duration(seq) * time.Millisecond}
		require.NoError(t, store.SaveEpisode(ctx, "s1", seq, ep))
	}
	require.NoError(t, store.SaveEpisode(ctx, "s2", 1, Episode{Steps: 99}))

	episodes, err := store.Episodes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, episodes, 12)
	for i, ep := range episodes {
		assert.Equal(t, i+1, ep.Steps)
		assert.Equal(t, time.Duration(i+1)*time.Millisecond, ep.Elapsed)
	}
}

func TestStore_RowsOrderedBySimulations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, sims := range []int{1024, 1, 32} {
		require.NoError(t, store.SaveSweepRow(ctx, "s1", SweepRow{Simulations: sims, Runs: 2}))
		require.NoError(t, store.SaveAverageRow(ctx, "s1", AverageRow{Simulations: sims, Steps: 3}))
	}

	rows, err := store.SweepRows(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{1, 32, 1024}, []int{rows[0].Simulations, rows[1].Simulations, rows[2].Simulations})

	avg, err := store.AverageRows(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, avg, 3)
	assert.Equal(t, 1024, avg[2].Simulations)

	empty, err := store.SweepRows(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveSweep(ctx, SweepMeta{ID: "s1"}), context.Canceled)
	_, err := store.Episodes(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	ctx := context.Background()

	cfg := DefaultStoreConfig(dir)
	cfg.GCInterval = time.Hour
	store, err := OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.SaveEpisode(ctx, "s1", 1, Episode{ID: "a", Terminated: true}))
	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())

	store, err = OpenStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	episodes, err := store.Episodes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "a", episodes[0].ID)
	assert.True(t, episodes[0].Terminated)
}

func TestResults_TotalTime(t *testing.T) {
	var r Results
	r.Time.Add(0.5)
	r.Time.Add(1.5)
	assert.Equal(t, 2*time.Second, r.TotalTime())

	r.Clear()
	assert.Zero(t, r.TotalTime())
}
