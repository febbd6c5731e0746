// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/belief"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/stats"
)

// helper is a root-parallel search worker with a private tree.
type helper struct {
	tree     *Tree
	root     pool.Handle
	rootBase []stats.Value
	table    *relevance.Table
	history  *simulator.History
	status   simulator.Status
	search   *searcher
}

// parallelSearch runs Parallel.Workers searchers against one shared budget.
//
// Each worker owns a fixed share of the simulations: NumSimulations/Workers,
// with the remainder going to the lowest worker indexes. The shared budget
// only stops workers early on the time limit or cancellation. Worker 0
// searches the live tree and the live relevance table. Every other worker
// searches a private tree rooted at the same belief with a forked table
// and, when the world model implements simulator.Forker, its own world
// model stream. Without a time limit the result is then fixed by the seed
// and the worker count. After all workers stop, their results are folded
// into the live tree in worker order:
//  1. Root action statistics gained by the worker
//  2. Particles collected at depth 1, moved into the matching live nodes
//  3. Relevance samples gained by the fork
//
// Private trees are then released in full.
func (e *Engine) parallelSearch(ctx context.Context, budget *SearchBudget) error {
	rootNode := e.tree.Node(e.root)
	source := &rootNode.Beliefs

	var base *relevance.Table
	if e.table != nil {
		base = e.table.Fork()
	}

	workers := e.cfg.Parallel.Workers
	total := int(budget.maxSimulations)
	quota := func(i int) int {
		q := total / workers
		if i < total%workers {
			q++
		}
		return q
	}

	e.search.quota = quota(0)
	defer func() { e.search.quota = -1 }()

	helpers := make([]*helper, workers-1)
	for i := range helpers {
		helpers[i] = e.newHelper(source, base, quota(i+1))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverContract(&err)
		e.search.run(gctx, e.root, source, budget)
		return nil
	})
	for _, h := range helpers {
		g.Go(func() (err error) {
			defer recoverContract(&err)
			h.search.run(gctx, h.root, source, budget)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			panic(ce)
		}
		for _, h := range helpers {
			h.tree.FreeSubtree(h.root)
		}
		return err
	}

	e.lastStats = e.search.stats
	for i, h := range helpers {
		if err := e.mergeHelper(h, base); err != nil {
			for _, rest := range helpers[i:] {
				rest.tree.FreeSubtree(rest.root)
			}
			return err
		}
		h.tree.FreeSubtree(h.root)
	}

	e.logger.Debug("Parallel search merged",
		slog.Int("workers", e.cfg.Parallel.Workers),
		slog.Int64("simulations", budget.Simulations()),
	)
	return nil
}

func (e *Engine) newHelper(source *belief.State, base *relevance.Table, quota int) *helper {
	rng := rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64()))
	sim := e.sim
	if f, ok := e.sim.(simulator.Forker); ok {
		sim = f.Fork(rng.Uint64())
	}
	h := &helper{
		tree:    NewTree(sim, 0),
		history: e.history.Clone(),
		status:  e.status,
	}
	if base != nil {
		h.table = base.Fork()
	}
	h.root = h.tree.Expand(source.Sample(0), h.history, &h.status)

	root := h.tree.Node(h.root)
	h.rootBase = make([]stats.Value, root.NumActions())
	for a := range h.rootBase {
		h.rootBase[a] = root.children[a].Value
	}
	h.search = newSearcher(sim, h.tree, h.table, h.history, &h.status, rng, e.cfg.Search)
	h.search.quota = quota
	return h
}

// mergeHelper folds one helper's results into the live tree and table.
func (e *Engine) mergeHelper(h *helper, base *relevance.Table) error {
	live := e.tree.Node(e.root)
	private := h.tree.Node(h.root)

	live.Value.Merge(private.Value)
	for a := range private.children {
		pq := &private.children[a]
		lq := &live.children[a]

		// Untouched actions keep their prior; their delta has no samples
		// and an illegal prior would otherwise turn into NaN.
		if d := pq.Value.Delta(h.rootBase[a]); d.Count() > 0 && !math.IsNaN(d.Total()) {
			lq.Value.Merge(d)
		}

		for obs, ch := range pq.children {
			if !ch.Valid() {
				continue
			}
			child := h.tree.Node(ch)
			if child.Beliefs.Empty() {
				continue
			}
			target, ok := lq.Child(obs)
			if !ok {
				e.history.Add(a, obs)
				target = e.tree.ExpandChild(lq, obs, child.Beliefs.Sample(0), &e.history, &e.status)
				e.history.Pop()
			}
			e.tree.Node(target).Beliefs.Move(&child.Beliefs)
		}
	}

	e.lastStats.Merge(h.search.stats)
	if e.table != nil {
		if err := e.table.Merge(base, h.table); err != nil {
			return fmt.Errorf("merge relevance: %w", err)
		}
	}
	return nil
}

// recoverContract turns a contract panic inside a worker into an error so
// that it can be re-raised on the calling goroutine.
func recoverContract(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if ce, ok := r.(*ContractError); ok {
		*err = ce
		return
	}
	*err = &ContractError{Op: "search worker", Err: fmt.Errorf("panic: %v", r)}
}
