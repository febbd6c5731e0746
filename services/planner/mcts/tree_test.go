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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// recoverContractError runs fn and returns the *ContractError it panicked
// with, or nil.
func recoverContractError(fn func()) (ce *ContractError) {
	defer func() {
		if r := recover(); r != nil {
			ce, _ = r.(*ContractError)
		}
	}()
	fn()
	return nil
}

func TestTree_TeardownReleasesEverything(t *testing.T) {
	sim := newBanditSim()
	tree := NewTree(sim, 0)
	var h simulator.History
	var st simulator.Status

	start := sim.CreateStartState()
	root := tree.Expand(start, &h, &st)
	sim.Free(start)

	// Two levels of children, each holding particles.
	rootNode := tree.Node(root)
	for a := 0; a < sim.NumActions(); a++ {
		for obs := 0; obs < sim.NumObservations(); obs++ {
			child := tree.ExpandChild(rootNode.Child(a), obs, nil, &h, &st)
			childNode := tree.Node(child)
			childNode.Beliefs.AddSample(sim.CreateStartState())
			grand := tree.ExpandChild(childNode.Child(0), 0, nil, &h, &st)
			tree.Node(grand).Beliefs.AddSample(sim.CreateStartState())
		}
	}
	rootNode.Beliefs.AddSample(sim.CreateStartState())

	require.Equal(t, 1+4+4, tree.Live())
	require.Equal(t, int64(9), sim.live.Load())

	tree.FreeSubtree(root)

	assert.Equal(t, 0, tree.Live(), "outstanding nodes after teardown")
	assert.Equal(t, int64(0), sim.live.Load(), "outstanding particles after teardown")
	assert.Equal(t, int64(0), sim.doubleFrees.Load())

	ce := recoverContractError(func() { tree.Node(root) })
	require.NotNil(t, ce, "stale handle lookup should panic")
	assert.True(t, errors.Is(ce, pool.ErrStaleHandle))
}

func TestTree_ReusedNodesStartClean(t *testing.T) {
	sim := newBanditSim()
	tree := NewTree(sim, 0)
	var h simulator.History
	var st simulator.Status

	root := tree.Expand(nil, &h, &st)
	v := tree.Node(root)
	v.Value.Add(3)
	v.Child(1).Value.Add(7)
	tree.ExpandChild(v.Child(1), 1, nil, &h, &st)
	tree.FreeSubtree(root)

	root = tree.Expand(nil, &h, &st)
	v = tree.Node(root)
	assert.Equal(t, 1, tree.Live())
	assert.Equal(t, 0.0, v.Value.Count())
	for a := 0; a < v.NumActions(); a++ {
		assert.Equal(t, 0.0, v.Child(a).Value.Count(), "action %d", a)
		assert.Equal(t, 0, v.Child(a).NumChildren(), "action %d", a)
	}
	tree.FreeSubtree(root)
}

func TestTree_PriorSeeding(t *testing.T) {
	tests := []struct {
		name      string
		level     simulator.Level
		nilState  bool
		wantCount []float64
		wantValue []float64
	}{
		{
			name:      "pure ignores legality",
			level:     simulator.LevelPure,
			wantCount: []float64{0, 0, 0},
			wantValue: []float64{0, 0, 0},
		},
		{
			name:      "nil state has no prior",
			level:     simulator.LevelSmart,
			nilState:  true,
			wantCount: []float64{0, 0, 0},
			wantValue: []float64{0, 0, 0},
		},
		{
			name:      "legal marks illegal actions",
			level:     simulator.LevelLegal,
			wantCount: []float64{0, illegalCount, 0},
			wantValue: []float64{0, math.Inf(-1), 0},
		},
		{
			name:      "smart seeds preferred actions",
			level:     simulator.LevelSmart,
			wantCount: []float64{0, illegalCount, 10},
			wantValue: []float64{0, math.Inf(-1), 1},
		},
		{
			name:      "pgs seeds legal actions only",
			level:     simulator.LevelPGS,
			wantCount: []float64{0, illegalCount, 0},
			wantValue: []float64{0, math.Inf(-1), 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newPriorSim(tt.level, []int{0, 2}, []int{2})
			tree := NewTree(sim, 0)
			var h simulator.History
			var st simulator.Status

			var state simulator.State
			if !tt.nilState {
				state = sim.CreateStartState()
				defer sim.Free(state)
			}
			root := tree.Expand(state, &h, &st)
			v := tree.Node(root)
			for a := 0; a < 3; a++ {
				assert.Equal(t, tt.wantCount[a], v.Child(a).Value.Count(), "count of action %d", a)
				assert.Equal(t, tt.wantValue[a], v.Child(a).Value.Value(), "value of action %d", a)
				assert.Equal(t, tt.wantCount[a], v.Child(a).AMAF.Count(), "AMAF count of action %d", a)
			}
			tree.FreeSubtree(root)
		})
	}
}

func TestTree_ContractViolations(t *testing.T) {
	t.Run("observation out of range", func(t *testing.T) {
		sim := newBanditSim()
		tree := NewTree(sim, 0)
		var h simulator.History
		var st simulator.Status
		root := tree.Expand(nil, &h, &st)

		ce := recoverContractError(func() {
			tree.ExpandChild(tree.Node(root).Child(0), sim.NumObservations(), nil, &h, &st)
		})
		require.NotNil(t, ce)
		assert.Equal(t, "Tree.ExpandChild", ce.Op)
		assert.Equal(t, 1, tree.Live(), "failed expansion must not allocate")
	})

	t.Run("legal action out of range", func(t *testing.T) {
		sim := newPriorSim(simulator.LevelLegal, []int{0, 3}, nil)
		tree := NewTree(sim, 0)
		var h simulator.History
		var st simulator.Status
		state := sim.CreateStartState()
		defer sim.Free(state)

		ce := recoverContractError(func() { tree.Expand(state, &h, &st) })
		require.NotNil(t, ce)
		assert.Equal(t, "GenerateLegal", ce.Op)
	})

	t.Run("action out of range", func(t *testing.T) {
		var v VNode
		v.resize(2)
		ce := recoverContractError(func() { v.Child(2) })
		require.NotNil(t, ce)
	})

	t.Run("node limit", func(t *testing.T) {
		sim := newBanditSim()
		tree := NewTree(sim, 1)
		var h simulator.History
		var st simulator.Status
		tree.Expand(nil, &h, &st)

		ce := recoverContractError(func() { tree.Expand(nil, &h, &st) })
		require.NotNil(t, ce)
		assert.True(t, errors.Is(ce, pool.ErrExhausted))
	})
}
