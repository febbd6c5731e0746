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
	"math"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// illegalCount seeds illegal actions so that their value is -Inf with an
// exploration bonus that never recovers.
const illegalCount = 1e6

// Tree allocates and releases decision nodes for one search tree.
//
// Every node returned by Expand must eventually be released by exactly
// one FreeSubtree call on it or an ancestor.
//
// Thread Safety: Not safe for concurrent use. Parallel workers own
// separate trees.
type Tree struct {
	sim       simulator.Simulator
	nodes     *pool.Arena[VNode]
	knowledge simulator.Knowledge

	numActions      int
	numObservations int
	buf             []int
}

// NewTree creates an empty tree for sim. A positive nodeLimit caps the
// number of node slots; exceeding it is fatal.
func NewTree(sim simulator.Simulator, nodeLimit int) *Tree {
	t := &Tree{
		sim:             sim,
		knowledge:       sim.Knowledge(),
		numActions:      sim.NumActions(),
		numObservations: sim.NumObservations(),
		nodes: pool.New[VNode](
			pool.WithReset(resetVNode),
			pool.WithLimit[VNode](nodeLimit),
		),
	}
	return t
}

// Expand allocates a decision node and seeds its action children with the
// world model's prior for state. A nil state yields a node with no prior.
func (t *Tree) Expand(state simulator.State, history *simulator.History, status *simulator.Status) pool.Handle {
	h, v, err := t.nodes.Alloc()
	if err != nil {
		panic(&ContractError{Op: "Tree.Expand", Err: err})
	}
	v.resize(t.numActions)
	t.seedPrior(v, state, history, status)
	return h
}

// ExpandChild expands a decision node under q for observation.
func (t *Tree) ExpandChild(q *QNode, observation int, state simulator.State, history *simulator.History, status *simulator.Status) pool.Handle {
	if observation < 0 || observation >= t.numObservations {
		contractViolation("Tree.ExpandChild", "observation %d outside [0, %d)", observation, t.numObservations)
	}
	h := t.Expand(state, history, status)
	q.setChild(observation, t.numObservations, h)
	return h
}

// seedPrior applies the tree knowledge level. Illegal actions get a -Inf
// value and legal ones start empty. At LevelSmart preferred actions get
// the smart prior; LevelPGS steers rollouts only and seeds no prior.
func (t *Tree) seedPrior(v *VNode, state simulator.State, history *simulator.History, status *simulator.Status) {
	v.Value.Set(0, 0)
	level := t.knowledge.TreeLevel
	if state == nil || level == simulator.LevelPure {
		v.setChildren(0, 0)
		return
	}

	v.setChildren(illegalCount, math.Inf(-1))

	t.buf = t.sim.GenerateLegal(t.buf[:0], state, history, status)
	for _, a := range t.buf {
		t.checkAction("GenerateLegal", a)
		q := &v.children[a]
		q.Value.Set(0, 0)
		q.AMAF.Set(0, 0)
	}

	if level != simulator.LevelSmart {
		return
	}
	t.buf = t.sim.GeneratePreferred(t.buf[:0], state, history, status)
	for _, a := range t.buf {
		t.checkAction("GeneratePreferred", a)
		q := &v.children[a]
		q.Value.Set(t.knowledge.SmartTreeCount, t.knowledge.SmartTreeValue)
		q.AMAF.Set(t.knowledge.SmartTreeCount, t.knowledge.SmartTreeValue)
	}
}

func (t *Tree) checkAction(op string, a int) {
	if a < 0 || a >= t.numActions {
		contractViolation(op, "action %d outside [0, %d)", a, t.numActions)
	}
}

// Node returns the decision node for h. A stale handle is a fatal
// contract violation.
func (t *Tree) Node(h pool.Handle) *VNode {
	v, err := t.nodes.Get(h)
	if err != nil {
		panic(&ContractError{Op: "Tree.Node", Err: err})
	}
	return v
}

// FreeSubtree releases h and every node below it, in post order, freeing
// each node's particles through the world model.
func (t *Tree) FreeSubtree(h pool.Handle) {
	v := t.Node(h)
	for i := range v.children {
		for _, child := range v.children[i].children {
			if child.Valid() {
				t.FreeSubtree(child)
			}
		}
	}
	v.Beliefs.Free(t.sim)
	if err := t.nodes.Free(h); err != nil {
		panic(&ContractError{Op: "Tree.FreeSubtree", Err: err})
	}
}

// Live returns the number of outstanding decision nodes.
func (t *Tree) Live() int {
	return t.nodes.Live()
}
