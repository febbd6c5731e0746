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
	"github.com/AleutianAI/AleutianPOMCP/services/planner/belief"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/stats"
)

// QNode is an action node: the outcome of taking one action from a
// decision node.
//
// Children are indexed by observation and stored as arena handles. An
// absent child is the zero handle.
type QNode struct {
	// Value is the mean discounted return after taking the action.
	Value stats.Value

	// AMAF carries the knowledge prior alongside Value.
	AMAF stats.Value

	children []pool.Handle
}

// Child returns the decision node reached by observation, if any.
func (q *QNode) Child(observation int) (pool.Handle, bool) {
	if observation < 0 || observation >= len(q.children) {
		return pool.Handle{}, false
	}
	h := q.children[observation]
	return h, h.Valid()
}

// NumChildren returns the number of observations with a decision node.
func (q *QNode) NumChildren() int {
	n := 0
	for _, h := range q.children {
		if h.Valid() {
			n++
		}
	}
	return n
}

func (q *QNode) setChild(observation, numObservations int, h pool.Handle) {
	if len(q.children) == 0 {
		if cap(q.children) >= numObservations {
			q.children = q.children[:numObservations]
		} else {
			q.children = make([]pool.Handle, numObservations)
		}
	}
	q.children[observation] = h
}

func (q *QNode) reset() {
	q.Value.Set(0, 0)
	q.AMAF.Set(0, 0)
	clear(q.children)
	q.children = q.children[:0]
}

// VNode is a decision node. It owns the particles that reached it during
// search and one action node per action.
type VNode struct {
	// Value is the mean discounted return from this node.
	Value stats.Value

	// Beliefs holds the particles consistent with reaching this node.
	Beliefs belief.State

	children []QNode
}

// Child returns the action node for action. It panics with a
// *ContractError when action is out of range.
func (v *VNode) Child(action int) *QNode {
	if action < 0 || action >= len(v.children) {
		contractViolation("VNode.Child", "action %d outside [0, %d)", action, len(v.children))
	}
	return &v.children[action]
}

// NumActions returns the number of action children.
func (v *VNode) NumActions() int {
	return len(v.children)
}

func (v *VNode) setChildren(count, value float64) {
	for i := range v.children {
		v.children[i].Value.Set(count, value)
		v.children[i].AMAF.Set(count, value)
	}
}

func (v *VNode) resize(numActions int) {
	if cap(v.children) < numActions {
		v.children = make([]QNode, numActions)
		return
	}
	v.children = v.children[:numActions]
}

// resetVNode prepares a released node for reuse. The belief must already be
// empty; Tree.FreeSubtree frees it before releasing the slot.
func resetVNode(v *VNode) {
	v.Value.Set(0, 0)
	for i := range v.children {
		v.children[i].reset()
	}
	v.children = v.children[:0]
}
