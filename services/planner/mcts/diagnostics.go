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
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// DisplayStatistics writes the search statistics of the last SelectAction.
func (e *Engine) DisplayStatistics(w io.Writer) {
	e.lastStats.TreeDepth.Print(w, "Tree depth")
	e.lastStats.RolloutDepth.Print(w, "Rollout depth")
	e.lastStats.TotalReward.Print(w, "Total reward")
	fmt.Fprintln(w, e.lastReport)
}

// DisplayValue writes the value of every visited action node down to depth
// levels below the root, one line per node, prefixed by its history.
func (e *Engine) DisplayValue(w io.Writer, depth int) {
	fmt.Fprintln(w, "POMCP values:")
	var h simulator.History
	e.displayValue(w, e.root, &h, depth)
}

func (e *Engine) displayValue(w io.Writer, vh pool.Handle, h *simulator.History, depth int) {
	if depth <= 0 {
		return
	}
	v := e.tree.Node(vh)
	for a := range v.children {
		q := &v.children[a]
		if q.Value.Count() == 0 || math.IsInf(q.Value.Value(), -1) {
			continue
		}
		fmt.Fprintf(w, "%s%s: %s\n", indent(h.Len()), historyString(h, a), q.Value)
		for obs, child := range q.children {
			if !child.Valid() {
				continue
			}
			h.Add(a, obs)
			e.displayValue(w, child, h, depth-1)
			h.Pop()
		}
	}
}

// DisplayPolicy writes the greedy action of every decision node down to
// depth levels below the root.
func (e *Engine) DisplayPolicy(w io.Writer, depth int) {
	fmt.Fprintln(w, "POMCP policy:")
	var h simulator.History
	e.displayPolicy(w, e.root, &h, depth)
}

func (e *Engine) displayPolicy(w io.Writer, vh pool.Handle, h *simulator.History, depth int) {
	if depth <= 0 {
		return
	}
	v := e.tree.Node(vh)
	best, bestValue := -1, math.Inf(-1)
	for a := range v.children {
		if q := &v.children[a]; q.Value.Count() > 0 && q.Value.Value() > bestValue {
			best, bestValue = a, q.Value.Value()
		}
	}
	if best < 0 {
		return
	}
	fmt.Fprintf(w, "%s%s: %.2f\n", indent(h.Len()), historyString(h, best), bestValue)

	q := &v.children[best]
	for obs, child := range q.children {
		if !child.Valid() {
			continue
		}
		h.Add(best, obs)
		e.displayPolicy(w, child, h, depth-1)
		h.Pop()
	}
}

func indent(n int) string {
	return strings.Repeat("  ", n)
}

func historyString(h *simulator.History, action int) string {
	var b strings.Builder
	for i := 0; i < h.Len(); i++ {
		entry := h.At(i)
		fmt.Fprintf(&b, "(%d,%d) ", entry.Action, entry.Observation)
	}
	fmt.Fprintf(&b, "a=%d", action)
	return b.String()
}
