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
	"math/rand/v2"
	"sync"
)

// Fast lookup covers parent counts below ucbMaxN and child counts below
// ucbMaxn; anything larger is computed directly.
const (
	ucbMaxN = 10000
	ucbMaxn = 100
)

// ucbTable caches c * sqrt(log(N+1) / n) for small counts.
//
// Thread Safety: Immutable after construction.
type ucbTable struct {
	c      float64
	values []float64
}

var (
	ucbTablesMu sync.Mutex
	ucbTables   = map[float64]*ucbTable{}
)

// ucbTableFor returns the shared table for exploration constant c.
func ucbTableFor(c float64) *ucbTable {
	ucbTablesMu.Lock()
	defer ucbTablesMu.Unlock()
	if t, ok := ucbTables[c]; ok {
		return t
	}
	t := &ucbTable{c: c, values: make([]float64, ucbMaxN*ucbMaxn)}
	for N := 0; N < ucbMaxN; N++ {
		logN := math.Log(float64(N + 1))
		for n := 0; n < ucbMaxn; n++ {
			if n == 0 {
				t.values[N*ucbMaxn] = math.Inf(1)
				continue
			}
			t.values[N*ucbMaxn+n] = c * math.Sqrt(logN/float64(n))
		}
	}
	ucbTables[c] = t
	return t
}

// bonus returns the exploration term for a child visited n times under a
// parent visited N times. An unvisited child gets +Inf.
func (t *ucbTable) bonus(N, n int, logN float64) float64 {
	if N >= 0 && n >= 0 && N < ucbMaxN && n < ucbMaxn {
		return t.values[N*ucbMaxn+n]
	}
	if n <= 0 {
		return math.Inf(1)
	}
	return t.c * math.Sqrt(logN/float64(n))
}

// selector picks actions by mean value plus an optional UCB bonus.
//
// Thread Safety: Not safe for concurrent use; each searcher owns one.
type selector struct {
	ucb   *ucbTable
	rng   *rand.Rand
	besta []int
}

func newSelector(c float64, rng *rand.Rand) *selector {
	return &selector{ucb: ucbTableFor(c), rng: rng}
}

// best returns the action among candidates (or all actions when candidates
// is nil) with the highest value, breaking ties uniformly at random.
func (s *selector) best(v *VNode, withBonus bool, candidates []int) int {
	s.besta = s.besta[:0]
	bestq := math.Inf(-1)
	N := int(v.Value.Count())
	logN := math.Log(float64(N + 1))

	consider := func(action int) {
		q := &v.children[action]
		value := q.Value.Value()
		if withBonus {
			value += s.ucb.bonus(N, int(q.Value.Count()), logN)
		}
		if value >= bestq {
			if value > bestq {
				s.besta = s.besta[:0]
			}
			bestq = value
			s.besta = append(s.besta, action)
		}
	}

	if candidates == nil {
		for a := range v.children {
			consider(a)
		}
	} else {
		for _, a := range candidates {
			consider(a)
		}
	}

	if len(s.besta) == 0 {
		// Every candidate evaluated to NaN; fall back to a uniform choice.
		if candidates == nil {
			return s.rng.IntN(len(v.children))
		}
		return candidates[s.rng.IntN(len(candidates))]
	}
	return s.besta[s.rng.IntN(len(s.besta))]
}
