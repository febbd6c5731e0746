// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simulator

import (
	"math"
	"math/rand/v2"
)

// ActionSampler implements the rollout policy with a reusable scratch
// buffer so the hot loop does not allocate.
//
// Thread Safety: Not safe for concurrent use. Give each worker its own.
type ActionSampler struct {
	sim Simulator
	pgs PGSGenerator
	buf []int
}

// NewActionSampler creates a sampler for sim.
func NewActionSampler(sim Simulator) *ActionSampler {
	s := &ActionSampler{sim: sim, buf: make([]int, 0, sim.NumActions())}
	s.pgs, _ = sim.(PGSGenerator)
	return s
}

// SelectRandom picks a rollout action for state.
//
// Candidates are drawn from the richest source the rollout knowledge level
// allows that yields at least one action: the PGS ranking, then preferred
// actions, then legal actions, then every action.
func (s *ActionSampler) SelectRandom(state State, history *History, status *Status, rng *rand.Rand) int {
	level := s.sim.Knowledge().RolloutLevel

	if level >= LevelPGS && s.pgs != nil {
		s.buf = s.pgs.GeneratePGS(s.buf[:0], state, history, status)
		if len(s.buf) > 0 {
			return s.buf[rng.IntN(len(s.buf))]
		}
	}
	if level >= LevelSmart {
		s.buf = s.sim.GeneratePreferred(s.buf[:0], state, history, status)
		if len(s.buf) > 0 {
			return s.buf[rng.IntN(len(s.buf))]
		}
	}
	if level >= LevelLegal {
		s.buf = s.sim.GenerateLegal(s.buf[:0], state, history, status)
		if len(s.buf) > 0 {
			return s.buf[rng.IntN(len(s.buf))]
		}
	}
	return rng.IntN(s.sim.NumActions())
}

// SelectRandom is the one-shot form of ActionSampler.SelectRandom. It is
// meant for callers outside the search loop, such as the fallback policy
// used after the planner runs out of particles.
func SelectRandom(sim Simulator, state State, history *History, status *Status, rng *rand.Rand) int {
	return NewActionSampler(sim).SelectRandom(state, history, status, rng)
}

// Horizon returns the number of steps after which discounted rewards fall
// below accuracy. With no discounting it returns undiscounted.
func Horizon(discount, accuracy float64, undiscounted int) int {
	if discount >= 1 {
		return undiscounted
	}
	return int(math.Log(accuracy) / math.Log(discount))
}
