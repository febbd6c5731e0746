// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package belief holds particle approximations of the hidden state.
package belief

import (
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// State is an unordered collection of particles. It owns every particle
// it holds: particles enter through AddSample, Copy or Move and leave
// only through Move or Free.
//
// The zero value is an empty belief ready for use.
//
// Thread Safety: Not safe for concurrent use.
type State struct {
	particles []simulator.State
}

// CreateSample returns an independent copy of a uniformly chosen
// particle. The belief itself is not modified.
//
// It panics on an empty belief; callers check Empty first.
func (b *State) CreateSample(sim simulator.Simulator, rng *rand.Rand) simulator.State {
	if len(b.particles) == 0 {
		panic("belief: CreateSample on empty belief")
	}
	return sim.Copy(b.particles[rng.IntN(len(b.particles))])
}

// AddSample takes ownership of p.
func (b *State) AddSample(p simulator.State) {
	b.particles = append(b.particles, p)
}

// Copy appends a clone of every particle of other. other is unchanged.
func (b *State) Copy(other *State, sim simulator.Simulator) {
	for _, p := range other.particles {
		b.particles = append(b.particles, sim.Copy(p))
	}
}

// Move transfers every particle of other into b and leaves other empty.
func (b *State) Move(other *State) {
	if b == other {
		return
	}
	b.particles = append(b.particles, other.particles...)
	clear(other.particles)
	other.particles = other.particles[:0]
}

// ActivateFeature toggles feature on every particle.
func (b *State) ActivateFeature(feature int, active bool) {
	for _, p := range b.particles {
		p.ActivateFeature(feature, active)
	}
}

// Free releases every particle through sim and empties the belief.
func (b *State) Free(sim simulator.Simulator) {
	for _, p := range b.particles {
		sim.Free(p)
	}
	clear(b.particles)
	b.particles = b.particles[:0]
}

// Len returns the number of particles.
func (b *State) Len() int {
	return len(b.particles)
}

// Empty reports whether the belief holds no particles.
func (b *State) Empty() bool {
	return len(b.particles) == 0
}

// Sample returns particle i without transferring ownership. The caller
// must not keep it past the next mutation of the belief.
func (b *State) Sample(i int) simulator.State {
	return b.particles[i]
}
