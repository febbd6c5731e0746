// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package belief

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagState struct {
	tag      int
	freed    bool
	features map[int]bool
}

func (s *tagState) ActivateFeature(f int, active bool) {
	if s.features == nil {
		s.features = map[int]bool{}
	}
	s.features[f] = active
}

// countingSim tracks live particles so ownership bugs show up as leaks
// or double frees.
type countingSim struct {
	simulator.Base
	live    int
	doubles int
}

func newCountingSim() *countingSim {
	return &countingSim{Base: simulator.NewBase(1, 1, 0.9)}
}

func (s *countingSim) make(tag int) *tagState {
	s.live++
	return &tagState{tag: tag}
}

func (s *countingSim) CreateStartState() simulator.State { return s.make(0) }

func (s *countingSim) Copy(st simulator.State) simulator.State {
	return s.make(st.(*tagState).tag)
}

func (s *countingSim) Free(st simulator.State) {
	ts := st.(*tagState)
	if ts.freed {
		s.doubles++
		return
	}
	ts.freed = true
	s.live--
}

func (s *countingSim) Step(simulator.State, int) (int, float64, bool) { return 0, 0, false }

func fill(sim *countingSim, n int) *State {
	b := &State{}
	for i := 0; i < n; i++ {
		b.AddSample(sim.make(i))
	}
	return b
}

func TestCreateSample_DoesNotMutate(t *testing.T) {
	sim := newCountingSim()
	b := fill(sim, 5)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 100; i++ {
		s := b.CreateSample(sim, rng)
		require.Equal(t, 5, b.Len())
		for j := 0; j < b.Len(); j++ {
			require.NotSame(t, s, b.Sample(j), "sample must be a copy")
		}
		sim.Free(s)
	}
	assert.Equal(t, 5, sim.live)
}

func TestCreateSample_Uniform(t *testing.T) {
	const n, draws = 8, 80000
	sim := newCountingSim()
	b := fill(sim, n)
	rng := rand.New(rand.NewPCG(42, 99))

	counts := make([]int, n)
	for i := 0; i < draws; i++ {
		s := b.CreateSample(sim, rng)
		counts[s.(*tagState).tag]++
		sim.Free(s)
	}

	for tag, c := range counts {
		freq := float64(c) / draws
		if math.Abs(freq-1.0/n) > 0.01 {
			t.Errorf("particle %d drawn with frequency %.4f, want about %.4f", tag, freq, 1.0/n)
		}
	}
}

func TestCreateSample_EmptyPanics(t *testing.T) {
	sim := newCountingSim()
	assert.Panics(t, func() {
		(&State{}).CreateSample(sim, rand.New(rand.NewPCG(0, 0)))
	})
}

func TestCopy_IndependentOwnership(t *testing.T) {
	sim := newCountingSim()
	a := fill(sim, 4)

	var b State
	b.Copy(a, sim)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 4, a.Len())
	assert.Equal(t, 8, sim.live)

	b.Free(sim)
	assert.True(t, b.Empty())
	assert.Equal(t, 4, sim.live)
	for i := 0; i < a.Len(); i++ {
		assert.False(t, a.Sample(i).(*tagState).freed, "freeing the copy must not free the source")
	}

	a.Free(sim)
	assert.Equal(t, 0, sim.live)
	assert.Equal(t, 0, sim.doubles)
}

func TestMove_TransfersEverything(t *testing.T) {
	sim := newCountingSim()
	a := fill(sim, 6)
	b := fill(sim, 1)

	b.Move(a)
	assert.True(t, a.Empty())
	assert.Equal(t, 7, b.Len())

	a.Free(sim) // nothing left to free
	b.Free(sim)
	assert.Equal(t, 0, sim.live)
	assert.Equal(t, 0, sim.doubles)
}

func TestMove_Self(t *testing.T) {
	sim := newCountingSim()
	a := fill(sim, 3)
	a.Move(a)
	assert.Equal(t, 3, a.Len())
}

func TestActivateFeature_Broadcast(t *testing.T) {
	sim := newCountingSim()
	b := fill(sim, 3)
	b.ActivateFeature(2, false)

	for i := 0; i < b.Len(); i++ {
		active, ok := b.Sample(i).(*tagState).features[2]
		assert.True(t, ok)
		assert.False(t, active)
	}
}
