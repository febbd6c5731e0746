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
	"sync/atomic"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

type banditState struct {
	features [2]bool
	freed    bool
}

func (s *banditState) ActivateFeature(f int, on bool) { s.features[f] = on }

// banditSim is a two-armed world: action 0 pays +10, action 1 pays -10,
// and the observation is always 0. Feature 0 belongs to action 0 and
// feature 1 to action 1. It counts live particles so tests can check that
// every particle is released exactly once.
type banditSim struct {
	simulator.Base

	live        atomic.Int64
	doubleFrees atomic.Int64

	acceptLocalMove bool
	relevance       bool
}

func newBanditSim() *banditSim {
	return &banditSim{Base: simulator.NewBase(2, 2, 0.9)}
}

func (s *banditSim) CreateStartState() simulator.State {
	s.live.Add(1)
	return &banditState{features: [2]bool{true, true}}
}

func (s *banditSim) Copy(st simulator.State) simulator.State {
	s.live.Add(1)
	c := *st.(*banditState)
	c.freed = false
	return &c
}

func (s *banditSim) Free(st simulator.State) {
	bs := st.(*banditState)
	if bs.freed {
		s.doubleFrees.Add(1)
		return
	}
	bs.freed = true
	s.live.Add(-1)
}

func (s *banditSim) Step(_ simulator.State, action int) (int, float64, bool) {
	if action == 0 {
		return 0, 10, false
	}
	return 0, -10, false
}

func (s *banditSim) LocalMove(simulator.State, *simulator.History, int, *simulator.Status) bool {
	return s.acceptLocalMove
}

func (s *banditSim) InitializeRelevanceTable(t *relevance.Table) {
	if !s.relevance {
		return
	}
	t.AddEntry(0, 0)
	t.AddEntry(1, 1)
	t.SetNumActions(2)
	t.SetNumFeatures(2)
	t.SetActivationThreshold(0)
}

// priorSim overrides the legal and preferred action sets of a bandit with
// three actions.
type priorSim struct {
	*banditSim
	legal     []int
	preferred []int
}

func newPriorSim(level simulator.Level, legal, preferred []int) priorSim {
	b := newBanditSim()
	b.Actions = 3
	b.KnowledgeLevels.TreeLevel = level
	return priorSim{banditSim: b, legal: legal, preferred: preferred}
}

func (s priorSim) GenerateLegal(dst []int, _ simulator.State, _ *simulator.History, _ *simulator.Status) []int {
	return append(dst, s.legal...)
}

func (s priorSim) GeneratePreferred(dst []int, _ simulator.State, _ *simulator.History, _ *simulator.Status) []int {
	return append(dst, s.preferred...)
}

// badObsSim reports an observation outside its range.
type badObsSim struct{ *banditSim }

func (s badObsSim) Step(simulator.State, int) (int, float64, bool) { return 5, 0, false }

func testConfig(seed uint64) Config {
	cfg := DefaultConfig()
	cfg.Search.MaxDepth = 3
	cfg.Search.NumSimulations = 1000
	cfg.Search.NumStartStates = 50
	cfg.Search.Seed = seed
	cfg.Observability.TracingEnabled = false
	cfg.Observability.MetricsEnabled = false
	return cfg
}
