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
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/belief"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/stats"
)

// Statistics summarises the simulations of the last SelectAction.
type Statistics struct {
	// TreeDepth is the deepest tree level reached by each simulation.
	TreeDepth stats.Statistic

	// RolloutDepth is the number of rollout steps per rollout.
	RolloutDepth stats.Statistic

	// TotalReward is the discounted return of each simulation.
	TotalReward stats.Statistic
}

// Merge folds other into s.
func (s *Statistics) Merge(other Statistics) {
	s.TreeDepth.Merge(other.TreeDepth)
	s.RolloutDepth.Merge(other.RolloutDepth)
	s.TotalReward.Merge(other.TotalReward)
}

// reward is the pair of returns carried up one simulated trajectory. v is
// the task return and f the feature return used to value relevance.
type reward struct {
	v float64
	f float64
}

// searcher runs simulations over one tree.
//
// Thread Safety: Not safe for concurrent use. Parallel workers each own a
// searcher, tree, history and status; they share only the read-only source
// belief and the world model.
type searcher struct {
	sim       simulator.Simulator
	tree      *Tree
	table     *relevance.Table
	history   *simulator.History
	status    *simulator.Status
	rng       *rand.Rand
	sampler   *simulator.ActionSampler
	sel       *selector
	validator simulator.Validator
	cfg       SearchConfig

	discount        float64
	featureDiscount float64
	numObservations int

	// candidates restricts action selection; nil means every action.
	candidates []int

	// quota caps the simulations this searcher claims per run; negative
	// means the shared budget alone decides.
	quota int
	used  int

	treeDepth     int
	peakTreeDepth int
	stats         Statistics
}

func newSearcher(sim simulator.Simulator, tree *Tree, table *relevance.Table, history *simulator.History,
	status *simulator.Status, rng *rand.Rand, cfg SearchConfig) *searcher {
	s := &searcher{
		sim:             sim,
		tree:            tree,
		table:           table,
		history:         history,
		status:          status,
		rng:             rng,
		sampler:         simulator.NewActionSampler(sim),
		sel:             newSelector(cfg.ExplorationConstant, rng),
		cfg:             cfg,
		discount:        sim.Discount(),
		featureDiscount: sim.FeatureDiscount(),
		numObservations: sim.NumObservations(),
		quota:           -1,
	}
	if cfg.ValidateParticles {
		s.validator, _ = sim.(simulator.Validator)
	}
	return s
}

// refreshCandidates recomputes the relevance-filtered action set. When the
// table leaves no action active the filter is dropped.
func (s *searcher) refreshCandidates() {
	s.candidates = activeCandidates(s.candidates[:0], s.table, s.sim.NumActions())
}

func activeCandidates(dst []int, table *relevance.Table, numActions int) []int {
	if table == nil {
		return nil
	}
	dst = table.ActiveActions(dst, numActions)
	if len(dst) == 0 || len(dst) == numActions {
		return nil
	}
	return dst
}

// run spends budget on simulations from root, sampling particles from
// source.
func (s *searcher) run(ctx context.Context, root pool.Handle, source *belief.State, budget *SearchBudget) {
	s.stats = Statistics{}
	s.used = 0
	s.refreshCandidates()
	if s.cfg.DisableTree {
		s.rolloutSearch(ctx, root, source, budget)
		return
	}
	s.uctSearch(ctx, root, source, budget)
}

// claim reserves one simulation from the searcher's quota and the shared
// budget.
func (s *searcher) claim(ctx context.Context, budget *SearchBudget) bool {
	if s.quota >= 0 && s.used >= s.quota {
		return false
	}
	if !budget.Claim(ctx) {
		return false
	}
	s.used++
	return true
}

func (s *searcher) uctSearch(ctx context.Context, root pool.Handle, source *belief.State, budget *SearchBudget) {
	historyDepth := s.history.Len()

	for budget.CheckNodes(s.tree.Live()) && s.claim(ctx, budget) {
		state := source.CreateSample(s.sim, s.rng)
		s.validate(state)
		s.status.Phase = simulator.PhaseTree

		s.treeDepth = 0
		s.peakTreeDepth = 0
		r := s.simulateV(state, root)
		s.stats.TotalReward.Add(r.v)
		s.stats.TreeDepth.Add(float64(s.peakTreeDepth))

		s.sim.Free(state)
		s.history.Truncate(historyDepth)
		budget.Complete()
	}
}

func (s *searcher) simulateV(state simulator.State, h pool.Handle) reward {
	v := s.tree.Node(h)
	action := s.sel.best(v, true, s.candidates)

	s.peakTreeDepth = s.treeDepth
	if s.treeDepth >= s.cfg.MaxDepth {
		return reward{}
	}

	if s.treeDepth == 1 {
		v.Beliefs.AddSample(s.sim.Copy(state))
	}

	r := s.simulateQ(state, v.Child(action), action)
	v.Value.Add(r.v)
	return r
}

func (s *searcher) simulateQ(state simulator.State, q *QNode, action int) reward {
	observation, immediate, terminal := s.step(state, action)

	child, ok := q.Child(observation)
	if !ok && !terminal && q.Value.Count() >= float64(s.cfg.ExpandCount) {
		child = s.tree.ExpandChild(q, observation, state, s.history, s.status)
		ok = true
	}

	var delayed reward
	if !terminal {
		s.treeDepth++
		if ok {
			delayed = s.simulateV(state, child)
		} else {
			delayed = s.rollout(state)
		}
		s.treeDepth--
	}

	r := reward{
		v: immediate + s.discount*delayed.v,
		f: immediate + s.featureDiscount*delayed.f,
	}
	q.Value.Add(r.v)
	if s.table != nil && !terminal {
		s.table.ValueUpdate(action, r.f)
	}
	return r
}

// rollout plays the rollout policy from state until the horizon or a
// terminal step. Only the task return is filled; relevance is valued on
// returns observed inside the tree.
func (s *searcher) rollout(state simulator.State) reward {
	s.status.Phase = simulator.PhaseRollout

	var r reward
	discount := 1.0
	terminal := false
	steps := 0
	for ; steps+s.treeDepth < s.cfg.MaxDepth && !terminal; steps++ {
		action := s.sampler.SelectRandom(state, s.history, s.status, s.rng)
		var immediate float64
		_, immediate, terminal = s.step(state, action)

		r.v += immediate * discount
		discount *= s.discount
	}

	s.stats.RolloutDepth.Add(float64(steps))
	return r
}

// rolloutSearch is flat Monte Carlo from the root: legal actions are tried
// round robin in shuffled order, each followed by a rollout.
func (s *searcher) rolloutSearch(ctx context.Context, root pool.Handle, source *belief.State, budget *SearchBudget) {
	historyDepth := s.history.Len()
	rootNode := s.tree.Node(root)

	actions := s.rootActions(source)
	s.rng.Shuffle(len(actions), func(i, j int) { actions[i], actions[j] = actions[j], actions[i] })

	for i := 0; budget.CheckNodes(s.tree.Live()) && s.claim(ctx, budget); i++ {
		action := actions[i%len(actions)]
		state := source.CreateSample(s.sim, s.rng)
		s.validate(state)
		s.status.Phase = simulator.PhaseTree

		observation, immediate, terminal := s.step(state, action)
		q := rootNode.Child(action)
		if _, ok := q.Child(observation); !ok && !terminal {
			child := s.tree.ExpandChild(q, observation, state, s.history, s.status)
			s.tree.Node(child).Beliefs.AddSample(s.sim.Copy(state))
		}

		var delayed reward
		if !terminal {
			delayed = s.rollout(state)
		}
		r := reward{
			v: immediate + s.discount*delayed.v,
			f: immediate + s.featureDiscount*delayed.f,
		}
		q.Value.Add(r.v)
		rootNode.Value.Add(r.v)
		if s.table != nil && !terminal {
			s.table.ValueUpdate(action, r.f)
		}
		s.stats.TotalReward.Add(r.v)
		s.stats.TreeDepth.Add(0)

		s.sim.Free(state)
		s.history.Truncate(historyDepth)
		budget.Complete()
	}
}

// rootActions returns the legal actions of a root particle, restricted to
// the relevance candidates when that leaves any.
func (s *searcher) rootActions(source *belief.State) []int {
	legal := s.sim.GenerateLegal(nil, source.Sample(0), s.history, s.status)
	for _, a := range legal {
		s.tree.checkAction("GenerateLegal", a)
	}
	if s.candidates != nil {
		filtered := make([]int, 0, len(legal))
		for _, a := range legal {
			if s.table.IsActionActive(a) {
				filtered = append(filtered, a)
			}
		}
		if len(filtered) > 0 {
			legal = filtered
		}
	}
	if len(legal) == 0 {
		legal = make([]int, s.sim.NumActions())
		for a := range legal {
			legal[a] = a
		}
	}
	return legal
}

// step advances state and records the step in the history. An observation
// outside [0, NumObservations) is a fatal contract violation.
func (s *searcher) step(state simulator.State, action int) (int, float64, bool) {
	observation, immediate, terminal := s.sim.Step(state, action)
	if observation < 0 || observation >= s.numObservations {
		contractViolation("Simulator.Step", "observation %d outside [0, %d)", observation, s.numObservations)
	}
	s.history.Add(action, observation)
	return observation, immediate, terminal
}

func (s *searcher) validate(state simulator.State) {
	if s.validator == nil {
		return
	}
	if err := s.validator.Validate(state); err != nil {
		panic(&ContractError{Op: "Simulator.Validate", Err: fmt.Errorf("invalid particle: %w", err)})
	}
}
