// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simulator defines the world model contract consumed by the planner.
//
// A world model is a forward simulator over opaque particles. The planner
// never looks inside a State; it creates, copies, steps and frees states
// exclusively through the Simulator that produced them.
//
// # Ownership
//
// Every State returned by CreateStartState or Copy is owned by exactly one
// holder (a belief, a tree node, or an in-flight simulation) and must be
// released with Free exactly once.
//
// # Concurrency
//
// Parallel search calls Step, Copy, Free and the generators from several
// goroutines on distinct states. Implementations must not share mutable
// scratch space across those calls.
package simulator

import (
	"io"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
)

// State is one concrete hypothesis of the hidden world state.
type State interface {
	// ActivateFeature toggles whether the given feature participates in
	// this state's dynamics.
	ActivateFeature(feature int, active bool)
}

// Simulator is the world model contract.
type Simulator interface {
	// CreateStartState samples an initial state.
	CreateStartState() State

	// Copy returns an independent clone of state.
	Copy(state State) State

	// Free releases a state created by CreateStartState or Copy.
	Free(state State)

	// Step applies action to state in place.
	//
	// Outputs:
	//   - observation: In [0, NumObservations).
	//   - reward: Immediate reward.
	//   - terminal: True when the episode ends.
	Step(state State, action int) (observation int, reward float64, terminal bool)

	// LocalMove perturbs state so that it remains consistent with history,
	// whose last entry produced stepObs. It returns false when the
	// perturbed state contradicts the observed outcome.
	LocalMove(state State, history *History, stepObs int, status *Status) bool

	// GenerateLegal appends the legal actions of state to dst.
	GenerateLegal(dst []int, state State, history *History, status *Status) []int

	// GeneratePreferred appends domain-preferred actions of state to dst.
	GeneratePreferred(dst []int, state State, history *History, status *Status) []int

	// InitializeRelevanceTable declares the (action, feature) pairs and
	// the activation threshold.
	InitializeRelevanceTable(table *relevance.Table)

	NumActions() int
	NumObservations() int
	Discount() float64
	FeatureDiscount() float64
	RewardRange() float64

	// Knowledge returns the prior and rollout knowledge levels.
	Knowledge() Knowledge
}

// PGSGenerator is implemented by world models that can rank actions with a
// potential-based heuristic. It is consulted when a knowledge level is LevelPGS.
type PGSGenerator interface {
	GeneratePGS(dst []int, state State, history *History, status *Status) []int
}

// Validator is implemented by world models that can sanity check a state.
// A non-nil error is treated as a broken plugin, never as a planning outcome.
type Validator interface {
	Validate(state State) error
}

// Forker is implemented by world models that can hand a parallel search
// worker its own random stream. The fork shares the layout and the state
// lifecycle with its parent, so states may be copied in one and freed in
// the other. Without it parallel search draws from one shared stream and
// results depend on scheduling.
type Forker interface {
	Fork(seed uint64) Simulator
}

// Displayer is implemented by world models with text rendering. It is used
// only for diagnostics.
type Displayer interface {
	DisplayState(w io.Writer, state State)
	DisplayAction(w io.Writer, action int)
	DisplayObservation(w io.Writer, state State, observation int)
	DisplayReward(w io.Writer, reward float64)
}

// Base supplies the optional parts of the contract. Embed it and set the
// scalar fields; override any method whose default does not fit.
type Base struct {
	Actions               int
	Observations          int
	DiscountFactor        float64
	FeatureDiscountFactor float64
	Range                 float64
	KnowledgeLevels       Knowledge
}

// NewBase returns a Base whose feature discount equals discount, with a unit
// reward range and default knowledge.
func NewBase(actions, observations int, discount float64) Base {
	return Base{
		Actions:               actions,
		Observations:          observations,
		DiscountFactor:        discount,
		FeatureDiscountFactor: discount,
		Range:                 1,
		KnowledgeLevels:       DefaultKnowledge(),
	}
}

// LocalMove accepts every state unchanged.
func (b Base) LocalMove(State, *History, int, *Status) bool { return true }

// GenerateLegal appends every action.
func (b Base) GenerateLegal(dst []int, _ State, _ *History, _ *Status) []int {
	for a := 0; a < b.Actions; a++ {
		dst = append(dst, a)
	}
	return dst
}

// GeneratePreferred appends nothing.
func (b Base) GeneratePreferred(dst []int, _ State, _ *History, _ *Status) []int {
	return dst
}

// InitializeRelevanceTable declares no entries.
func (b Base) InitializeRelevanceTable(*relevance.Table) {}

func (b Base) NumActions() int          { return b.Actions }
func (b Base) NumObservations() int     { return b.Observations }
func (b Base) Discount() float64        { return b.DiscountFactor }
func (b Base) FeatureDiscount() float64 { return b.FeatureDiscountFactor }
func (b Base) RewardRange() float64     { return b.Range }
func (b Base) Knowledge() Knowledge     { return b.KnowledgeLevels }
