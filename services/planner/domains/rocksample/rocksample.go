// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rocksample implements the RockSample world model.
//
// A rover on a Size×Size grid knows where the rocks are but not which of
// them are valuable. It can move, sample the rock under it, or check any
// rock with a noisy long-range sensor whose accuracy decays with distance.
// Leaving the grid to the east ends the episode with a bonus.
//
// Each rock is a relevance feature. Checking rock r is tied to feature r,
// so a planner in relevance mode can stop considering rocks whose checks
// have not paid off. An inactive rock offers no check action and does not
// attract the preferred-move heuristic.
//
// # Actions
//
//	0..3   move north, east, south, west
//	4      sample
//	5+r    check rock r
//
// # Observations
//
//	0 none, 1 good, 2 bad
package rocksample

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// Compass actions.
const (
	ActionNorth = iota
	ActionEast
	ActionSouth
	ActionWest
	ActionSample
	ActionCheck
)

// Observations.
const (
	ObsNone = iota
	ObsGood
	ObsBad
)

const (
	exitReward    = 10
	sampleReward  = 10
	illegalReward = -100
	pgsScale      = 10.0
)

// Coord is a grid position.
type Coord struct {
	X, Y int
}

// Euclidean returns the straight line distance between a and b.
func (a Coord) Euclidean(b Coord) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// Rock is the per-particle knowledge about one rock.
type Rock struct {
	Valuable  bool
	Collected bool

	// Active is false when the planner has deemed the rock irrelevant.
	Active bool

	// Count is the number of good minus bad check results.
	Count    int
	Measured int

	ProbValuable        float64
	LikelihoodValuable  float64
	LikelihoodWorthless float64
}

// State is one RockSample particle.
type State struct {
	Agent Coord
	Rocks []Rock
}

// ActivateFeature implements simulator.State.
func (s *State) ActivateFeature(feature int, active bool) {
	if feature >= 0 && feature < len(s.Rocks) {
		s.Rocks[feature].Active = active
	}
}

// Config sizes the problem and sets its relevance parameters.
type Config struct {
	Size  int `json:"size" yaml:"size" validate:"gte=2"`
	Rocks int `json:"rocks" yaml:"rocks" validate:"gte=1"`

	HalfEfficiencyDistance float64 `json:"half_efficiency_distance" yaml:"half_efficiency_distance" validate:"gt=0"`
	Discount               float64 `json:"discount" yaml:"discount" validate:"gt=0,lte=1"`
	FeatureDiscount        float64 `json:"feature_discount" yaml:"feature_discount" validate:"gte=0,lte=1"`
	ActivationThreshold    float64 `json:"activation_threshold" yaml:"activation_threshold"`
	TransitionRate         float64 `json:"transition_rate" yaml:"transition_rate" validate:"gt=0"`

	Knowledge simulator.Knowledge `json:"knowledge" yaml:"knowledge"`

	// Seed seeds the world model's random source. Zero picks a random seed.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns RockSample(7, 8).
func DefaultConfig() Config {
	return Config{
		Size:                   7,
		Rocks:                  8,
		HalfEfficiencyDistance: 20,
		Discount:               0.95,
		FeatureDiscount:        0.3,
		ActivationThreshold:    -6,
		TransitionRate:         1,
		Knowledge:              simulator.DefaultKnowledge(),
	}
}

var configValidate = validator.New()

var (
	layout78 = []Coord{
		{2, 0}, {0, 1}, {3, 1}, {6, 3}, {2, 4}, {3, 4}, {5, 5}, {1, 6},
	}
	layout1111 = []Coord{
		{0, 3}, {0, 7}, {1, 8}, {2, 4}, {3, 3}, {3, 8}, {4, 3}, {5, 8}, {6, 1}, {9, 3}, {9, 9},
	}
)

// Simulator is the RockSample world model.
//
// Thread Safety: Safe for concurrent use on distinct states. The random
// source is shared behind a mutex; Fork gives a worker its own.
type Simulator struct {
	simulator.Base

	cfg      Config
	start    Coord
	rockPos  []Coord
	grid     []int
	rngMu    sync.Mutex
	rng      *rand.Rand
	states   *statePool
	useTable bool
}

// statePool recycles states. Forks share their parent's pool.
type statePool struct {
	sync.Pool
	live atomic.Int64
}

// New creates a RockSample world model. The 7×8 and 11×11 instances use
// the standard layouts; other sizes place rocks with a fixed seed so the
// layout is the same for the real and the planning model.
func New(cfg Config) (*Simulator, error) {
	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("rocksample: invalid config: %w", err)
	}
	if cfg.Rocks > cfg.Size*cfg.Size {
		return nil, fmt.Errorf("rocksample: %d rocks do not fit a %dx%d grid", cfg.Rocks, cfg.Size, cfg.Size)
	}

	s := &Simulator{
		Base: simulator.Base{
			Actions:               cfg.Rocks + ActionCheck,
			Observations:          3,
			DiscountFactor:        cfg.Discount,
			FeatureDiscountFactor: cfg.FeatureDiscount,
			Range:                 20,
			KnowledgeLevels:       cfg.Knowledge,
		},
		cfg:  cfg,
		grid: make([]int, cfg.Size*cfg.Size),
	}
	for i := range s.grid {
		s.grid[i] = -1
	}

	switch {
	case cfg.Size == 7 && cfg.Rocks == 8:
		s.start = Coord{0, 3}
		s.rockPos = append(s.rockPos, layout78...)
	case cfg.Size == 11 && cfg.Rocks == 11:
		s.start = Coord{0, 5}
		s.rockPos = append(s.rockPos, layout1111...)
	default:
		s.start = Coord{0, cfg.Size / 2}
		layoutRNG := rand.New(rand.NewPCG(0, 0))
		for len(s.rockPos) < cfg.Rocks {
			pos := Coord{layoutRNG.IntN(cfg.Size), layoutRNG.IntN(cfg.Size)}
			if s.rockAt(pos) < 0 {
				s.grid[s.index(pos)] = len(s.rockPos)
				s.rockPos = append(s.rockPos, pos)
			}
		}
	}
	for r, pos := range s.rockPos {
		s.grid[s.index(pos)] = r
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s.rng = newRNG(seed)
	s.states = &statePool{}
	s.states.New = func() any { return &State{Rocks: make([]Rock, 0, cfg.Rocks)} }
	return s, nil
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// Fork implements simulator.Forker. The fork draws from its own stream
// seeded by seed and shares the layout and state pool with s.
func (s *Simulator) Fork(seed uint64) simulator.Simulator {
	return &Simulator{
		Base:     s.Base,
		cfg:      s.cfg,
		start:    s.start,
		rockPos:  s.rockPos,
		grid:     s.grid,
		rng:      newRNG(seed),
		states:   s.states,
		useTable: s.useTable,
	}
}

// UseRelevance makes InitializeRelevanceTable declare the check entries.
func (s *Simulator) UseRelevance(on bool) {
	s.useTable = on
}

// RockPositions returns the rock layout.
func (s *Simulator) RockPositions() []Coord {
	return append([]Coord(nil), s.rockPos...)
}

// Live returns the number of states not yet freed.
func (s *Simulator) Live() int64 {
	return s.states.live.Load()
}

func (s *Simulator) index(c Coord) int { return c.Y*s.cfg.Size + c.X }

func (s *Simulator) inside(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < s.cfg.Size && c.Y < s.cfg.Size
}

func (s *Simulator) rockAt(c Coord) int {
	if !s.inside(c) {
		return -1
	}
	return s.grid[s.index(c)]
}

func (s *Simulator) bernoulli(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *Simulator) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) alloc() *State {
	s.states.live.Add(1)
	st := s.states.Get().(*State)
	st.Rocks = st.Rocks[:0]
	return st
}

// CreateStartState places the rover at the start with every rock valuable
// with probability one half.
func (s *Simulator) CreateStartState() simulator.State {
	st := s.alloc()
	st.Agent = s.start
	for r := 0; r < s.cfg.Rocks; r++ {
		st.Rocks = append(st.Rocks, Rock{
			Valuable:            s.bernoulli(0.5),
			Active:              true,
			ProbValuable:        0.5,
			LikelihoodValuable:  1,
			LikelihoodWorthless: 1,
		})
	}
	return st
}

// Copy implements simulator.Simulator.
func (s *Simulator) Copy(state simulator.State) simulator.State {
	src := state.(*State)
	dst := s.alloc()
	dst.Agent = src.Agent
	dst.Rocks = append(dst.Rocks, src.Rocks...)
	return dst
}

// Free implements simulator.Simulator.
func (s *Simulator) Free(state simulator.State) {
	s.states.live.Add(-1)
	s.states.Put(state.(*State))
}

// Validate implements simulator.Validator.
func (s *Simulator) Validate(state simulator.State) error {
	st := state.(*State)
	if !s.inside(st.Agent) {
		return fmt.Errorf("rocksample: agent %v outside %dx%d grid", st.Agent, s.cfg.Size, s.cfg.Size)
	}
	if len(st.Rocks) != s.cfg.Rocks {
		return fmt.Errorf("rocksample: state has %d rocks, want %d", len(st.Rocks), s.cfg.Rocks)
	}
	return nil
}

// Step implements simulator.Simulator. At rollout knowledge LevelPGS the
// reward carries the potential-based shaping bonus of the affected rock.
func (s *Simulator) Step(state simulator.State, action int) (int, float64, bool) {
	st := state.(*State)
	if s.cfg.Knowledge.RolloutLevel < simulator.LevelPGS {
		return s.step(st, action)
	}

	rock := s.affectedRock(st, action)
	var before Rock
	if rock >= 0 {
		before = st.Rocks[rock]
	}
	observation, reward, terminal := s.step(st, action)
	if rock >= 0 && reward != illegalReward {
		reward += pgsScale * (rockPotential(st.Rocks[rock]) - rockPotential(before))
	}
	return observation, reward, terminal
}

func (s *Simulator) step(st *State, action int) (int, float64, bool) {
	switch {
	case action < ActionSample:
		reward, terminal := s.move(st, action)
		return ObsNone, reward, terminal
	case action == ActionSample:
		rock := s.rockAt(st.Agent)
		if rock < 0 || st.Rocks[rock].Collected {
			return ObsNone, illegalReward, false
		}
		st.Rocks[rock].Collected = true
		if st.Rocks[rock].Valuable {
			return ObsNone, sampleReward, false
		}
		return ObsNone, -sampleReward, false
	default:
		rock := action - ActionCheck
		observation := s.observe(st, rock)
		s.recordCheck(st, rock, observation)
		return observation, 0, false
	}
}

// move applies a compass action. Moving east off the grid ends the
// episode; bumping into any other edge costs illegalReward.
func (s *Simulator) move(st *State, action int) (float64, bool) {
	switch action {
	case ActionNorth:
		if st.Agent.Y+1 >= s.cfg.Size {
			return illegalReward, false
		}
		st.Agent.Y++
	case ActionEast:
		if st.Agent.X+1 >= s.cfg.Size {
			return exitReward, true
		}
		st.Agent.X++
	case ActionSouth:
		if st.Agent.Y-1 < 0 {
			return illegalReward, false
		}
		st.Agent.Y--
	case ActionWest:
		if st.Agent.X-1 < 0 {
			return illegalReward, false
		}
		st.Agent.X--
	}
	return 0, false
}

func (s *Simulator) efficiency(agent Coord, rock int) float64 {
	distance := agent.Euclidean(s.rockPos[rock])
	return (1 + math.Pow(2, -distance/s.cfg.HalfEfficiencyDistance)) * 0.5
}

func (s *Simulator) observe(st *State, rock int) int {
	correct := s.bernoulli(s.efficiency(st.Agent, rock))
	if correct == st.Rocks[rock].Valuable {
		return ObsGood
	}
	return ObsBad
}

func (s *Simulator) recordCheck(st *State, rock, observation int) {
	r := &st.Rocks[rock]
	r.Measured++
	eff := s.efficiency(st.Agent, rock)
	if observation == ObsGood {
		r.Count++
		r.LikelihoodValuable *= eff
		r.LikelihoodWorthless *= 1 - eff
	} else {
		r.Count--
		r.LikelihoodWorthless *= eff
		r.LikelihoodValuable *= 1 - eff
	}
	denom := 0.5*r.LikelihoodValuable + 0.5*r.LikelihoodWorthless
	r.ProbValuable = 0.5 * r.LikelihoodValuable / denom
}

// LocalMove flips one random rock. After a check it keeps the state only
// when a fresh check of the checked rock agrees with the real observation,
// and corrects that rock's count for the flip.
func (s *Simulator) LocalMove(state simulator.State, history *simulator.History, stepObs int, _ *simulator.Status) bool {
	st := state.(*State)
	flip := s.intN(s.cfg.Rocks)
	st.Rocks[flip].Valuable = !st.Rocks[flip].Valuable

	last := history.Back()
	if last.Action < ActionCheck {
		return true
	}
	rock := last.Action - ActionCheck
	if s.observe(st, rock) != last.Observation {
		return false
	}
	if last.Observation == ObsGood && stepObs == ObsBad {
		st.Rocks[rock].Count += 2
	}
	if last.Observation == ObsBad && stepObs == ObsGood {
		st.Rocks[rock].Count -= 2
	}
	return true
}

// GenerateLegal implements simulator.Simulator. Checks are offered for
// uncollected active rocks only.
func (s *Simulator) GenerateLegal(dst []int, state simulator.State, _ *simulator.History, _ *simulator.Status) []int {
	st := state.(*State)
	if st.Agent.Y+1 < s.cfg.Size {
		dst = append(dst, ActionNorth)
	}
	dst = append(dst, ActionEast)
	if st.Agent.Y-1 >= 0 {
		dst = append(dst, ActionSouth)
	}
	if st.Agent.X-1 >= 0 {
		dst = append(dst, ActionWest)
	}
	if rock := s.rockAt(st.Agent); rock >= 0 && !st.Rocks[rock].Collected {
		dst = append(dst, ActionSample)
	}
	for rock, r := range st.Rocks {
		if !r.Collected && r.Active {
			dst = append(dst, ActionCheck+rock)
		}
	}
	return dst
}

// InitializeRelevanceTable ties each check action to its rock.
func (s *Simulator) InitializeRelevanceTable(table *relevance.Table) {
	if !s.useTable {
		return
	}
	for rock := 0; rock < s.cfg.Rocks; rock++ {
		table.AddEntry(ActionCheck+rock, rock)
	}
	table.SetActivationThreshold(s.cfg.ActivationThreshold)
	table.SetNumFeatures(s.cfg.Rocks)
	table.SetNumActions(s.NumActions())
	table.SetTransitionRate(s.cfg.TransitionRate)
}

func (s *Simulator) affectedRock(st *State, action int) int {
	switch {
	case action == ActionSample:
		return s.rockAt(st.Agent)
	case action >= ActionCheck:
		return action - ActionCheck
	default:
		return -1
	}
}

var (
	_ simulator.Simulator    = (*Simulator)(nil)
	_ simulator.Validator    = (*Simulator)(nil)
	_ simulator.PGSGenerator = (*Simulator)(nil)
	_ simulator.Displayer    = (*Simulator)(nil)
	_ simulator.Forker       = (*Simulator)(nil)
)
