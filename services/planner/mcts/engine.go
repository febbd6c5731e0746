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
	"log/slog"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/belief"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/pool"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// Engine is an online POMCP planner.
//
// Each real step the caller asks SelectAction for an action, executes it,
// and reports the outcome to Update, which re-roots the search tree on
// the matching subtree. The planner owns the particles of its tree and
// releases them through the world model.
//
// The engine:
//  1. Samples particles from the root belief
//  2. Walks the tree with UCB, extending it one node per simulation
//  3. Rolls out beyond the tree frontier with the world model's policy
//  4. Backs up the task return and the feature return
//
// Thread Safety: Not safe for concurrent use. With Parallel.Workers > 1
// the world model must tolerate concurrent calls on distinct states.
type Engine struct {
	sim     simulator.Simulator
	cfg     Config
	tree    *Tree
	root    pool.Handle
	table   *relevance.Table
	history simulator.History
	status  simulator.Status
	rng     *rand.Rand

	search     *searcher
	sel        *selector
	candidates []int

	lastStats  Statistics
	lastReport BudgetReport

	tracer *Tracer
	logger *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer for observability.
func WithTracer(tracer *Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithRand replaces the engine's random source. It takes precedence over
// Search.Seed.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// New creates a planner for sim.
//
// The root belief is filled with Search.NumStartStates start states and,
// with Search.UseRelevance, the world model declares its relevance table.
//
// Inputs:
//   - sim: World model. Must not be nil.
//   - cfg: Planner configuration.
//   - opts: Optional configuration functions.
//
// Outputs:
//   - *Engine: Ready to use planner.
//   - error: Wraps ErrNilSimulator, ErrNoActions or ErrInvalidConfig.
func New(sim simulator.Simulator, cfg Config, opts ...Option) (*Engine, error) {
	if sim == nil {
		return nil, ErrNilSimulator
	}
	if sim.NumActions() <= 0 {
		return nil, ErrNoActions
	}
	if sim.NumObservations() <= 0 {
		return nil, fmt.Errorf("%w: world model has no observations", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		sim:    sim,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = NewTracer(e.logger, cfg.Observability)
	}
	if e.rng == nil {
		e.rng = newRand(cfg.Search.Seed)
	}

	e.tree = NewTree(sim, 0)
	start := sim.CreateStartState()
	e.root = e.tree.Expand(start, &e.history, &e.status)
	sim.Free(start)

	rootNode := e.tree.Node(e.root)
	for i := 0; i < cfg.Search.NumStartStates; i++ {
		rootNode.Beliefs.AddSample(sim.CreateStartState())
	}

	if cfg.Search.UseRelevance {
		e.table = relevance.New()
		sim.InitializeRelevanceTable(e.table)
		e.logger.Info("Relevance table initialised",
			slog.Int("entries", e.table.Len()),
			slog.Int("features", e.table.NumFeatures()),
			slog.Float64("threshold", e.table.ActivationThreshold()),
		)
	}

	e.search = newSearcher(sim, e.tree, e.table, &e.history, &e.status, e.rng, cfg.Search)
	e.sel = newSelector(cfg.Search.ExplorationConstant, e.rng)
	return e, nil
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SelectAction searches from the current belief and returns the action
// with the highest estimated value.
//
// Search stops after Search.NumSimulations simulations, when
// Budget.TimeLimit or Budget.MaxNodes is reached, or when ctx is done.
// Stopping early is not an error; the action is chosen from whatever
// statistics were gathered.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//
// Outputs:
//   - int: The chosen action.
//   - error: ErrOutOfParticles when the root belief is empty.
func (e *Engine) SelectAction(ctx context.Context) (int, error) {
	rootNode := e.tree.Node(e.root)
	ctx, span := e.tracer.StartSelectAction(ctx, e.cfg, rootNode.Beliefs.Len())

	if rootNode.Beliefs.Empty() {
		e.tracer.EndSelectAction(span, -1, BudgetReport{}, ErrOutOfParticles)
		return -1, ErrOutOfParticles
	}

	budget := NewSearchBudget(e.cfg.Budget, e.cfg.Search.NumSimulations)
	if e.cfg.Parallel.Workers > 1 {
		if err := e.parallelSearch(ctx, budget); err != nil {
			e.tracer.EndSelectAction(span, -1, budget.Report(), err)
			return -1, err
		}
	} else {
		e.search.run(ctx, e.root, &rootNode.Beliefs, budget)
		e.lastStats = e.search.stats
	}

	e.candidates = activeCandidates(e.candidates[:0], e.table, e.sim.NumActions())
	action := e.sel.best(rootNode, false, e.candidates)

	e.lastReport = budget.Report()
	LoggerWithTrace(ctx, e.logger).Debug("POMCP search complete",
		slog.Int("action", action),
		slog.Int64("simulations", e.lastReport.Simulations),
		slog.Float64("tree_depth", e.lastStats.TreeDepth.Mean()),
		slog.Float64("rollout_depth", e.lastStats.RolloutDepth.Mean()),
		slog.Int("nodes", e.tree.Live()),
		slog.Duration("elapsed", e.lastReport.Elapsed),
	)
	if e.cfg.Observability.MetricsEnabled {
		recordSelectAction(ctx, e.lastReport, e.lastStats, e.tree.Live(), e.table != nil)
	}
	e.tracer.EndSelectAction(span, action, e.lastReport, nil)
	return action, nil
}

// Update advances the tree after the real world executed action and
// returned observation.
//
// The new belief is the matched subtree's belief plus, with
// Search.UseTransforms, reinvigorated particles. When no particle
// survives, Update installs an empty root and returns false; the caller
// should act with a fallback policy for the rest of the episode.
//
// Inputs:
//   - ctx: Context for tracing.
//   - action: The executed action.
//   - observation: The real observation.
//   - r: The real reward.
//
// Outputs:
//   - bool: False when the planner ran out of particles.
func (e *Engine) Update(ctx context.Context, action, observation int, r float64) bool {
	ctx, span := e.tracer.StartUpdate(ctx, action, observation, r)
	logger := LoggerWithTrace(ctx, e.logger)

	if observation < 0 || observation >= e.sim.NumObservations() {
		contractViolation("Engine.Update", "observation %d outside [0, %d)", observation, e.sim.NumObservations())
	}

	e.history.Add(action, observation)
	rootNode := e.tree.Node(e.root)

	var beliefs belief.State
	if h, ok := rootNode.Child(action).Child(observation); ok {
		beliefs.Copy(&e.tree.Node(h).Beliefs, e.sim)
		logger.Info("Matched particles", slog.Int("particles", beliefs.Len()))
	} else {
		logger.Info("No matching node found")
	}
	matched := beliefs.Len()

	transforms := 0
	if e.cfg.Search.UseTransforms {
		transforms = e.addTransforms(rootNode, &beliefs)
		logger.Info("Created local transformations",
			slog.Int("added", transforms),
			slog.Int("max_attempts", e.cfg.Search.MaxAttempts),
		)
	}

	if beliefs.Empty() {
		e.tree.FreeSubtree(e.root)
		e.root = e.tree.Expand(nil, &e.history, &e.status)
		e.status.Particles = simulator.ParticlesOutOfParticles
		e.tracer.TraceStarvation(ctx, e.history.Len())
		if e.cfg.Observability.MetricsEnabled {
			recordUpdate(ctx, matched, transforms, false)
		}
		e.tracer.EndUpdate(span, matched, transforms, false)
		return false
	}

	if e.table != nil {
		e.reviseRelevance(ctx, &beliefs)
	}

	// Any surviving particle seeds the prior of the new root.
	state := beliefs.Sample(0)
	e.tree.FreeSubtree(e.root)
	e.root = e.tree.Expand(state, &e.history, &e.status)
	e.tree.Node(e.root).Beliefs.Move(&beliefs)

	if matched > 0 {
		e.status.Particles = simulator.ParticlesConsistent
	} else {
		e.status.Particles = simulator.ParticlesResampled
	}

	if e.cfg.Observability.MetricsEnabled {
		recordUpdate(ctx, matched, transforms, true)
	}
	e.tracer.EndUpdate(span, matched, transforms, true)
	return true
}

// addTransforms reinvigorates beliefs with old-root particles that the
// world model can move into agreement with the last real step.
func (e *Engine) addTransforms(root *VNode, beliefs *belief.State) int {
	if root.Beliefs.Empty() {
		return 0
	}
	last := e.history.Back()
	added, attempts := 0, 0
	for added < e.cfg.Search.NumTransforms && attempts < e.cfg.Search.MaxAttempts {
		state := root.Beliefs.CreateSample(e.sim, e.rng)
		stepObs, _, _ := e.sim.Step(state, last.Action)
		if e.sim.LocalMove(state, &e.history, stepObs, &e.status) {
			beliefs.AddSample(state)
			added++
		} else {
			e.sim.Free(state)
		}
		attempts++
	}
	return added
}

// reviseRelevance switches features on or off from their relevance values,
// mirrors the decision onto every particle and ages the table.
func (e *Engine) reviseRelevance(ctx context.Context, beliefs *belief.State) {
	rev := e.table.Revise(e.rng)
	for f, on := range rev.Active {
		beliefs.ActivateFeature(f, on)
	}
	e.table.Transition()

	e.tracer.TraceRevision(ctx, rev)
	if e.cfg.Observability.MetricsEnabled {
		recordRevision(ctx, len(rev.Deactivated()))
	}
}

// Beliefs returns the root belief. The caller must not modify it.
func (e *Engine) Beliefs() *belief.State {
	return &e.tree.Node(e.root).Beliefs
}

// Root returns the current root decision node. The caller must not modify it.
func (e *Engine) Root() *VNode {
	return e.tree.Node(e.root)
}

// History returns the real history. The caller must not modify it.
func (e *Engine) History() *simulator.History {
	return &e.history
}

// Status returns the planner status.
func (e *Engine) Status() simulator.Status {
	return e.status
}

// Relevance returns the relevance table, or nil when relevance is disabled.
func (e *Engine) Relevance() *relevance.Table {
	return e.table
}

// Statistics returns the statistics of the last SelectAction.
func (e *Engine) Statistics() Statistics {
	return e.lastStats
}

// LastReport returns the budget usage of the last SelectAction.
func (e *Engine) LastReport() BudgetReport {
	return e.lastReport
}

// NodesLive returns the number of outstanding decision nodes.
func (e *Engine) NodesLive() int {
	return e.tree.Live()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close releases the tree and every particle it holds. The engine must
// not be used afterwards.
func (e *Engine) Close() {
	if !e.root.Valid() {
		return
	}
	e.tree.FreeSubtree(e.root)
	e.root = pool.Handle{}
}
