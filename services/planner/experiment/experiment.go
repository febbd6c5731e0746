// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment runs the planner against a "real" world model.
//
// An Experiment owns two simulators: the real one, which holds the true
// hidden state and produces the observations, and the planning one, which
// the engine searches with. They may be the same value. Episodes, multi-run
// aggregates and the simulation-doubling sweeps are reported through
// Results and, when a Store is attached, persisted to BadgerDB.
//
// # Out of particles
//
// When the planner cannot reconstruct a belief after an observation, the
// episode is finished with the rollout policy applied to the real state.
// The rollout policy must therefore only use the observable parts of a
// state, or the fallback steps leak hidden information.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/mcts"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/telemetry"
)

// Experiment runs episodes and sweeps.
//
// Thread Safety: Not safe for concurrent use, except Progress.
type Experiment struct {
	realSim simulator.Simulator
	sim     simulator.Simulator
	cfg     Config
	search  mcts.Config
	domain  string

	results Results
	store   *Store
	sweepID string
	seq     int
	runs    int

	rng      *rand.Rand
	progress *rate.Limiter
	display  io.Writer
	tracer   *mcts.Tracer
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot Progress
}

// Progress is a snapshot of a running experiment, safe to read from
// another goroutine.
type Progress struct {
	SweepID        string  `json:"sweep_id"`
	Domain         string  `json:"domain"`
	Episodes       int     `json:"episodes"`
	Simulations    int     `json:"simulations"`
	LastReturn     float64 `json:"last_discounted_return"`
	DiscountedMean float64 `json:"discounted_mean"`
}

// Option configures an Experiment.
type Option func(*Experiment)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Experiment) {
		x.logger = logger
	}
}

// WithStore persists every episode and sweep row to store.
func WithStore(store *Store) Option {
	return func(x *Experiment) {
		x.store = store
	}
}

// WithDomain names the world model in stored sweep metadata.
func WithDomain(name string) Option {
	return func(x *Experiment) {
		x.domain = name
	}
}

// WithMetrics records every finished episode to metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(x *Experiment) {
		x.metrics = metrics
	}
}

// WithDisplay writes every real step through the real world model's
// simulator.Displayer, when it implements one.
func WithDisplay(w io.Writer) Option {
	return func(x *Experiment) {
		x.display = w
	}
}

// WithProgressInterval sets the minimum interval between progress logs.
func WithProgressInterval(d time.Duration) Option {
	return func(x *Experiment) {
		x.progress = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New creates an Experiment.
//
// With AutoExploration the planner's exploration constant is replaced by
// the planning model's reward range.
//
// Inputs:
//   - realSim: World model holding the true state.
//   - sim: World model the planner searches with.
//   - cfg: Experiment configuration.
//   - search: Planner configuration used for every episode.
//
// Outputs:
//   - *Experiment: Ready to run.
//   - error: Wraps ErrInvalidConfig or mcts.ErrInvalidConfig.
func New(realSim, sim simulator.Simulator, cfg Config, search mcts.Config, opts ...Option) (*Experiment, error) {
	if realSim == nil || sim == nil {
		return nil, mcts.ErrNilSimulator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AutoExploration {
		search.Search.ExplorationConstant = sim.RewardRange()
	}
	if err := search.Validate(); err != nil {
		return nil, err
	}

	x := &Experiment{
		realSim:  realSim,
		sim:      sim,
		cfg:      cfg,
		search:   search,
		domain:   "unknown",
		progress: rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}

	seed := search.Search.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	x.rng = rand.New(rand.NewPCG(seed, ^seed))
	x.tracer = mcts.NewTracer(x.logger, search.Observability)
	return x, nil
}

// Results returns the aggregate of every episode since the last sweep
// point or ClearResults.
func (x *Experiment) Results() *Results {
	return &x.results
}

// ClearResults drops the aggregate.
func (x *Experiment) ClearResults() {
	x.results.Clear()
}

// SearchConfig returns the planner configuration of the next episode.
func (x *Experiment) SearchConfig() mcts.Config {
	return x.search
}

// Config returns the experiment configuration.
func (x *Experiment) Config() Config {
	return x.cfg
}

// SweepID returns the identifier under which results are stored, empty
// before the first MultiRun or sweep.
func (x *Experiment) SweepID() string {
	return x.sweepID
}

// Progress returns a snapshot of the experiment's progress.
//
// Thread Safety: Safe to call while the experiment runs.
func (x *Experiment) Progress() Progress {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.snapshot
}

// Run plays one episode.
//
// The episode ends on a terminal step, after NumSteps steps, or after
// TimeOut. If the planner runs out of particles, the remaining steps are
// taken by the rollout policy on the real state. Cancelling ctx stops the
// episode between steps and returns the partial episode with ctx's error.
//
// Outputs:
//   - Episode: The outcome, also added to Results.
//   - error: Non-nil when the planner cannot be built, ctx is done, or
//     the store write fails.
func (x *Experiment) Run(ctx context.Context) (Episode, error) {
	start := time.Now()
	ep := Episode{
		ID:          uuid.NewString(),
		Simulations: x.search.Search.NumSimulations,
	}

	search := x.search
	if search.Search.Seed != 0 {
		search.Search.Seed += uint64(x.runs)
	}
	x.runs++

	engine, err := mcts.New(x.sim, search,
		mcts.WithLogger(x.logger.With(slog.String("episode", ep.ID))),
		mcts.WithTracer(x.tracer),
	)
	if err != nil {
		return ep, fmt.Errorf("create planner: %w", err)
	}
	defer engine.Close()

	state := x.realSim.CreateStartState()
	defer x.realSim.Free(state)
	x.displayStart(state)

	discount := 1.0
	record := func(r float64) {
		x.results.Reward.Add(r)
		ep.UndiscountedReturn += r
		ep.DiscountedReturn += r * discount
		discount *= x.realSim.Discount()
	}

	var runErr error
	t := 0
	for ; t < x.cfg.NumSteps; t++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		action, err := engine.SelectAction(ctx)
		if errors.Is(err, mcts.ErrOutOfParticles) {
			ep.OutOfParticles = true
			break
		}
		if err != nil {
			runErr = err
			break
		}

		observation, r, terminal := x.realSim.Step(state, action)
		ep.Steps++
		record(r)
		x.displayStep(state, action, observation, r)

		if terminal {
			ep.Terminated = true
			break
		}

		if !engine.Update(ctx, action, observation, r) {
			ep.OutOfParticles = true
			break
		}

		if x.progress.Allow() {
			x.logger.Info("Episode progress",
				slog.String("episode", ep.ID),
				slog.Int("step", t+1),
				slog.Float64("discounted_return", ep.DiscountedReturn),
				slog.Int("particles", engine.Beliefs().Len()),
			)
		}

		if time.Since(start) > x.cfg.TimeOut {
			ep.TimedOut = true
			x.logger.Warn("Episode timed out",
				slog.Int("steps", t+1),
				slog.Duration("elapsed", time.Since(start)),
			)
			break
		}
	}

	if ep.OutOfParticles && runErr == nil {
		x.logger.Warn("Out of particles, finishing episode with the rollout policy",
			slog.String("episode", ep.ID),
			slog.Int("step", t),
		)
		history := engine.History().Clone()
		status := engine.Status()
		sampler := simulator.NewActionSampler(x.sim)
		for t++; t < x.cfg.NumSteps; t++ {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			action := sampler.SelectRandom(state, history, &status, x.rng)
			observation, r, terminal := x.realSim.Step(state, action)
			ep.Steps++
			ep.FallbackSteps++
			record(r)
			x.displayStep(state, action, observation, r)

			if terminal {
				ep.Terminated = true
				break
			}
			history.Add(action, observation)
		}
	}

	ep.Elapsed = time.Since(start)
	x.results.Time.Add(ep.Elapsed.Seconds())
	x.results.UndiscountedReturn.Add(ep.UndiscountedReturn)
	x.results.DiscountedReturn.Add(ep.DiscountedReturn)
	if ep.Terminated {
		x.results.Terminated++
	}

	x.metrics.RecordEpisode(ctx, telemetry.EpisodeSample{
		Domain:           x.domain,
		Steps:            ep.Steps,
		FallbackSteps:    ep.FallbackSteps,
		DiscountedReturn: ep.DiscountedReturn,
		Elapsed:          ep.Elapsed,
		Terminated:       ep.Terminated,
		OutOfParticles:   ep.OutOfParticles,
	})
	x.mu.Lock()
	x.snapshot = Progress{
		SweepID:        x.sweepID,
		Domain:         x.domain,
		Episodes:       x.snapshot.Episodes + 1,
		Simulations:    ep.Simulations,
		LastReturn:     ep.DiscountedReturn,
		DiscountedMean: x.results.DiscountedReturn.Mean(),
	}
	x.mu.Unlock()

	x.logger.Info("Episode finished",
		slog.String("episode", ep.ID),
		slog.Int("steps", ep.Steps),
		slog.Float64("discounted_return", ep.DiscountedReturn),
		slog.Float64("discounted_average", x.results.DiscountedReturn.Mean()),
		slog.Float64("undiscounted_return", ep.UndiscountedReturn),
		slog.Float64("undiscounted_average", x.results.UndiscountedReturn.Mean()),
		slog.Bool("terminated", ep.Terminated),
		slog.Bool("out_of_particles", ep.OutOfParticles),
	)

	if runErr != nil {
		return ep, runErr
	}
	return ep, x.saveEpisode(ctx, ep)
}

// MultiRun plays NumRuns episodes, stopping early once the summed episode
// time exceeds TimeOut.
func (x *Experiment) MultiRun(ctx context.Context) error {
	if err := x.beginSweep(ctx, "multi_run"); err != nil {
		return err
	}
	return x.multiRun(ctx)
}

func (x *Experiment) multiRun(ctx context.Context) error {
	for n := 0; n < x.cfg.NumRuns; n++ {
		x.logger.Info("Starting run",
			slog.Int("run", n+1),
			slog.Int("simulations", x.search.Search.NumSimulations),
		)
		if _, err := x.Run(ctx); err != nil {
			return err
		}
		if total := x.results.TotalTime(); total > x.cfg.TimeOut {
			x.logger.Warn("Multi-run timed out",
				slog.Int("runs", n+1),
				slog.Duration("elapsed", total),
			)
			break
		}
	}
	return nil
}

// DiscountedReturn sweeps the simulation count over 2^MinDoubles ..
// 2^MaxDoubles and runs MultiRun at each point.
//
// The search horizon is derived from Accuracy and the planning model's
// discount. Episodes longer than 1000 steps are capped at the real model's
// horizon.
func (x *Experiment) DiscountedReturn(ctx context.Context) ([]SweepRow, error) {
	if err := x.beginSweep(ctx, "discounted_return"); err != nil {
		return nil, err
	}
	x.applyHorizon()
	if x.cfg.NumSteps > 1000 {
		x.cfg.NumSteps = max(1, simulator.Horizon(x.realSim.Discount(), x.cfg.Accuracy, x.cfg.UndiscountedHorizon))
	}

	var rows []SweepRow
	for i := x.cfg.MinDoubles; i <= x.cfg.MaxDoubles; i++ {
		x.applyDoubling(i)
		x.results.Clear()
		if err := x.multiRun(ctx); err != nil {
			return rows, err
		}

		row := newSweepRow(x.search.Search.NumSimulations, &x.results)
		rows = append(rows, row)
		x.logger.Info("Sweep point finished",
			slog.Int("simulations", row.Simulations),
			slog.Int("runs", row.Runs),
			slog.Float64("undiscounted_mean", row.UndiscountedMean),
			slog.Float64("undiscounted_stderr", row.UndiscountedStdErr),
			slog.Float64("discounted_mean", row.DiscountedMean),
			slog.Float64("discounted_stderr", row.DiscountedStdErr),
			slog.Float64("time_mean", row.TimeMean),
		)
		if x.store != nil {
			if err := x.store.SaveSweepRow(ctx, x.sweepID, row); err != nil {
				return rows, fmt.Errorf("save sweep row: %w", err)
			}
		}
	}
	return rows, nil
}

// AverageReward sweeps the simulation count like DiscountedReturn but
// plays a single episode per point and reports the mean step reward.
func (x *Experiment) AverageReward(ctx context.Context) ([]AverageRow, error) {
	if err := x.beginSweep(ctx, "average_reward"); err != nil {
		return nil, err
	}
	x.applyHorizon()

	var rows []AverageRow
	for i := x.cfg.MinDoubles; i <= x.cfg.MaxDoubles; i++ {
		x.applyDoubling(i)
		x.results.Clear()
		if _, err := x.Run(ctx); err != nil {
			return rows, err
		}

		row := newAverageRow(x.search.Search.NumSimulations, &x.results)
		rows = append(rows, row)
		x.logger.Info("Sweep point finished",
			slog.Int("simulations", row.Simulations),
			slog.Int("steps", row.Steps),
			slog.Float64("reward_mean", row.RewardMean),
			slog.Float64("reward_stderr", row.RewardStdErr),
			slog.Float64("step_time", row.StepTime),
		)
		if x.store != nil {
			if err := x.store.SaveAverageRow(ctx, x.sweepID, row); err != nil {
				return rows, fmt.Errorf("save average row: %w", err)
			}
		}
	}
	return rows, nil
}

func (x *Experiment) applyHorizon() {
	horizon := max(1, simulator.Horizon(x.sim.Discount(), x.cfg.Accuracy, x.cfg.UndiscountedHorizon))
	x.search.Search.MaxDepth = horizon
	x.cfg.SimSteps = horizon
}

// applyDoubling configures the planner for sweep exponent i.
func (x *Experiment) applyDoubling(i int) {
	s := &x.search.Search
	s.NumSimulations = 1 << i
	s.NumStartStates = 1 << i
	if i+x.cfg.TransformDoubles >= 0 {
		s.NumTransforms = 1 << (i + x.cfg.TransformDoubles)
	} else {
		s.NumTransforms = 1
	}
	s.MaxAttempts = s.NumTransforms * x.cfg.TransformAttempts
}

func (x *Experiment) beginSweep(ctx context.Context, kind string) error {
	x.sweepID = uuid.NewString()
	x.seq = 0
	x.logger.Info("Starting sweep",
		slog.String("sweep", x.sweepID),
		slog.String("kind", kind),
		slog.String("domain", x.domain),
	)
	if x.store == nil {
		return nil
	}
	meta := SweepMeta{ID: x.sweepID, Kind: kind, Domain: x.domain, Started: time.Now().UTC()}
	if err := x.store.SaveSweep(ctx, meta); err != nil {
		return fmt.Errorf("save sweep: %w", err)
	}
	return nil
}

func (x *Experiment) saveEpisode(ctx context.Context, ep Episode) error {
	if x.store == nil {
		return nil
	}
	if x.sweepID == "" {
		if err := x.beginSweep(ctx, "run"); err != nil {
			return err
		}
	}
	x.seq++
	if err := x.store.SaveEpisode(ctx, x.sweepID, x.seq, ep); err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	return nil
}

func (x *Experiment) displayStart(state simulator.State) {
	d, ok := x.realSim.(simulator.Displayer)
	if !ok || x.display == nil {
		return
	}
	fmt.Fprintln(x.display, "Real start state:")
	d.DisplayState(x.display, state)
}

func (x *Experiment) displayStep(state simulator.State, action, observation int, r float64) {
	d, ok := x.realSim.(simulator.Displayer)
	if !ok || x.display == nil {
		return
	}
	d.DisplayAction(x.display, action)
	d.DisplayState(x.display, state)
	d.DisplayObservation(x.display, state, observation)
	d.DisplayReward(x.display, r)
}
