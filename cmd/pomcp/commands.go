// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// cliFlags holds flag values. Only flags the user set override the
// configuration file.
type cliFlags struct {
	configPath string

	logLevel  string
	logFormat string
	logDir    string

	traceExporter  string
	metricExporter string
	metricsAddr    string
	resultsDB      string

	size         int
	rocks        int
	relevance    bool
	treeLevel    string
	rolloutLevel string
	seed         uint64

	simulations int
	workers     int
	runs        int
	steps       int
	timeLimit   string

	display bool

	kind       string
	minDoubles int
	maxDoubles int
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "pomcp",
		Short: "Run relevance-aware POMCP experiments",
		Long: `pomcp plays episodes of a partially observable world model with the
POMCP planner and reports discounted returns. The planner can track which
state features matter to the value estimate and stop exploring actions
that only touch irrelevant features.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: auto, text, json")
	pf.StringVar(&f.logDir, "log-dir", "", "Directory for daily JSON log files")
	pf.StringVar(&f.traceExporter, "trace-exporter", "", "Trace exporter: otlp, stdout, none")
	pf.StringVar(&f.metricExporter, "metric-exporter", "", "Metric exporter: prometheus, stdout, none")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /v1/status on this address")
	pf.StringVar(&f.resultsDB, "results-db", "", "Directory of the results database")

	pf.IntVar(&f.size, "size", 0, "RockSample grid size")
	pf.IntVar(&f.rocks, "rocks", 0, "RockSample rock count")
	pf.BoolVar(&f.relevance, "relevance", false, "Enable relevance tracking")
	pf.StringVar(&f.treeLevel, "tree-level", "", "Tree prior knowledge: pure, legal, smart, pgs")
	pf.StringVar(&f.rolloutLevel, "rollout-level", "", "Rollout knowledge: pure, legal, smart, pgs")
	pf.Uint64Var(&f.seed, "seed", 0, "Seed for the planner and the world model")

	pf.IntVar(&f.simulations, "simulations", 0, "Simulations per action")
	pf.IntVar(&f.workers, "workers", 0, "Parallel search workers")
	pf.IntVar(&f.runs, "runs", 0, "Episodes per experiment point")
	pf.IntVar(&f.steps, "steps", 0, "Maximum steps per episode")
	pf.StringVar(&f.timeLimit, "time-limit", "", "Wall clock limit per action, e.g. 500ms")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Play episodes at a fixed simulation count and report the returns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app, out renderer) error {
				if err := a.exp.MultiRun(ctx); err != nil {
					return err
				}
				return out.Results(a.exp.Results())
			})
		},
	}
	runCmd.Flags().BoolVar(&f.display, "display", false, "Print every real step of the world model")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Double the simulation count and report returns at each point",
		Long: `sweep runs the planner at 2^min-doubles .. 2^max-doubles simulations per
action. With --kind discounted each point plays --runs episodes and reports
mean discounted and undiscounted returns. With --kind average each point
plays one episode and reports the mean reward per step.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app, out renderer) error {
				switch f.kind {
				case "discounted":
					rows, err := a.exp.DiscountedReturn(ctx)
					if err != nil {
						return err
					}
					return out.SweepRows(rows)
				case "average":
					rows, err := a.exp.AverageReward(ctx)
					if err != nil {
						return err
					}
					return out.AverageRows(rows)
				default:
					return fmt.Errorf("unknown sweep kind %q", f.kind)
				}
			})
		},
	}
	sweepCmd.Flags().StringVar(&f.kind, "kind", "discounted", "Sweep kind: discounted, average")
	sweepCmd.Flags().IntVar(&f.minDoubles, "min-doubles", 0, "Smallest simulation exponent")
	sweepCmd.Flags().IntVar(&f.maxDoubles, "max-doubles", 0, "Largest simulation exponent")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(runCmd, sweepCmd, configCmd)
	return rootCmd
}

// withApp builds the app from the resolved configuration, runs fn and
// closes the app.
func withApp(cmd *cobra.Command, f *cliFlags, fn func(context.Context, *app, renderer) error) (err error) {
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}

	var display io.Writer
	if f.display {
		display = cmd.OutOrStdout()
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), display)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a, newRenderer(cmd.OutOrStdout()))
}

// resolveConfig loads the configuration file and applies changed flags.
func resolveConfig(cmd *cobra.Command, f *cliFlags) (FileConfig, error) {
	cfg, err := LoadFileConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(cmd.Flags(), f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyFlags(flags *pflag.FlagSet, f *cliFlags, cfg *FileConfig) error {
	changed := flags.Changed

	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if changed("log-dir") {
		cfg.Logging.Dir = f.logDir
	}
	if changed("trace-exporter") {
		cfg.Telemetry.TraceExporter = f.traceExporter
	}
	if changed("metric-exporter") {
		cfg.Telemetry.MetricExporter = f.metricExporter
	}
	if changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = f.metricsAddr
	}
	if changed("results-db") {
		cfg.ResultsDB = f.resultsDB
	}

	if changed("size") {
		cfg.RockSample.Size = f.size
	}
	if changed("rocks") {
		cfg.RockSample.Rocks = f.rocks
	}
	if changed("relevance") {
		cfg.Planner.Search.UseRelevance = f.relevance
	}
	for _, lf := range []struct {
		name  string
		value string
		dst   *simulator.Level
	}{
		{"tree-level", f.treeLevel, &cfg.RockSample.Knowledge.TreeLevel},
		{"rollout-level", f.rolloutLevel, &cfg.RockSample.Knowledge.RolloutLevel},
	} {
		if !changed(lf.name) {
			continue
		}
		level, err := simulator.ParseLevel(lf.value)
		if err != nil {
			return fmt.Errorf("--%s: %w", lf.name, err)
		}
		*lf.dst = level
	}
	if changed("seed") {
		cfg.Planner.Search.Seed = f.seed
		cfg.RockSample.Seed = f.seed
	}

	if changed("simulations") {
		cfg.Planner.Search.NumSimulations = f.simulations
		cfg.Planner.Search.NumStartStates = max(cfg.Planner.Search.NumStartStates, f.simulations)
	}
	if changed("workers") {
		cfg.Planner.Parallel.Workers = f.workers
	}
	if changed("runs") {
		cfg.Experiment.NumRuns = f.runs
	}
	if changed("steps") {
		cfg.Experiment.NumSteps = f.steps
	}
	if changed("time-limit") {
		d, err := time.ParseDuration(f.timeLimit)
		if err != nil {
			return fmt.Errorf("--time-limit: %w", err)
		}
		cfg.Planner.Budget.TimeLimit = d
	}
	if changed("min-doubles") {
		cfg.Experiment.MinDoubles = f.minDoubles
	}
	if changed("max-doubles") {
		cfg.Experiment.MaxDoubles = f.maxDoubles
	}
	return nil
}
