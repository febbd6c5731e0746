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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianPOMCP/pkg/logging"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/domains/rocksample"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/experiment"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/telemetry"
)

// app owns everything a command needs for one experiment.
type app struct {
	cfg    FileConfig
	logger *logging.Logger

	shutdownTelemetry func(context.Context) error
	server            *telemetry.Server
	store             *experiment.Store
	exp               *experiment.Experiment
}

// newApp wires logging, telemetry, the results store and the experiment.
// On error everything already started is torn down.
func newApp(ctx context.Context, cfg FileConfig, stderr, display io.Writer) (a *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	a.logger, err = newLogger(cfg.Logging, stderr)
	if err != nil {
		return a, err
	}
	logger := a.logger.Slog()

	a.shutdownTelemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return a, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian.pomcp.experiment"))
	if err != nil {
		return a, fmt.Errorf("create metrics: %w", err)
	}

	if cfg.ResultsDB != "" {
		storeCfg := experiment.DefaultStoreConfig(expandHome(cfg.ResultsDB))
		storeCfg.Logger = logger
		a.store, err = experiment.OpenStore(storeCfg)
		if err != nil {
			return a, err
		}
	}

	realSim, err := rocksample.New(cfg.RockSample)
	if err != nil {
		return a, fmt.Errorf("create real world model: %w", err)
	}
	planCfg := cfg.RockSample
	if planCfg.Seed != 0 {
		planCfg.Seed++
	}
	planSim, err := rocksample.New(planCfg)
	if err != nil {
		return a, fmt.Errorf("create planning world model: %w", err)
	}
	planSim.UseRelevance(cfg.Planner.Search.UseRelevance)

	opts := []experiment.Option{
		experiment.WithLogger(logger),
		experiment.WithMetrics(metrics),
		experiment.WithDomain(fmt.Sprintf("rocksample_%d_%d", cfg.RockSample.Size, cfg.RockSample.Rocks)),
	}
	if a.store != nil {
		opts = append(opts, experiment.WithStore(a.store))
	}
	if display != nil {
		opts = append(opts, experiment.WithDisplay(display))
	}
	a.exp, err = experiment.New(realSim, planSim, cfg.Experiment, cfg.Planner, opts...)
	if err != nil {
		return a, err
	}

	if cfg.Telemetry.MetricsAddr != "" {
		router := telemetry.NewRouter(metrics, func() any { return a.exp.Progress() })
		a.server = telemetry.Serve(cfg.Telemetry.MetricsAddr, router, logger)
	}
	return a, nil
}

// Close stops the metrics server, flushes telemetry and closes the store
// and the logger. It returns every error joined.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("results store: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg LoggingConfig, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	jsonOut := cfg.Format == "json"
	if cfg.Format == "auto" || cfg.Format == "" {
		jsonOut = !isTerminal(stderr)
	}
	logger := logging.New(logging.Config{
		Level:  level,
		LogDir: cfg.Dir,
		JSON:   jsonOut,
		Writer: stderr,
	})
	slog.SetDefault(logger.Slog())
	return logger, nil
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
