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
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/domains/rocksample"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/experiment"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/mcts"
	"github.com/AleutianAI/AleutianPOMCP/services/planner/telemetry"
)

// FileConfig is the pomcp configuration file.
//
// Example:
//
//	planner:
//	  search:
//	    num_simulations: 4096
//	    use_relevance: true
//	  parallel:
//	    workers: 4
//	experiment:
//	  num_runs: 50
//	rocksample:
//	  size: 11
//	  rocks: 11
//	results_db: ~/.pomcp/results
type FileConfig struct {
	Planner    mcts.Config       `json:"planner" yaml:"planner"`
	Experiment experiment.Config `json:"experiment" yaml:"experiment"`
	RockSample rocksample.Config `json:"rocksample" yaml:"rocksample"`
	Telemetry  telemetry.Config  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig     `json:"logging" yaml:"logging"`

	// ResultsDB is the badger directory for episodes and sweep rows.
	// Empty disables persistence.
	ResultsDB string `json:"results_db" yaml:"results_db"`
}

// LoggingConfig selects log level and destinations.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`

	// Format is "auto", "text" or "json". Auto picks JSON when stderr is
	// not a terminal.
	Format string `json:"format" yaml:"format"`

	// Dir enables the daily JSON log file.
	Dir string `json:"dir" yaml:"dir"`
}

// DefaultFileConfig returns the defaults of every section.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Planner:    mcts.DefaultConfig(),
		Experiment: experiment.DefaultConfig(),
		RockSample: rocksample.DefaultConfig(),
		Telemetry:  telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadFileConfig reads path over the defaults and applies the POMCP_*
// planner environment overrides. An empty path uses defaults only; a
// named file that does not exist is an error.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	mcts.ApplyEnv(&cfg.Planner)
	return cfg, nil
}

// Validate checks every section that has its own validation.
func (c FileConfig) Validate() error {
	if err := c.Planner.Validate(); err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	if err := c.Experiment.Validate(); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// WriteYAML writes c as YAML.
func (c FileConfig) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
