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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Search.MaxDepth != 100 {
		t.Errorf("MaxDepth = %d, want 100", cfg.Search.MaxDepth)
	}
	if cfg.Search.NumSimulations != 1000 {
		t.Errorf("NumSimulations = %d, want 1000", cfg.Search.NumSimulations)
	}
	if cfg.Search.NumStartStates != 1000 {
		t.Errorf("NumStartStates = %d, want 1000", cfg.Search.NumStartStates)
	}
	if !cfg.Search.UseTransforms {
		t.Error("UseTransforms should default to true")
	}
	if cfg.Search.ExpandCount != 1 {
		t.Errorf("ExpandCount = %d, want 1", cfg.Search.ExpandCount)
	}
	if cfg.Search.ExplorationConstant != 1 {
		t.Errorf("ExplorationConstant = %f, want 1", cfg.Search.ExplorationConstant)
	}
	if cfg.Parallel.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Parallel.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero depth", func(c *Config) { c.Search.MaxDepth = 0 }},
		{"zero simulations", func(c *Config) { c.Search.NumSimulations = 0 }},
		{"zero start states", func(c *Config) { c.Search.NumStartStates = 0 }},
		{"negative exploration", func(c *Config) { c.Search.ExplorationConstant = -1 }},
		{"attempts below transforms", func(c *Config) {
			c.Search.NumTransforms = 10
			c.Search.MaxAttempts = 5
		}},
		{"no workers", func(c *Config) { c.Parallel.Workers = 0 }},
		{"negative time limit", func(c *Config) { c.Budget.TimeLimit = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pomcp.yaml")
	yamlData := `
search:
  max_depth: 40
  num_simulations: 256
  num_transforms: 8
  max_attempts: 64
  use_relevance: true
budget:
  time_limit: 250ms
parallel:
  workers: 2
`
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POMCP_NUM_SIMULATIONS", "512")
	t.Setenv("POMCP_SEED", "99")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Search.MaxDepth != 40 {
		t.Errorf("MaxDepth = %d, want 40 from file", cfg.Search.MaxDepth)
	}
	if cfg.Search.NumSimulations != 512 {
		t.Errorf("NumSimulations = %d, want 512 from env", cfg.Search.NumSimulations)
	}
	if cfg.Search.Seed != 99 {
		t.Errorf("Seed = %d, want 99", cfg.Search.Seed)
	}
	if !cfg.Search.UseRelevance {
		t.Error("UseRelevance should be set from file")
	}
	if cfg.Budget.TimeLimit != 250*time.Millisecond {
		t.Errorf("TimeLimit = %v, want 250ms", cfg.Budget.TimeLimit)
	}
	if cfg.Parallel.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Parallel.Workers)
	}
	// Untouched fields keep their defaults.
	if cfg.Search.NumStartStates != 1000 {
		t.Errorf("NumStartStates = %d, want default 1000", cfg.Search.NumStartStates)
	}
}

func TestLoadConfig_JSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pomcp.json")
	if err := os.WriteFile(path, []byte(`{"search": {"max_depth": 12, "num_simulations": 64, "num_start_states": 10}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search.MaxDepth != 12 || cfg.Search.NumSimulations != 64 || cfg.Search.NumStartStates != 10 {
		t.Errorf("search = %+v, want values from JSON", cfg.Search)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search != DefaultSearchConfig() {
		t.Errorf("search = %+v, want defaults", cfg.Search)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("search:\n  num_transforms: 10\n  max_attempts: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfig() = %v, want ErrInvalidConfig", err)
	}
}
