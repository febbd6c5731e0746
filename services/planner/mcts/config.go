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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configValidate checks the struct tags of Config.
var configValidate = validator.New()

// Config contains all planner configuration.
// This is the top-level config struct that can be loaded from files/env.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Search contains the planning algorithm settings.
	Search SearchConfig `json:"search" yaml:"search"`

	// Budget contains per-call resource limits on top of NumSimulations.
	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// Parallel contains root-parallel search settings.
	Parallel ParallelConfig `json:"parallel" yaml:"parallel"`

	// Observability contains tracing and metrics settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// SearchConfig contains the planning algorithm settings.
type SearchConfig struct {
	// MaxDepth is the search horizon, counted from the root, for both the
	// tree phase and rollouts.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"gte=1"`

	// NumSimulations is the number of trajectories per SelectAction.
	NumSimulations int `json:"num_simulations" yaml:"num_simulations" validate:"gte=1"`

	// NumStartStates is the number of particles in the initial belief.
	NumStartStates int `json:"num_start_states" yaml:"num_start_states" validate:"gte=1"`

	// UseTransforms enables particle reinvigoration in Update.
	UseTransforms bool `json:"use_transforms" yaml:"use_transforms"`

	// NumTransforms is how many transformed particles Update tries to add.
	NumTransforms int `json:"num_transforms" yaml:"num_transforms" validate:"gte=0"`

	// MaxAttempts bounds the transform attempts per Update.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" validate:"gte=0,gtefield=NumTransforms"`

	// ExpandCount is the visit count an action node needs before it
	// grows an observation child.
	ExpandCount int `json:"expand_count" yaml:"expand_count" validate:"gte=0"`

	// ExplorationConstant is the UCB exploration weight.
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant" validate:"gte=0"`

	// DisableTree replaces tree search with flat rollouts from the root.
	DisableTree bool `json:"disable_tree" yaml:"disable_tree"`

	// UseRelevance enables the relevance table and relevance-filtered
	// action selection.
	UseRelevance bool `json:"use_relevance" yaml:"use_relevance"`

	// ValidateParticles runs the world model's Validator on every
	// sampled particle.
	ValidateParticles bool `json:"validate_particles" yaml:"validate_particles"`

	// Seed seeds the engine's random source. Zero picks a random seed.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// BudgetConfig contains per-call resource limits.
type BudgetConfig struct {
	// TimeLimit bounds the wall clock of one SelectAction. Zero disables it.
	TimeLimit time.Duration `json:"time_limit" yaml:"time_limit" validate:"gte=0"`

	// MaxNodes bounds the number of live decision nodes. Zero disables it.
	MaxNodes int `json:"max_nodes" yaml:"max_nodes" validate:"gte=0"`
}

// ParallelConfig contains root-parallel search settings.
type ParallelConfig struct {
	// Workers is the number of concurrent searchers. 1 searches serially.
	Workers int `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	ServiceName    string `json:"service_name" yaml:"service_name"`
}

// DefaultSearchConfig returns the classic POMCP defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxDepth:            100,
		NumSimulations:      1000,
		NumStartStates:      1000,
		UseTransforms:       true,
		NumTransforms:       0,
		MaxAttempts:         0,
		ExpandCount:         1,
		ExplorationConstant: 1,
	}
}

// DefaultConfig returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func DefaultConfig() Config {
	return Config{
		Search: DefaultSearchConfig(),
		Budget: BudgetConfig{},
		Parallel: ParallelConfig{
			Workers: 1,
		},
		Observability: ObservabilityConfig{
			TracingEnabled: true,
			MetricsEnabled: true,
			ServiceName:    "pomcp",
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if file exists but is invalid.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	ApplyEnv(&config)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// ApplyEnv overrides config with the POMCP_* environment variables that are set.
func ApplyEnv(config *Config) {
	// Search
	envInt("POMCP_MAX_DEPTH", &config.Search.MaxDepth)
	envInt("POMCP_NUM_SIMULATIONS", &config.Search.NumSimulations)
	envInt("POMCP_NUM_START_STATES", &config.Search.NumStartStates)
	envBool("POMCP_USE_TRANSFORMS", &config.Search.UseTransforms)
	envInt("POMCP_NUM_TRANSFORMS", &config.Search.NumTransforms)
	envInt("POMCP_MAX_ATTEMPTS", &config.Search.MaxAttempts)
	envInt("POMCP_EXPAND_COUNT", &config.Search.ExpandCount)
	envFloat("POMCP_EXPLORATION_CONSTANT", &config.Search.ExplorationConstant)
	envBool("POMCP_DISABLE_TREE", &config.Search.DisableTree)
	envBool("POMCP_USE_RELEVANCE", &config.Search.UseRelevance)
	if v := os.Getenv("POMCP_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Search.Seed = u
		}
	}

	// Budget
	if v := os.Getenv("POMCP_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Budget.TimeLimit = d
		}
	}
	envInt("POMCP_MAX_NODES", &config.Budget.MaxNodes)

	// Parallel
	envInt("POMCP_WORKERS", &config.Parallel.Workers)

	// Observability
	envBool("POMCP_TRACING_ENABLED", &config.Observability.TracingEnabled)
	envBool("POMCP_METRICS_ENABLED", &config.Observability.MetricsEnabled)
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig if configuration is invalid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
