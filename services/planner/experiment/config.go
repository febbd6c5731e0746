// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig indicates the experiment configuration is invalid.
var ErrInvalidConfig = errors.New("invalid experiment configuration")

var configValidate = validator.New()

// Config controls episode length, run counts and the doubling sweeps.
type Config struct {
	// NumRuns is the number of episodes per MultiRun.
	NumRuns int `json:"num_runs" yaml:"num_runs" validate:"gte=1"`

	// NumSteps caps the length of one episode.
	NumSteps int `json:"num_steps" yaml:"num_steps" validate:"gte=1"`

	// SimSteps is the simulation horizon. Sweeps derive it from Accuracy.
	SimSteps int `json:"sim_steps" yaml:"sim_steps" validate:"gte=1"`

	// TimeOut bounds one episode and, cumulatively, one MultiRun.
	TimeOut time.Duration `json:"time_out" yaml:"time_out" validate:"gt=0"`

	// MinDoubles and MaxDoubles bound the sweep exponent i; each sweep
	// point searches with 2^i simulations.
	MinDoubles int `json:"min_doubles" yaml:"min_doubles" validate:"gte=0,lte=30"`
	MaxDoubles int `json:"max_doubles" yaml:"max_doubles" validate:"gte=0,lte=30,gtefield=MinDoubles"`

	// TransformDoubles offsets the exponent for the transform count:
	// transforms = 2^(i+TransformDoubles), at least 1.
	TransformDoubles int `json:"transform_doubles" yaml:"transform_doubles"`

	// TransformAttempts multiplies the transform count into MaxAttempts.
	TransformAttempts int `json:"transform_attempts" yaml:"transform_attempts" validate:"gte=1"`

	// Accuracy is the discounted reward below which the horizon ends.
	Accuracy float64 `json:"accuracy" yaml:"accuracy" validate:"gt=0,lt=1"`

	// UndiscountedHorizon is the horizon used when discount is 1.
	UndiscountedHorizon int `json:"undiscounted_horizon" yaml:"undiscounted_horizon" validate:"gte=1"`

	// AutoExploration sets the exploration constant to the reward range
	// of the planning model.
	AutoExploration bool `json:"auto_exploration" yaml:"auto_exploration"`
}

// DefaultConfig returns the classic experiment defaults.
func DefaultConfig() Config {
	return Config{
		NumRuns:             1000,
		NumSteps:            100000,
		SimSteps:            1000,
		TimeOut:             time.Hour,
		MinDoubles:          0,
		MaxDoubles:          20,
		TransformDoubles:    -4,
		TransformAttempts:   1000,
		Accuracy:            0.01,
		UndiscountedHorizon: 1000,
		AutoExploration:     true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
