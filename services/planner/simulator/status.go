// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simulator

import (
	"fmt"
	"strings"
)

// Phase tells the world model which part of a simulation is running.
type Phase int

const (
	PhaseTree Phase = iota
	PhaseRollout
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseTree:
		return "tree"
	case PhaseRollout:
		return "rollout"
	default:
		return "unknown"
	}
}

// Particles describes the health of the root belief.
type Particles int

const (
	ParticlesConsistent Particles = iota
	ParticlesInconsistent
	ParticlesResampled
	ParticlesOutOfParticles
)

// String implements fmt.Stringer.
func (p Particles) String() string {
	switch p {
	case ParticlesConsistent:
		return "consistent"
	case ParticlesInconsistent:
		return "inconsistent"
	case ParticlesResampled:
		return "resampled"
	case ParticlesOutOfParticles:
		return "out_of_particles"
	default:
		return "unknown"
	}
}

// Status is passed to the world model on every generator and LocalMove call.
type Status struct {
	Phase     Phase
	Particles Particles
}

// Level is how much domain knowledge a policy may use.
type Level int

const (
	// LevelPure ignores legality; every action is a candidate.
	LevelPure Level = iota

	// LevelLegal restricts candidates to legal actions.
	LevelLegal

	// LevelSmart prefers the domain's preferred actions.
	LevelSmart

	// LevelPGS prefers the domain's potential-based ranking.
	LevelPGS
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelPure:
		return "pure"
	case LevelLegal:
		return "legal"
	case LevelSmart:
		return "smart"
	case LevelPGS:
		return "pgs"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "pure":
		return LevelPure, nil
	case "legal":
		return LevelLegal, nil
	case "smart":
		return LevelSmart, nil
	case "pgs":
		return LevelPGS, nil
	default:
		return LevelPure, fmt.Errorf("unknown knowledge level %q", s)
	}
}

// Knowledge configures how decision nodes are seeded and how rollouts pick
// actions.
type Knowledge struct {
	TreeLevel    Level `json:"tree_level" yaml:"tree_level"`
	RolloutLevel Level `json:"rollout_level" yaml:"rollout_level"`

	// SmartTreeCount and SmartTreeValue seed preferred actions at
	// TreeLevel >= LevelSmart.
	SmartTreeCount float64 `json:"smart_tree_count" yaml:"smart_tree_count"`
	SmartTreeValue float64 `json:"smart_tree_value" yaml:"smart_tree_value"`
}

// DefaultKnowledge uses legal actions in the tree and in rollouts.
func DefaultKnowledge() Knowledge {
	return Knowledge{
		TreeLevel:      LevelLegal,
		RolloutLevel:   LevelLegal,
		SmartTreeCount: 10,
		SmartTreeValue: 1.0,
	}
}
