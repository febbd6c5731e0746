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
	"fmt"
)

// Sentinel errors for the mcts package.
var (
	// Planning outcomes
	ErrOutOfParticles = errors.New("mcts out of particles")

	// Budget reasons, reported by SearchBudget.Err
	ErrSimulationLimitExceeded = errors.New("mcts simulation limit exceeded")
	ErrTimeLimitExceeded       = errors.New("mcts time limit exceeded")
	ErrNodeLimitExceeded       = errors.New("mcts node limit exceeded")
	ErrSearchCancelled         = errors.New("mcts search cancelled")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid mcts config")
	ErrNoActions     = errors.New("world model has no actions")
	ErrNilSimulator  = errors.New("world model is nil")
)

// ContractError reports a world model that broke its contract, such as
// an observation outside [0, NumObservations). The engine panics with a
// *ContractError because continuing would corrupt the tree.
type ContractError struct {
	Op  string
	Err error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("mcts contract violation in %s: %v", e.Op, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

func contractViolation(op string, format string, args ...any) {
	panic(&ContractError{Op: op, Err: fmt.Errorf(format, args...)})
}
