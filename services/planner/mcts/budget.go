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
	"sync"
	"sync/atomic"
	"time"
)

// SearchBudget tracks resource consumption during one planning call.
//
// Simulations are handed out through Claim, so several workers sharing a
// budget never run more than the simulation limit between them. Parallel
// search also gives each worker a fixed share of the limit. Limits are
// only checked between simulations.
//
// Thread Safety: Safe for concurrent use.
type SearchBudget struct {
	config         BudgetConfig
	maxSimulations int64
	startTime      time.Time

	// Atomic counters
	claimed   int64
	completed int64

	mu        sync.RWMutex
	exhausted error // Which limit was hit
}

// NewSearchBudget creates a budget for maxSimulations trajectories.
//
// Inputs:
//   - config: Per-call limits.
//   - maxSimulations: Trajectory limit for this call.
//
// Outputs:
//   - *SearchBudget: Budget tracker, ready to use.
func NewSearchBudget(config BudgetConfig, maxSimulations int) *SearchBudget {
	return &SearchBudget{
		config:         config,
		maxSimulations: int64(maxSimulations),
		startTime:      time.Now(),
	}
}

// Claim reserves one simulation. It returns false, and records the reason,
// once any limit is reached or ctx is done.
func (b *SearchBudget) Claim(ctx context.Context) bool {
	if b.Exhausted() {
		return false
	}
	if err := ctx.Err(); err != nil {
		b.exhaust(fmt.Errorf("%w: %w", ErrSearchCancelled, err))
		return false
	}
	if b.config.TimeLimit > 0 && b.Elapsed() >= b.config.TimeLimit {
		b.exhaust(ErrTimeLimitExceeded)
		return false
	}
	if atomic.AddInt64(&b.claimed, 1) > b.maxSimulations {
		atomic.AddInt64(&b.claimed, -1)
		b.exhaust(ErrSimulationLimitExceeded)
		return false
	}
	return true
}

// Complete records a finished simulation.
func (b *SearchBudget) Complete() {
	atomic.AddInt64(&b.completed, 1)
}

// CheckNodes records node-limit exhaustion when live exceeds MaxNodes.
// It returns false when the limit is reached.
func (b *SearchBudget) CheckNodes(live int) bool {
	if b.config.MaxNodes > 0 && live >= b.config.MaxNodes {
		b.exhaust(ErrNodeLimitExceeded)
		return false
	}
	return true
}

// Simulations returns the number of completed simulations.
func (b *SearchBudget) Simulations() int64 {
	return atomic.LoadInt64(&b.completed)
}

// Elapsed returns time elapsed since the budget was created.
func (b *SearchBudget) Elapsed() time.Duration {
	return time.Since(b.startTime)
}

// Exhausted reports whether any limit has been reached.
func (b *SearchBudget) Exhausted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exhausted != nil
}

// Err returns the limit that stopped the search, or nil. Workers that
// stop on their own share leave no reason behind, so a budget whose
// simulations all completed reports the simulation limit.
func (b *SearchBudget) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.exhausted == nil && b.maxSimulations > 0 && atomic.LoadInt64(&b.completed) >= b.maxSimulations {
		return ErrSimulationLimitExceeded
	}
	return b.exhausted
}

func (b *SearchBudget) exhaust(reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted == nil {
		b.exhausted = reason
	}
}

// Report returns a summary of budget usage.
func (b *SearchBudget) Report() BudgetReport {
	return BudgetReport{
		Simulations:    b.Simulations(),
		MaxSimulations: b.maxSimulations,
		Elapsed:        b.Elapsed(),
		StoppedBy:      b.Err(),
	}
}

// BudgetReport summarizes one planning call.
type BudgetReport struct {
	Simulations    int64
	MaxSimulations int64
	Elapsed        time.Duration
	StoppedBy      error
}

// String implements fmt.Stringer.
func (r BudgetReport) String() string {
	reason := "running"
	if r.StoppedBy != nil {
		reason = r.StoppedBy.Error()
	}
	return fmt.Sprintf("Budget: %d/%d simulations in %v (%s)",
		r.Simulations, r.MaxSimulations, r.Elapsed.Round(time.Millisecond), reason)
}
