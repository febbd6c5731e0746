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
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/stats"
)

// Results aggregates episodes run with one search configuration.
type Results struct {
	// Time holds episode wall clock in seconds.
	Time stats.Statistic

	// Reward holds every per-step reward.
	Reward stats.Statistic

	UndiscountedReturn stats.Statistic
	DiscountedReturn   stats.Statistic

	// Terminated counts episodes that reached a terminal state.
	Terminated int
}

// Clear drops every recorded episode.
func (r *Results) Clear() {
	*r = Results{}
}

// TotalTime returns the summed episode wall clock.
func (r *Results) TotalTime() time.Duration {
	seconds := r.Time.Mean() * float64(r.Time.Count())
	return time.Duration(seconds * float64(time.Second))
}

// Print writes the summary lines for each statistic.
func (r *Results) Print(w io.Writer) {
	r.Time.Print(w, "Time")
	r.Reward.Print(w, "Reward")
	r.UndiscountedReturn.Print(w, "Undiscounted return")
	r.DiscountedReturn.Print(w, "Discounted return")
	fmt.Fprintf(w, "Terminated: %d\n", r.Terminated)
}

// Episode is the outcome of one Run.
type Episode struct {
	ID                 string        `json:"id"`
	Simulations        int           `json:"simulations"`
	Steps              int           `json:"steps"`
	UndiscountedReturn float64       `json:"undiscounted_return"`
	DiscountedReturn   float64       `json:"discounted_return"`
	Elapsed            time.Duration `json:"elapsed"`
	Terminated         bool          `json:"terminated"`
	OutOfParticles     bool          `json:"out_of_particles"`

	// FallbackSteps counts steps taken by the random fallback policy after
	// the planner ran out of particles.
	FallbackSteps int  `json:"fallback_steps"`
	TimedOut      bool `json:"timed_out"`
}

// SweepRow summarises one point of a DiscountedReturn sweep.
type SweepRow struct {
	Simulations        int     `json:"simulations"`
	Runs               int     `json:"runs"`
	UndiscountedMean   float64 `json:"undiscounted_mean"`
	UndiscountedStdErr float64 `json:"undiscounted_stderr"`
	DiscountedMean     float64 `json:"discounted_mean"`
	DiscountedStdErr   float64 `json:"discounted_stderr"`
	TimeMean           float64 `json:"time_mean"`
	Terminated         int     `json:"terminated"`
}

func newSweepRow(simulations int, r *Results) SweepRow {
	return SweepRow{
		Simulations:        simulations,
		Runs:               r.Time.Count(),
		UndiscountedMean:   r.UndiscountedReturn.Mean(),
		UndiscountedStdErr: r.UndiscountedReturn.StdErr(),
		DiscountedMean:     r.DiscountedReturn.Mean(),
		DiscountedStdErr:   r.DiscountedReturn.StdErr(),
		TimeMean:           r.Time.Mean(),
		Terminated:         r.Terminated,
	}
}

// AverageRow summarises one point of an AverageReward sweep.
type AverageRow struct {
	Simulations  int     `json:"simulations"`
	Steps        int     `json:"steps"`
	RewardMean   float64 `json:"reward_mean"`
	RewardStdErr float64 `json:"reward_stderr"`

	// StepTime is the mean wall clock per step in seconds.
	StepTime float64 `json:"step_time"`
}

func newAverageRow(simulations int, r *Results) AverageRow {
	row := AverageRow{
		Simulations:  simulations,
		Steps:        r.Reward.Count(),
		RewardMean:   r.Reward.Mean(),
		RewardStdErr: r.Reward.StdErr(),
	}
	if row.Steps > 0 {
		row.StepTime = r.Time.Mean() / float64(row.Steps)
	}
	return row
}

// WriteSweepTable writes rows as the tab separated report of a
// DiscountedReturn sweep.
func WriteSweepTable(w io.Writer, rows []SweepRow) error {
	if _, err := fmt.Fprint(w, "\t\tUndiscounted\tDiscounted\n"+
		"Sims\tRuns\tReward\tError\tReward\tError\tTime\tNo. Terminated\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\t%d\n",
			row.Simulations, row.Runs,
			row.UndiscountedMean, row.UndiscountedStdErr,
			row.DiscountedMean, row.DiscountedStdErr,
			row.TimeMean, row.Terminated); err != nil {
			return err
		}
	}
	return nil
}

// WriteAverageTable writes rows as the tab separated report of an
// AverageReward sweep.
func WriteAverageTable(w io.Writer, rows []AverageRow) error {
	if _, err := fmt.Fprint(w, "Simulations\tSteps\tAverage reward\tError\tAverage time\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%.4g\t%.4g\t%.4g\n",
			row.Simulations, row.Steps, row.RewardMean, row.RewardStdErr, row.StepTime); err != nil {
			return err
		}
	}
	return nil
}
