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
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/experiment"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// renderer writes result tables, styled for terminals and tab separated
// otherwise.
type renderer struct {
	w      io.Writer
	styled bool
}

func newRenderer(w io.Writer) renderer {
	return renderer{w: w, styled: isTerminal(w)}
}

func (r renderer) table(title string, headers []string, rows [][]string) error {
	if !r.styled {
		return nil
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(r.w, titleStyle.Render(title)+"\n"+t.String())
	return err
}

// Results renders the aggregate of a multi-run.
func (r renderer) Results(res *experiment.Results) error {
	if !r.styled {
		res.Print(r.w)
		return nil
	}
	rows := [][]string{
		{"Runs", strconv.Itoa(res.Time.Count())},
		{"Terminated", strconv.Itoa(res.Terminated)},
		{"Undiscounted return", meanErr(res.UndiscountedReturn.Mean(), res.UndiscountedReturn.StdErr())},
		{"Discounted return", meanErr(res.DiscountedReturn.Mean(), res.DiscountedReturn.StdErr())},
		{"Reward per step", meanErr(res.Reward.Mean(), res.Reward.StdErr())},
		{"Episode time (s)", meanErr(res.Time.Mean(), res.Time.StdErr())},
	}
	return r.table("Results", []string{"Statistic", "Value"}, rows)
}

// SweepRows renders a DiscountedReturn sweep.
func (r renderer) SweepRows(rows []experiment.SweepRow) error {
	if !r.styled {
		return experiment.WriteSweepTable(r.w, rows)
	}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells = append(cells, []string{
			strconv.Itoa(row.Simulations),
			strconv.Itoa(row.Runs),
			meanErr(row.UndiscountedMean, row.UndiscountedStdErr),
			meanErr(row.DiscountedMean, row.DiscountedStdErr),
			fmt.Sprintf("%.4g", row.TimeMean),
			strconv.Itoa(row.Terminated),
		})
	}
	return r.table("Discounted return",
		[]string{"Sims", "Runs", "Undiscounted", "Discounted", "Time (s)", "Terminated"}, cells)
}

// AverageRows renders an AverageReward sweep.
func (r renderer) AverageRows(rows []experiment.AverageRow) error {
	if !r.styled {
		return experiment.WriteAverageTable(r.w, rows)
	}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells = append(cells, []string{
			strconv.Itoa(row.Simulations),
			strconv.Itoa(row.Steps),
			meanErr(row.RewardMean, row.RewardStdErr),
			fmt.Sprintf("%.4g", row.StepTime),
		})
	}
	return r.table("Average reward",
		[]string{"Sims", "Steps", "Reward", "Step time (s)"}, cells)
}

func meanErr(mean, stderr float64) string {
	return fmt.Sprintf("%.4g ± %.2g", mean, stderr)
}
