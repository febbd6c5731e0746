// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rocksample

import (
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

var compassNames = [...]string{"North", "East", "South", "West"}

// DisplayState draws the grid with the rover as * and uncollected rocks
// as their index followed by $ (valuable) or X (worthless).
func (s *Simulator) DisplayState(w io.Writer, state simulator.State) {
	st := state.(*State)
	border := strings.Repeat("# ", s.cfg.Size+2)

	var b strings.Builder
	b.WriteString("\n" + border + "\n")
	for y := s.cfg.Size - 1; y >= 0; y-- {
		b.WriteString("# ")
		for x := 0; x < s.cfg.Size; x++ {
			pos := Coord{x, y}
			rock := s.rockAt(pos)
			switch {
			case st.Agent == pos:
				b.WriteString("* ")
			case rock >= 0 && !st.Rocks[rock].Collected:
				mark := "X"
				if st.Rocks[rock].Valuable {
					mark = "$"
				}
				fmt.Fprintf(&b, "%d%s", rock, mark)
			default:
				b.WriteString(". ")
			}
		}
		b.WriteString("#\n")
	}
	b.WriteString(border + "\n")
	io.WriteString(w, b.String())
}

// DisplayAction implements simulator.Displayer.
func (s *Simulator) DisplayAction(w io.Writer, action int) {
	switch {
	case action < ActionSample:
		fmt.Fprintln(w, compassNames[action])
	case action == ActionSample:
		fmt.Fprintln(w, "Sample")
	default:
		fmt.Fprintf(w, "Check %d\n", action-ActionCheck)
	}
}

// DisplayObservation implements simulator.Displayer.
func (s *Simulator) DisplayObservation(w io.Writer, _ simulator.State, observation int) {
	switch observation {
	case ObsGood:
		fmt.Fprintln(w, "Observed good")
	case ObsBad:
		fmt.Fprintln(w, "Observed bad")
	}
}

// DisplayReward implements simulator.Displayer.
func (s *Simulator) DisplayReward(w io.Writer, reward float64) {
	fmt.Fprintf(w, "Reward: %g\n", reward)
}
