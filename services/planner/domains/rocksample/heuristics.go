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
	"math"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/simulator"
)

// entropyLimit is the binary entropy above which a measured rock still
// counts as uncertain.
const entropyLimit = 0.5

// checkTotal sums the check results for rock in history: +1 good, -1 bad.
func checkTotal(history *simulator.History, rock int) int {
	total := 0
	for i := 0; i < history.Len(); i++ {
		e := history.At(i)
		if e.Action != ActionCheck+rock {
			continue
		}
		switch e.Observation {
		case ObsGood:
			total++
		case ObsBad:
			total--
		}
	}
	return total
}

// GeneratePreferred samples a rock that history says is good, otherwise
// heads toward rocks not yet ruled out and checks rocks that are still
// uncertain. With every rock ruled out it heads east to exit.
func (s *Simulator) GeneratePreferred(dst []int, state simulator.State, history *simulator.History, _ *simulator.Status) []int {
	st := state.(*State)

	if rock := s.rockAt(st.Agent); rock >= 0 && !st.Rocks[rock].Collected && checkTotal(history, rock) > 0 {
		return append(dst, ActionSample)
	}

	allBad := true
	var north, south, east, west bool
	for rock, r := range st.Rocks {
		if r.Collected || !r.Active || checkTotal(history, rock) < 0 {
			continue
		}
		allBad = false
		pos := s.rockPos[rock]
		north = north || pos.Y > st.Agent.Y
		south = south || pos.Y < st.Agent.Y
		west = west || pos.X < st.Agent.X
		east = east || pos.X > st.Agent.X
	}
	if allBad {
		return append(dst, ActionEast)
	}

	if st.Agent.Y+1 < s.cfg.Size && north {
		dst = append(dst, ActionNorth)
	}
	if east {
		dst = append(dst, ActionEast)
	}
	if st.Agent.Y-1 >= 0 && south {
		dst = append(dst, ActionSouth)
	}
	if st.Agent.X-1 >= 0 && west {
		dst = append(dst, ActionWest)
	}

	for rock, r := range st.Rocks {
		if !r.Collected && r.Active &&
			r.ProbValuable != 0 && r.ProbValuable != 1 &&
			r.Measured < 5 && abs(r.Count) < 2 {
			dst = append(dst, ActionCheck+rock)
		}
	}
	return dst
}

// GeneratePGS implements simulator.PGSGenerator. It steps a copy of state
// with every legal action and keeps the actions whose potential change is
// largest.
func (s *Simulator) GeneratePGS(dst []int, state simulator.State, history *simulator.History, status *simulator.Status) []int {
	st := state.(*State)
	legal := s.GenerateLegal(nil, state, history, status)
	if len(legal) == 0 {
		return dst
	}

	best := math.Inf(-1)
	start := len(dst)
	for _, action := range legal {
		next := s.Copy(st).(*State)
		s.step(next, action)
		gain := 0.0
		if rock := s.affectedRock(st, action); rock >= 0 {
			gain = rockPotential(next.Rocks[rock]) - rockPotential(st.Rocks[rock])
		}
		s.Free(next)

		switch {
		case gain > best:
			best = gain
			dst = append(dst[:start], action)
		case gain == best:
			dst = append(dst, action)
		}
	}
	return dst
}

// Potential scores the state's progress: +1 per collected valuable rock
// with a positive check record, -1 per collected worthless rock, -1 per
// measured rock that is still uncertain.
func Potential(st *State) float64 {
	points := 0.0
	for _, r := range st.Rocks {
		points += rockPotential(r)
	}
	return points
}

func rockPotential(r Rock) float64 {
	if r.Collected {
		switch {
		case !r.Valuable:
			return -1
		case r.Count != 0:
			return 1
		default:
			return 0
		}
	}
	if r.Measured > 0 && binaryEntropy(r.ProbValuable) > entropyLimit {
		return -1
	}
	return 0
}

func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
