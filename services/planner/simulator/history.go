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
	"io"
)

// Entry is one (action, observation) step of a history.
type Entry struct {
	Action      int
	Observation int
}

// History is the sequence of steps taken since the start of an episode.
//
// During search the planner appends simulated steps and truncates back to
// the real history length when the simulation finishes.
type History struct {
	entries []Entry
}

// Add appends a step.
func (h *History) Add(action, observation int) {
	h.entries = append(h.entries, Entry{Action: action, Observation: observation})
}

// Pop removes the last step.
func (h *History) Pop() {
	h.entries = h.entries[:len(h.entries)-1]
}

// Truncate keeps the first n steps.
func (h *History) Truncate(n int) {
	h.entries = h.entries[:n]
}

// Clear removes every step.
func (h *History) Clear() {
	h.entries = h.entries[:0]
}

// Len returns the number of steps.
func (h *History) Len() int {
	return len(h.entries)
}

// At returns step i.
func (h *History) At(i int) Entry {
	return h.entries[i]
}

// Back returns the last step. It panics on an empty history.
func (h *History) Back() Entry {
	return h.entries[len(h.entries)-1]
}

// Clone returns an independent copy.
func (h *History) Clone() *History {
	c := &History{entries: make([]Entry, len(h.entries), cap(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// Display writes the history as "(a,o) (a,o) ...".
func (h *History) Display(w io.Writer) {
	for i, e := range h.entries {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		fmt.Fprintf(w, "(%d,%d)", e.Action, e.Observation)
	}
	fmt.Fprintln(w)
}
