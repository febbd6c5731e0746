// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relevance tracks which state features are worth planning over.
//
// A world model declares (action, feature) pairs: executing the action is
// how the planner interacts with the feature. During search every such
// entry accumulates the feature-discounted return of its action. After
// each real step the table is revised: features whose aggregate value
// falls below the activation threshold are switched off, which removes
// their actions from the candidate set and lets the world model simplify
// particles that carry them.
//
// # Feature value
//
// For each entry, an executed action contributes its mean return, with
// positive means squared to favour features that have at least one very
// useful action. An action that was never executed contributes
// NoActionPenalty. The feature value is the mean contribution over the
// feature's entries.
package relevance

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/stats"
)

// NoActionPenalty is the contribution of an entry whose action was never
// executed during search.
const NoActionPenalty = -8.0

// Entry is one (action, feature) pair.
type Entry struct {
	Action  int
	Feature int

	// Value accumulates feature-discounted returns of Action.
	Value stats.Value

	// Prior holds Value as it stood before the most recent Transition.
	Prior stats.Value

	Active bool
}

// Table is the relevance table. Entries are fixed after the world model
// initialises the table; afterwards they are only revalued and toggled.
//
// Thread Safety: Not safe for concurrent use. Parallel search works on
// forks and merges them back.
type Table struct {
	entries   []Entry
	byAction  map[int][]int
	byFeature map[int][]int

	numFeatures    int
	numActions     int
	threshold      float64
	transitionRate float64
}

// New creates an empty table with a transition rate of 1.
func New() *Table {
	return &Table{
		byAction:       make(map[int][]int),
		byFeature:      make(map[int][]int),
		transitionRate: 1,
	}
}

// AddEntry declares that action interacts with feature. New entries are
// active with empty statistics.
func (t *Table) AddEntry(action, feature int) {
	if action < 0 || feature < 0 {
		panic(fmt.Sprintf("relevance: invalid entry (action=%d, feature=%d)", action, feature))
	}
	idx := len(t.entries)
	t.entries = append(t.entries, Entry{Action: action, Feature: feature, Active: true})
	t.byAction[action] = append(t.byAction[action], idx)
	t.byFeature[feature] = append(t.byFeature[feature], idx)
	if feature >= t.numFeatures {
		t.numFeatures = feature + 1
	}
	if action >= t.numActions {
		t.numActions = action + 1
	}
}

// SetActivationThreshold sets the feature value below which a feature is
// switched off by Revise.
func (t *Table) SetActivationThreshold(v float64) { t.threshold = v }

// ActivationThreshold returns the activation threshold.
func (t *Table) ActivationThreshold() float64 { return t.threshold }

// SetNumFeatures declares the number of features, including features with
// no entries.
func (t *Table) SetNumFeatures(n int) {
	if n > t.numFeatures {
		t.numFeatures = n
	}
}

// NumFeatures returns the number of features.
func (t *Table) NumFeatures() int { return t.numFeatures }

// SetNumActions declares the number of actions of the world model.
func (t *Table) SetNumActions(n int) {
	if n > t.numActions {
		t.numActions = n
	}
}

// NumActions returns the number of actions known to the table.
func (t *Table) NumActions() int { return t.numActions }

// SetTransitionRate sets the fraction of an entry's mean carried through
// Transition. Values are clamped to [0, 1].
func (t *Table) SetTransitionRate(r float64) {
	t.transitionRate = min(max(r, 0), 1)
}

// TransitionRate returns the transition rate.
func (t *Table) TransitionRate() float64 { return t.transitionRate }

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns a copy of entry i.
func (t *Table) Entry(i int) Entry { return t.entries[i] }

// ValueUpdate adds v to every entry of action.
func (t *Table) ValueUpdate(action int, v float64) {
	for _, idx := range t.byAction[action] {
		t.entries[idx].Value.Add(v)
	}
}

// ToggleFeature marks every entry of feature active or inactive.
func (t *Table) ToggleFeature(feature int, active bool) {
	for _, idx := range t.byFeature[feature] {
		t.entries[idx].Active = active
	}
}

// IsFeatureActive reports whether any entry of feature is active. A
// feature without entries is always active.
func (t *Table) IsFeatureActive(feature int) bool {
	idxs := t.byFeature[feature]
	if len(idxs) == 0 {
		return true
	}
	for _, idx := range idxs {
		if t.entries[idx].Active {
			return true
		}
	}
	return false
}

// IsActionActive reports whether action has at least one active entry.
// Actions without entries are always active.
func (t *Table) IsActionActive(action int) bool {
	idxs := t.byAction[action]
	if len(idxs) == 0 {
		return true
	}
	for _, idx := range idxs {
		if t.entries[idx].Active {
			return true
		}
	}
	return false
}

// InactiveActions returns, in ascending order, the actions tied
// exclusively to inactive features.
func (t *Table) InactiveActions() []int {
	var out []int
	for action := range t.byAction {
		if !t.IsActionActive(action) {
			out = append(out, action)
		}
	}
	sort.Ints(out)
	return out
}

// ActiveActions appends to dst every action in [0, numActions) that is not
// inactive, in ascending order.
func (t *Table) ActiveActions(dst []int, numActions int) []int {
	for a := 0; a < numActions; a++ {
		if t.IsActionActive(a) {
			dst = append(dst, a)
		}
	}
	return dst
}

// FeatureValue returns the aggregate value of feature, or 0 when the
// feature has no entries.
func (t *Table) FeatureValue(feature int) float64 {
	var agg stats.Value
	for _, idx := range t.byFeature[feature] {
		agg.Add(entryContribution(t.entries[idx]))
	}
	return agg.Value()
}

// FeatureValues returns the value of every feature in [0, NumFeatures).
func (t *Table) FeatureValues() []float64 {
	aggs := make([]stats.Value, t.numFeatures)
	for _, e := range t.entries {
		aggs[e.Feature].Add(entryContribution(e))
	}
	out := make([]float64, t.numFeatures)
	for f := range aggs {
		out[f] = aggs[f].Value()
	}
	return out
}

func entryContribution(e Entry) float64 {
	if e.Value.Count() == 0 {
		return NoActionPenalty
	}
	v := e.Value.Value()
	if v > 0 {
		v *= v
	}
	return v
}

// Revision is the outcome of Revise.
type Revision struct {
	// Values holds the feature values the decision was based on.
	Values []float64

	// Active holds the resulting activation of every feature.
	Active []bool

	// Reactivated is the feature switched back on because every feature
	// fell below the threshold, or -1.
	Reactivated int
}

// Deactivated returns the features switched off by the revision.
func (r Revision) Deactivated() []int {
	var out []int
	for f, on := range r.Active {
		if !on {
			out = append(out, f)
		}
	}
	return out
}

// Revise switches every feature on or off by comparing its value with the
// activation threshold. If every feature would be off, one feature chosen
// uniformly with rng is switched back on so that the action space never
// empties.
//
// The caller is responsible for broadcasting Revision.Active to the
// particles of the current belief.
func (t *Table) Revise(rng *rand.Rand) Revision {
	values := t.FeatureValues()
	rev := Revision{
		Values:      values,
		Active:      make([]bool, len(values)),
		Reactivated: -1,
	}
	if len(values) == 0 {
		return rev
	}

	allOff := true
	for f, v := range values {
		on := v >= t.threshold
		rev.Active[f] = on
		t.ToggleFeature(f, on)
		allOff = allOff && !on
	}

	if allOff {
		f := rng.IntN(len(values))
		rev.Active[f] = true
		rev.Reactivated = f
		t.ToggleFeature(f, true)
	}
	return rev
}

// Transition ages the evidence after a real step. Every executed entry
// keeps its mean, scaled by the transition rate, with a count of 1.
func (t *Table) Transition() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Value.Count() == 0 {
			continue
		}
		e.Prior = e.Value
		e.Value.Set(1, e.Value.Value()*t.transitionRate)
	}
}

// Reset clears every statistic. Activation flags are left unchanged.
func (t *Table) Reset() {
	for i := range t.entries {
		t.entries[i].Value.Set(0, 0)
		t.entries[i].Prior.Set(0, 0)
	}
}

// ResetActivation switches every entry back on.
func (t *Table) ResetActivation() {
	for i := range t.entries {
		t.entries[i].Active = true
	}
}

// Fork returns an independent copy for a parallel search worker.
func (t *Table) Fork() *Table {
	f := &Table{
		entries:        make([]Entry, len(t.entries)),
		byAction:       t.byAction,
		byFeature:      t.byFeature,
		numFeatures:    t.numFeatures,
		numActions:     t.numActions,
		threshold:      t.threshold,
		transitionRate: t.transitionRate,
	}
	copy(f.entries, t.entries)
	return f
}

// Merge folds into t the samples fork gained since it was created from
// base. base must be a snapshot of t taken when fork was created.
func (t *Table) Merge(base, fork *Table) error {
	if len(base.entries) != len(t.entries) || len(fork.entries) != len(t.entries) {
		return fmt.Errorf("relevance: merge of mismatched tables (%d, %d, %d entries)",
			len(t.entries), len(base.entries), len(fork.entries))
	}
	for i := range t.entries {
		t.entries[i].Value.Merge(fork.entries[i].Value.Delta(base.entries[i].Value))
	}
	return nil
}

// Display writes the table, one entry per line.
func (t *Table) Display(w io.Writer) {
	fmt.Fprintln(w, "*** Relevance table ***")
	for i, e := range t.entries {
		fmt.Fprintf(w, "[%d] feature=%d action=%d value=%s active=%t\n",
			i, e.Feature, e.Action, e.Value, e.Active)
	}
}
