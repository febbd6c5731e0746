// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats provides the online estimators used by the planner.
//
// Value is the accumulator attached to every tree node and relevance
// entry. Statistic is a heavier running summary used for diagnostics
// and experiment reporting.
package stats

import "fmt"

// Value is an online mean estimator.
//
// The count is a float so that weighted samples and seeded priors
// (Set with a fractional count) share one representation.
//
// Thread Safety: Not safe for concurrent use. Owners serialize access.
type Value struct {
	count float64
	total float64
}

// Add folds one sample into the estimate.
func (v *Value) Add(x float64) {
	v.count++
	v.total += x
}

// AddWeighted folds a sample with the given weight into the estimate.
func (v *Value) AddWeighted(x, weight float64) {
	v.count += weight
	v.total += x * weight
}

// Set overrides the estimate so that Count() == count and
// Value() == mean. Set(0, 0) is a hard reset.
func (v *Value) Set(count, mean float64) {
	v.count = count
	v.total = mean * count
}

// Value returns the running mean, or 0 when nothing has been added.
func (v Value) Value() float64 {
	if v.count == 0 {
		return 0
	}
	return v.total / v.count
}

// Count returns the (possibly weighted) sample count.
func (v Value) Count() float64 {
	return v.count
}

// Total returns the running sum of weighted samples.
func (v Value) Total() float64 {
	return v.total
}

// Merge adds the samples of other into v.
func (v *Value) Merge(other Value) {
	v.count += other.count
	v.total += other.total
}

// Delta returns the samples present in v but not in base.
//
// It is the inverse of Merge: base.Merge(v.Delta(base)) == v when v was
// derived from base by adding samples.
func (v Value) Delta(base Value) Value {
	return Value{count: v.count - base.count, total: v.total - base.total}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return fmt.Sprintf("%.2f (n=%g)", v.Value(), v.count)
}
