// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"fmt"
	"io"
	"math"
)

// Statistic keeps a running summary of a sample stream using Welford's
// update, so variance stays stable over millions of samples.
//
// Thread Safety: Not safe for concurrent use.
type Statistic struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// Add records one sample.
func (s *Statistic) Add(x float64) {
	s.count++
	if s.count == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (x - s.mean)
}

// Clear drops every recorded sample.
func (s *Statistic) Clear() {
	*s = Statistic{}
}

// Count returns the number of samples.
func (s Statistic) Count() int { return s.count }

// Mean returns the sample mean, 0 when empty.
func (s Statistic) Mean() float64 { return s.mean }

// Variance returns the unbiased sample variance, 0 with fewer than two samples.
func (s Statistic) Variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count-1)
}

// StdDev returns the sample standard deviation.
func (s Statistic) StdDev() float64 { return math.Sqrt(s.Variance()) }

// StdErr returns the standard error of the mean.
func (s Statistic) StdErr() float64 {
	if s.count == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.count))
}

// Min returns the smallest sample, 0 when empty.
func (s Statistic) Min() float64 { return s.min }

// Max returns the largest sample, 0 when empty.
func (s Statistic) Max() float64 { return s.max }

// Print writes a one-line summary labelled with name.
func (s Statistic) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s: %.4g [%.4g, %.4g] +- %.4g (n=%d)\n",
		name, s.mean, s.min, s.max, s.StdErr(), s.count)
}

// Merge folds the samples summarised by other into s.
func (s *Statistic) Merge(other Statistic) {
	if other.count == 0 {
		return
	}
	if s.count == 0 {
		*s = other
		return
	}
	n := float64(s.count + other.count)
	delta := other.mean - s.mean
	s.m2 += other.m2 + delta*delta*float64(s.count)*float64(other.count)/n
	s.mean += delta * float64(other.count) / n
	s.count += other.count
	s.min = math.Min(s.min, other.min)
	s.max = math.Max(s.max, other.max)
}
