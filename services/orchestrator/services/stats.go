// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"math"
	"sort"
)

// sampleStats summarises a set of durations. The zero value describes an
// empty sample.
type sampleStats struct {
	N      int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
}

func describe(values []float64) sampleStats {
	n := len(values)
	if n == 0 {
		return sampleStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	return sampleStats{
		N:      n,
		Mean:   mean,
		Median: percentile(sorted, 50),
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: stddev,
	}
}

// percentile uses the (n+1) position estimate with linear interpolation,
// so the median of an even-sized sample is the mean of the middle pair.
// sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n+1) / 100
	switch {
	case pos < 1:
		return sorted[0]
	case pos >= float64(n):
		return sorted[n-1]
	}
	lower := math.Floor(pos)
	frac := pos - lower
	lo := sorted[int(lower)-1]
	hi := sorted[int(lower)]
	return lo + frac*(hi-lo)
}

// consistencyScore is max(0, 100 - CV*100). Fewer than two samples are
// perfectly consistent by convention.
func consistencyScore(s sampleStats) float64 {
	if s.N < 2 || s.Mean == 0 {
		return 100
	}
	cv := s.StdDev / s.Mean
	return math.Max(0, 100-cv*100)
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
