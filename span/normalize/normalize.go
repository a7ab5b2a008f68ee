// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package normalize computes the library-size scale and control
// subtraction coefficient beta used to produce normalized coverage
// (§4.2, §3 "Normalized Coverage"). It leans on gonum/stat for the
// Pearson correlation search, the way a numerically-inclined Go
// program in this domain would rather than hand-rolling moment sums.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kortschak/span/span/spanlog"
)

// Result is the output of the Normalizer: the control library-size
// scale, the chosen subtraction coefficient, and the minimal absolute
// correlation achieved at that coefficient.
type Result struct {
	ControlScale   float64
	Beta           float64
	MinCorrelation float64
}

// Normalize computes (controlScale, beta, minCorrelation) for a
// treatment/control pair already binned at a single, consistent
// binSize. totalT and totalC are genome-wide totals across the
// effective genome. maxChromT and maxChromC are the binned coverage
// of the single chromosome with the largest total treatment signal,
// the chromosome the beta search runs over. grid is the beta search
// step (Delta); zero or negative selects the design's default of 0.01.
//
// If control is absent (totalC == 0 and maxChromC is empty), Normalize
// returns the zero Result unchanged, per §4.2 "If no control: returns
// (0, 0, 0)".
func Normalize(totalT, totalC float64, maxChromT, maxChromC []int, grid float64, log *spanlog.Logger) Result {
	if totalC == 0 && len(maxChromC) == 0 {
		return Result{}
	}
	if grid <= 0 {
		grid = 0.01
	}

	// controlScale = T/C over the effective genome (§9 open question:
	// the more recent source uses T/C, not min(1, T/C); span adopts
	// that and does not clamp).
	controlScale := totalT / totalC

	t := make([]float64, len(maxChromT))
	for i, v := range maxChromT {
		t[i] = float64(v)
	}
	c := make([]float64, len(maxChromC))
	for i, v := range maxChromC {
		c[i] = float64(v)
	}
	n := min(len(t), len(c))
	t, c = t[:n], c[:n]

	work := make([]float64, n)
	bestBeta := 0.0
	bestAbsCorr := math.Inf(1)
	for beta := 0.0; beta < 1; beta += grid {
		for i := range work {
			work[i] = t[i] - beta*controlScale*c[i]
		}
		corr := pearson(work, c)
		abs := math.Abs(corr)
		if abs < bestAbsCorr {
			bestAbsCorr = abs
			bestBeta = beta
		}
	}
	if bestBeta == 0 {
		log.Warnf("normalize: beta search selected 0; treatment and control may be poorly matched")
	}
	return Result{ControlScale: controlScale, Beta: bestBeta, MinCorrelation: bestAbsCorr}
}

// pearson returns the Pearson correlation coefficient of x and y,
// reusing gonum/stat so the work array in the caller is the only
// allocation the beta search needs per candidate.
func pearson(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// NormalizedCoverage computes N(r) for a single range/bin, per §3:
// N = max(0, ceil(T - beta*controlScale*C)) when control is present,
// else N = T.
func NormalizedCoverage(t, c int, beta, controlScale float64, hasControl bool) int {
	if !hasControl {
		return t
	}
	n := math.Ceil(float64(t) - beta*controlScale*float64(c))
	if n < 0 {
		return 0
	}
	return int(n)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
