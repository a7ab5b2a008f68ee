// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the explicit, typed configuration surface for the
// span engine. Every knob enumerated in the design's configuration table
// is a named field here; nothing in the engine's public API accepts an
// untyped map for configuration.
package config

import (
	"fmt"
	"math"
)

// FragmentMode selects how reads are extended when computing coverage.
type FragmentMode int

const (
	// FragmentAuto estimates the fragment length from the data. The
	// engine's coverage layer performs the estimation, taking the median
	// read length; this package only records the selection.
	FragmentAuto FragmentMode = iota
	// FragmentFixed extends every read by a fixed number of bases.
	FragmentFixed
	// FragmentZero disables extension; each read is counted at its
	// unshifted 5' position.
	FragmentZero
)

func (m FragmentMode) String() string {
	switch m {
	case FragmentAuto:
		return "auto"
	case FragmentFixed:
		return "fixed"
	case FragmentZero:
		return "zero"
	default:
		return fmt.Sprintf("FragmentMode(%d)", int(m))
	}
}

// Fragment describes the fragment policy: a mode plus, for FragmentFixed,
// the fixed extension length.
type Fragment struct {
	Mode   FragmentMode
	Length int // meaningful only when Mode == FragmentFixed
}

// MultipleTesting selects the multiple-testing correction applied to
// island scores when computing q-values.
type MultipleTesting int

const (
	// BH is the Benjamini-Hochberg step-up procedure.
	BH MultipleTesting = iota
	// BF is the Bonferroni correction.
	BF
)

func (m MultipleTesting) String() string {
	switch m {
	case BH:
		return "BH"
	case BF:
		return "BF"
	default:
		return fmt.Sprintf("MultipleTesting(%d)", int(m))
	}
}

// Scorer selects the island scoring function used by the peak extractor.
// The design's open question on SICER-vs-median scoring is resolved by
// making this explicit and swappable rather than hard-coded.
type Scorer int

const (
	// MedianLogNull scores an island as median(logNull)*ln(length), the
	// canonical SPAN scorer (avoids SICER's bias toward long islands).
	MedianLogNull Scorer = iota
	// StoufferLiptak is the alternate combined-p-value scorer, present
	// in one source lineage and not others; gated behind configuration.
	StoufferLiptak
)

// Options is the complete, explicit configuration for a span analysis
// run. Zero value is not meaningful; use Defaults to obtain a usable
// starting point.
type Options struct {
	// BinSize is the bin width in base pairs.
	BinSize int
	// Fragment is the read-extension policy.
	Fragment Fragment
	// Unique drops reads sharing a 5' start position (PCR duplicates).
	Unique bool

	// FDR is the q-value cutoff for peak calling.
	FDR float64
	// Gap is the maximum number of unset bins merged across when
	// building candidate islands. A negative value selects a gap of 1.
	Gap int
	// Sensitivity replaces the default log-null threshold (ln(FDR))
	// used to mark candidate bins when UseSensitivity is set.
	Sensitivity float64
	// UseSensitivity reports whether Sensitivity should be used in
	// place of the default ln(FDR) threshold.
	UseSensitivity bool
	// Clip is the boundary-trim fraction in [0,1).
	Clip float64
	// MultipleTesting selects BH or Bonferroni correction.
	MultipleTesting MultipleTesting
	// Scorer selects the island scoring function.
	Scorer Scorer

	// Threshold is the EM convergence relative tolerance.
	Threshold float64
	// MaxIterations caps the number of EM iterations per fit.
	MaxIterations int
	// Multistarts is the number of independent random initializations
	// tried before committing to the best for full EM.
	Multistarts int
	// MultistartIterations caps EM iterations during the multistart
	// search phase.
	MultistartIterations int

	// BetaGrid is the step size of the grid search for the control
	// subtraction coefficient beta (§4.2). Default 0.01.
	BetaGrid float64

	// Threads bounds the size of the parallel worker pool used for
	// per-chromosome peak extraction, scoring, and serialization. Zero
	// or negative means "use GOMAXPROCS".
	Threads int
}

// Defaults returns the engine's default configuration, matching the
// defaults table in the design document.
func Defaults() Options {
	return Options{
		BinSize:              200,
		Fragment:             Fragment{Mode: FragmentAuto},
		Unique:               true,
		FDR:                  1e-6,
		Gap:                  -1,
		UseSensitivity:       false,
		Clip:                 0,
		MultipleTesting:      BH,
		Scorer:               MedianLogNull,
		Threshold:            1e-4,
		MaxIterations:        200,
		Multistarts:          0,
		MultistartIterations: 5,
		BetaGrid:             0.01,
		Threads:              0,
	}
}

// Validate reports a descriptive error if o is not usable.
func (o Options) Validate() error {
	if o.BinSize <= 0 {
		return fmt.Errorf("config: binSize must be > 0, got %d", o.BinSize)
	}
	if o.FDR <= 0 || o.FDR >= 1 {
		return fmt.Errorf("config: fdr must be in (0,1), got %g", o.FDR)
	}
	if o.Clip < 0 || o.Clip >= 1 {
		return fmt.Errorf("config: clip must be in [0,1), got %g", o.Clip)
	}
	if o.BetaGrid <= 0 || o.BetaGrid >= 1 {
		return fmt.Errorf("config: betaGrid must be in (0,1), got %g", o.BetaGrid)
	}
	if o.Threshold <= 0 {
		return fmt.Errorf("config: threshold must be > 0, got %g", o.Threshold)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("config: maxIterations must be > 0, got %d", o.MaxIterations)
	}
	if o.Multistarts < 0 {
		return fmt.Errorf("config: multistarts must be >= 0, got %d", o.Multistarts)
	}
	if o.MultistartIterations < 0 {
		return fmt.Errorf("config: multistartIterations must be >= 0, got %d", o.MultistartIterations)
	}
	return nil
}

// SensitivityOrDefault returns the configured sensitivity threshold, or
// ln(FDR) when none was supplied (the design's "auto" default).
func (o Options) SensitivityOrDefault() float64 {
	if o.UseSensitivity {
		return o.Sensitivity
	}
	return math.Log(o.FDR)
}
