// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kortschak/span/span/squash"
)

// Variant enumerates the model family (§4.5, §9 "Polymorphic model
// family": a sum type rather than open inheritance).
type Variant int

const (
	NB_ZLH_HMM Variant = iota
	NB_ZLMH_HMM
	NB_ZLHID_HMM
	NB_HMM_K
	NB_MIXTURE
	POISSON_REGR_MIXTURE
	NB_REGR_MIXTURE
)

func (v Variant) String() string {
	switch v {
	case NB_ZLH_HMM:
		return "NB_ZLH_HMM"
	case NB_ZLMH_HMM:
		return "NB_ZLMH_HMM"
	case NB_ZLHID_HMM:
		return "NB_ZLHID_HMM"
	case NB_HMM_K:
		return "NB_HMM_K"
	case NB_MIXTURE:
		return "NB_MIXTURE"
	case POISSON_REGR_MIXTURE:
		return "POISSON_REGR_MIXTURE"
	case NB_REGR_MIXTURE:
		return "NB_REGR_MIXTURE"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// State names used by the zero-inflated variants, per §4.5.
const (
	StateZero      = "Z"
	StateLow       = "L"
	StateMedium    = "M"
	StateHigh      = "H"
	StateIncreased = "I"
	StateDecreased = "D"
)

// StatesFor returns the ordered state labels for a fixed-shape variant.
// NB_HMM_K and NB_MIXTURE carry their own labels (numbered states) since
// their state count is parametric.
func StatesFor(v Variant) []string {
	switch v {
	case NB_ZLH_HMM:
		return []string{StateZero, StateLow, StateHigh}
	case NB_ZLMH_HMM:
		return []string{StateZero, StateLow, StateMedium, StateHigh}
	case NB_ZLHID_HMM:
		return []string{StateZero, StateLow, StateHigh, StateIncreased, StateDecreased}
	default:
		return nil
	}
}

// Model is the common capability set every family member exposes
// (§4.5, §9). Regression-mixture variants additionally implement
// GLMFitter.
type Model interface {
	// Variant reports which family member this is.
	Variant() Variant
	// States returns the ordered emission state labels.
	States() []string
	// LogLikelihood returns the total log-likelihood of frame under
	// the model's current parameters.
	LogLikelihood(frame squash.Frame) (float64, error)
	// Posteriors returns, for each row of frame, the log-posterior
	// probability of each state; rows sum (in probability space) to 1
	// within 1e-6 (§8 law 5).
	Posteriors(frame squash.Frame) ([][]float64, error)
	// Predict returns the argmax state index per row.
	Predict(frame squash.Frame) ([]int, error)
	// Sample draws n synthetic rows from the model, for tests.
	Sample(n int, rng *rand.Rand) (squash.Frame, error)
	// Clone returns a deep copy, so that sanitization and EM restarts
	// never alias shared parameter storage.
	Clone() Model
}

// GLMFitter is the additional capability regression-mixture variants
// require: fit per-component GLM coefficients given responsibilities
// (the posterior weight of each row under each component) and a
// covariate frame.
type GLMFitter interface {
	Model
	// FitGLM refits the model's regression coefficients using the
	// supplied per-row, per-component responsibilities. Regression
	// refits only its signal component; the background component has
	// no coefficients.
	FitGLM(frame squash.Frame, responsibilities [][]float64) error
}

// NullIndex returns the indices of the states making up a declared
// null hypothesis H0 (§3 "Null log-probability"), by label.
func NullIndex(states []string, null []string) []int {
	idx := make([]int, 0, len(null))
	for _, want := range null {
		for i, s := range states {
			if s == want {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// NullLogProb reduces a row of log-posteriors to the null
// log-probability Sum_{s in H0} posterior(b,s) in log-space.
func NullLogProb(logPosterior []float64, nullIdx []int) float64 {
	if len(nullIdx) == 0 {
		return math.Inf(-1)
	}
	vals := make([]float64, len(nullIdx))
	for i, s := range nullIdx {
		vals[i] = logPosterior[s]
	}
	return LogSumExp(vals)
}
