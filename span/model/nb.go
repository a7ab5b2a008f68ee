// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model implements the Model Family (§4.5): parameter blocks
// and log-likelihood/posterior/sampling capabilities for the
// zero-inflated NB-HMM, NB-mixture, and Poisson/NB regression mixture
// variants, plus the state-flip sanitizer (§4.5) for the HMM variants.
// All mixture/HMM math is carried out in log-space using
// log-sum-exp, per §4.6's numeric semantics.
package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NB is a negative-binomial emission parameterised by mean Mu and
// success probability P (equivalently, mean and failure parameter r,
// with r = Mu*(1-P)/P), per the glossary's convention.
type NB struct {
	Mu float64
	P  float64
}

// r returns the NB "number of failures" parameter implied by Mu and P.
func (nb NB) r() float64 {
	if nb.P <= 0 {
		return math.Inf(1)
	}
	return nb.Mu * (1 - nb.P) / nb.P
}

// LogPMF returns log P(X=k) under nb, safe at k=0 and for large k.
// Computed directly from the gamma function rather than through a
// library NegBinom type, since the convention here (mean/success-prob)
// does not match a single universal library signature.
func (nb NB) LogPMF(k int) float64 {
	if k < 0 {
		return math.Inf(-1)
	}
	if nb.Mu <= 0 || nb.P <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	r := nb.r()
	if math.IsInf(r, 1) || r <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	kf := float64(k)
	lg1, _ := math.Lgamma(kf + r)
	lg2, _ := math.Lgamma(r)
	lg3, _ := math.Lgamma(kf + 1)
	return lg1 - lg2 - lg3 + r*math.Log1p(-nb.P) + kf*math.Log(nb.P)
}

// MeanVarToNB converts a mean/variance pair to the Mu/P parameterisation,
// clamping to a minimum-dispersion Poisson-like NB when variance would
// be at or below the mean (over-dispersion is required for a proper NB).
func MeanVarToNB(mean, variance float64) NB {
	if mean <= 0 {
		return NB{Mu: 0, P: 0}
	}
	if variance <= mean {
		variance = mean * 1.0001
	}
	p := (variance - mean) / variance
	return NB{Mu: mean, P: p}
}

// Sample draws a single observation from nb using rng, via an
// equivalent Gamma-Poisson mixture (a negative binomial is a Poisson
// whose rate is Gamma-distributed).
func (nb NB) Sample(rng *rand.Rand) int {
	if nb.Mu <= 0 || nb.P <= 0 {
		return 0
	}
	r := nb.r()
	if math.IsInf(r, 1) || r <= 0 {
		return 0
	}
	gammaScale := nb.P / (1 - nb.P)
	g := distuv.Gamma{Alpha: r, Beta: 1 / gammaScale, Src: rand.NewPCG(rng.Uint64(), rng.Uint64())}
	lambda := g.Rand()
	pois := distuv.Poisson{Lambda: lambda, Src: rand.NewPCG(rng.Uint64(), rng.Uint64())}
	return int(pois.Rand())
}

// ZeroInflated is an emission with a point mass at 0 of weight Pi, and
// NB{Mu,P} accounting for the remaining mass.
type ZeroInflated struct {
	Pi float64
	NB NB
}

// LogPMF returns log P(X=k) under the zero-inflated emission.
func (z ZeroInflated) LogPMF(k int) float64 {
	if k == 0 {
		return logSumExp(math.Log(z.Pi), math.Log1p(-z.Pi)+z.NB.LogPMF(0))
	}
	return math.Log1p(-z.Pi) + z.NB.LogPMF(k)
}

// logSumExp returns log(exp(a)+exp(b)), numerically stable for -Inf
// inputs.
func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// LogSumExp reduces a slice of log-space values to their combined
// log-probability, using the running-max trick for stability.
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := xs[0]
	for _, x := range xs[1:] {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// Poisson is a thin wrapper used by the regression-mixture variants.
type Poisson struct {
	Lambda float64
}

func (p Poisson) LogPMF(k int) float64 {
	if p.Lambda <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	d := distuv.Poisson{Lambda: p.Lambda}
	return d.LogProb(float64(k))
}

// Sample draws a single observation from p using rng.
func (p Poisson) Sample(rng *rand.Rand) int {
	if p.Lambda <= 0 {
		return 0
	}
	d := distuv.Poisson{Lambda: p.Lambda, Src: rand.NewPCG(rng.Uint64(), rng.Uint64())}
	return int(d.Rand())
}
