// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/kortschak/span/span/model"
	"github.com/kortschak/span/span/squash"
)

// HMMInit builds an Initializer for an HMM of the given variant and
// tracks. Each call seeds state means by quantile-bucket clustering of
// the observed track data (§4.6): sorted observations are cut into
// len(states) buckets of roughly equal size, and each state's initial
// mean/variance comes from its bucket, jittered by rng so that distinct
// multistart runs explore different basins. The zero-inflated state (if
// any) gets a high prior and a point mass at zero of weight 0.8; all
// states favor self-transitions (~0.95), matching the "smooth
// segmentation" behavior the EM search is expected to converge from.
func HMMInit(variant model.Variant, tracks []string, zeroState bool, frame squash.Frame) Initializer {
	states := model.StatesFor(variant)
	buckets := quantileBuckets(frame, tracks, len(states))

	return func(rng *rand.Rand) emStepper {
		h := model.NewHMM(variant, states, tracks, zeroState)
		k := len(states)

		for i := 0; i < k; i++ {
			if zeroState && i == 0 {
				h.LogPrior[i] = math.Log(0.9)
			} else {
				h.LogPrior[i] = math.Log(0.1 / float64(k-boolToInt(zeroState)))
			}
			for t := range tracks {
				mean, variance := buckets[i][t].mean, buckets[i][t].variance
				mean = jitter(rng, mean)
				if variance <= mean {
					variance = mean*1.2 + 1
				}
				if zeroState && i == 0 {
					h.Emit[i][t] = model.Emission{IsZI: true, ZI: model.ZeroInflated{Pi: 0.8, NB: model.MeanVarToNB(mean, variance)}}
				} else {
					h.Emit[i][t] = model.Emission{Plain: model.MeanVarToNB(mean, variance)}
				}
			}
		}
		model.NormalizeLogPrior(h.LogPrior)

		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				if i == j {
					h.LogTrans[i][j] = math.Log(0.95)
				} else {
					h.LogTrans[i][j] = math.Log(0.05 / float64(k-1))
				}
			}
		}
		return h
	}
}

// MixtureInit builds an Initializer for a k-component NB mixture, seeded
// the same way as HMMInit's emissions: quantile buckets of the observed
// data, jittered per multistart run.
func MixtureInit(k int, frame squash.Frame) Initializer {
	buckets := quantileBuckets(frame, []string{"y"}, k)
	return func(rng *rand.Rand) emStepper {
		m := model.NewMixture(k)
		for i := 0; i < k; i++ {
			mean := jitter(rng, buckets[i][0].mean)
			variance := buckets[i][0].variance
			if variance <= mean {
				variance = mean*1.2 + 1
			}
			m.Comp[i] = model.MeanVarToNB(mean, variance)
			m.LogWeight[i] = math.Log(1 / float64(k))
		}
		return m
	}
}

// RegressionInit builds an Initializer for a regression mixture; the
// GLM coefficients start at the teacher-style flat prior (intercept
// only) and are refined by the first EMStep's FitGLM call. No quantile
// seeding is done: only the intercept is jittered by rng, and the
// mixture weights and dispersion keep NewRegression's defaults.
func RegressionInit(poisson bool) Initializer {
	return func(rng *rand.Rand) emStepper {
		r := model.NewRegression(poisson)
		r.Coef[0] = jitter(rng, r.Coef[0])
		return r
	}
}

type moments struct{ mean, variance float64 }

// quantileBuckets sorts each track's observations and cuts them into k
// equal-size buckets, returning per-bucket, per-track mean/variance.
func quantileBuckets(frame squash.Frame, tracks []string, k int) [][]moments {
	out := make([][]moments, k)
	for i := range out {
		out[i] = make([]moments, len(tracks))
	}
	for t, name := range tracks {
		c, ok := frame.Column(name)
		if !ok || c.Kind != squash.Int {
			continue
		}
		vals := append([]int(nil), c.Ints...)
		sort.Ints(vals)
		n := len(vals)
		if n == 0 {
			continue
		}
		for i := 0; i < k; i++ {
			lo := i * n / k
			hi := (i + 1) * n / k
			if hi <= lo {
				hi = lo + 1
			}
			if hi > n {
				hi = n
			}
			out[i][t] = momentsOf(vals[lo:hi])
		}
	}
	return out
}

func momentsOf(vals []int) moments {
	if len(vals) == 0 {
		return moments{}
	}
	sum := 0.0
	for _, v := range vals {
		sum += float64(v)
	}
	mean := sum / float64(len(vals))
	varSum := 0.0
	for _, v := range vals {
		d := float64(v) - mean
		varSum += d * d
	}
	return moments{mean: mean, variance: varSum / float64(len(vals))}
}

// jitter perturbs v by up to ±15% so that repeated multistart runs seed
// from distinct basins of attraction.
func jitter(rng *rand.Rand, v float64) float64 {
	if v <= 0 {
		v = 0.5
	}
	factor := 0.85 + rng.Float64()*0.3
	return v * factor
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
