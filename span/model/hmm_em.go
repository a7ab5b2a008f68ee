// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"math"

	"github.com/kortschak/span/span/squash"
)

// EMStep performs one Baum-Welch iteration: an E-step under the
// model's current parameters (whose log-likelihood is returned for
// the Fitter's convergence check) followed by an M-step that updates
// LogPrior, LogTrans and Emit in place. Because the E-step measures
// the model the Fitter is about to replace, the sequence of returned
// values across repeated calls is non-decreasing (§8 law, §4.6).
func (h *HMM) EMStep(frame squash.Frame) (float64, error) {
	obs, err := h.rows(frame)
	if err != nil {
		return 0, err
	}
	n := len(obs)
	k := len(h.states)
	if n == 0 {
		return math.Inf(-1), nil
	}

	alpha, logLik := h.forward(obs)
	beta := h.backward(obs)

	gamma := make([][]float64, n) // gamma[t][i] = P(state_t=i | obs), probability space
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			gamma[t][i] = math.Exp(alpha[t][i] + beta[t][i] - logLik)
		}
	}

	// xiSum[i][j] = sum_t P(state_t=i, state_{t+1}=j | obs)
	xiSum := make([][]float64, k)
	for i := range xiSum {
		xiSum[i] = make([]float64, k)
	}
	for t := 0; t < n-1; t++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				logXi := alpha[t][i] + h.LogTrans[i][j] + h.emissionLogProb(j, obs[t+1]) + beta[t+1][j] - logLik
				xiSum[i][j] += math.Exp(logXi)
			}
		}
	}

	// M-step: prior.
	for i := 0; i < k; i++ {
		h.LogPrior[i] = math.Log(gamma[0][i] + 1e-300)
	}
	normalizeLogVector(h.LogPrior)

	// M-step: transitions.
	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			rowSum += xiSum[i][j]
		}
		for j := 0; j < k; j++ {
			if rowSum <= 0 {
				h.LogTrans[i][j] = math.Log(1.0 / float64(k))
				continue
			}
			h.LogTrans[i][j] = math.Log(xiSum[i][j]/rowSum + 1e-300)
		}
		normalizeLogVector(h.LogTrans[i])
	}

	// M-step: emissions, per state per track, weighted by gamma.
	for s := 0; s < k; s++ {
		weightSum := 0.0
		for t := 0; t < n; t++ {
			weightSum += gamma[t][s]
		}
		for trk := range h.tracks {
			mean, variance, zeroWeight := weightedMoments(obs, trk, gamma, s, weightSum)
			if h.zeroState && s == 0 {
				h.Emit[s][trk] = Emission{IsZI: true, ZI: ZeroInflated{Pi: zeroWeight, NB: MeanVarToNB(mean, variance)}}
			} else {
				h.Emit[s][trk] = Emission{IsZI: false, Plain: MeanVarToNB(mean, variance)}
			}
		}
	}

	return logLik, nil
}

func weightedMoments(obs [][]int, track int, gamma [][]float64, state int, weightSum float64) (mean, variance, zeroWeight float64) {
	if weightSum <= 0 {
		return 0, 0, 0
	}
	for t, row := range obs {
		w := gamma[t][state]
		mean += w * float64(row[track])
		if row[track] == 0 {
			zeroWeight += w
		}
	}
	mean /= weightSum
	zeroWeight /= weightSum
	for t, row := range obs {
		w := gamma[t][state]
		d := float64(row[track]) - mean
		variance += w * d * d
	}
	variance /= weightSum
	return mean, variance, zeroWeight
}

// NormalizeLogPrior rescales a vector of log-weights in place so that
// log-sum-exp(v) == 0, i.e. so exp(v) sums to 1. It is exported for use
// by initialization heuristics outside the package (e.g. span/fit).
func NormalizeLogPrior(v []float64) { normalizeLogVector(v) }

// normalizeLogVector rescales a vector of log-weights so that
// log-sum-exp(v) == 0, i.e. so exp(v) sums to 1.
func normalizeLogVector(v []float64) {
	total := LogSumExp(v)
	if math.IsInf(total, -1) {
		u := math.Log(1 / float64(len(v)))
		for i := range v {
			v[i] = u
		}
		return
	}
	for i := range v {
		v[i] -= total
	}
}
