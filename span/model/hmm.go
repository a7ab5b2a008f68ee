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

// Emission is a single state's emission distribution for one track
// (replicate/column). Exactly one of ZI/Plain is meaningful, selected
// by IsZI.
type Emission struct {
	IsZI bool
	ZI   ZeroInflated
	Plain NB
}

func (e Emission) LogPMF(k int) float64 {
	if e.IsZI {
		return e.ZI.LogPMF(k)
	}
	return e.Plain.LogPMF(k)
}

func (e Emission) mean() float64 {
	if e.IsZI {
		return (1 - e.ZI.Pi) * e.ZI.NB.Mu
	}
	return e.Plain.Mu
}

func (e Emission) p() float64 {
	if e.IsZI {
		return e.ZI.NB.P
	}
	return e.Plain.P
}

func (e Emission) sample(rng *rand.Rand) int {
	if e.IsZI {
		if rng.Float64() < e.ZI.Pi {
			return 0
		}
		return e.ZI.NB.Sample(rng)
	}
	return e.Plain.Sample(rng)
}

// HMM is the NB-HMM family member: k states (the first optionally
// zero-inflated), a prior, a log-transition matrix, and one emission
// per (state, track). A single track reproduces the plain HMM
// variants (ZLH/ZLMH/ZLHID/k); more than one track is the "NB
// Constrained HMM (multi-track)" used for differential calling, with
// per-track emissions sharing the same state/transition structure
// (§4.5).
type HMM struct {
	variant   Variant
	states    []string
	tracks    []string
	zeroState bool // true if states[0] has a point mass at 0

	LogPrior []float64   // length k
	LogTrans [][]float64 // k x k, LogTrans[i][j] = log P(state j | state i)
	Emit     [][]Emission // Emit[state][track]
}

// NewHMM constructs an HMM for variant over the given tracks, with
// uninitialized (zero-value) parameters; callers fill LogPrior/
// LogTrans/Emit, typically via the fitter's initialization heuristics.
func NewHMM(variant Variant, states, tracks []string, zeroState bool) *HMM {
	k := len(states)
	h := &HMM{
		variant:   variant,
		states:    append([]string(nil), states...),
		tracks:    append([]string(nil), tracks...),
		zeroState: zeroState,
		LogPrior:  make([]float64, k),
		LogTrans:  make([][]float64, k),
		Emit:      make([][]Emission, k),
	}
	for i := range h.LogTrans {
		h.LogTrans[i] = make([]float64, k)
	}
	for i := range h.Emit {
		h.Emit[i] = make([]Emission, len(tracks))
	}
	return h
}

func (h *HMM) Variant() Variant  { return h.variant }
func (h *HMM) States() []string  { return h.states }
func (h *HMM) Tracks() []string  { return h.tracks }
func (h *HMM) NumStates() int    { return len(h.states) }

func (h *HMM) Clone() Model {
	c := NewHMM(h.variant, h.states, h.tracks, h.zeroState)
	copy(c.LogPrior, h.LogPrior)
	for i := range h.LogTrans {
		copy(c.LogTrans[i], h.LogTrans[i])
	}
	for i := range h.Emit {
		copy(c.Emit[i], h.Emit[i])
	}
	return c
}

// rows extracts the observation matrix (rows x tracks) from frame,
// reading one integer column per track, named as in h.Tracks().
func (h *HMM) rows(frame squash.Frame) ([][]int, error) {
	cols := make([][]int, len(h.tracks))
	for i, name := range h.tracks {
		c, ok := frame.Column(name)
		if !ok {
			return nil, fmt.Errorf("model: hmm: frame missing track column %q", name)
		}
		if c.Kind != squash.Int {
			return nil, fmt.Errorf("model: hmm: track column %q is not integer-valued", name)
		}
		cols[i] = c.Ints
	}
	out := make([][]int, frame.Rows)
	for r := 0; r < frame.Rows; r++ {
		row := make([]int, len(h.tracks))
		for t := range h.tracks {
			row[t] = cols[t][r]
		}
		out[r] = row
	}
	return out, nil
}

func (h *HMM) emissionLogProb(state int, obs []int) float64 {
	total := 0.0
	for t, e := range h.Emit[state] {
		total += e.LogPMF(obs[t])
	}
	return total
}

// forward runs the scaled-in-log-space forward algorithm, returning
// alpha[t][i] = log P(obs_1..t, state_t=i) and the total
// log-likelihood.
func (h *HMM) forward(obs [][]int) (alpha [][]float64, logLik float64) {
	k := len(h.states)
	n := len(obs)
	alpha = make([][]float64, n)
	if n == 0 {
		return alpha, math.Inf(-1)
	}
	alpha[0] = make([]float64, k)
	for i := 0; i < k; i++ {
		alpha[0][i] = h.LogPrior[i] + h.emissionLogProb(i, obs[0])
	}
	for t := 1; t < n; t++ {
		alpha[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			vals := make([]float64, k)
			for i := 0; i < k; i++ {
				vals[i] = alpha[t-1][i] + h.LogTrans[i][j]
			}
			alpha[t][j] = LogSumExp(vals) + h.emissionLogProb(j, obs[t])
		}
	}
	logLik = LogSumExp(alpha[n-1])
	return alpha, logLik
}

// backward returns beta[t][i] = log P(obs_{t+1..n} | state_t=i).
func (h *HMM) backward(obs [][]int) [][]float64 {
	k := len(h.states)
	n := len(obs)
	beta := make([][]float64, n)
	if n == 0 {
		return beta
	}
	beta[n-1] = make([]float64, k)
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			vals := make([]float64, k)
			for j := 0; j < k; j++ {
				vals[j] = h.LogTrans[i][j] + h.emissionLogProb(j, obs[t+1]) + beta[t+1][j]
			}
			beta[t][i] = LogSumExp(vals)
		}
	}
	return beta
}

func (h *HMM) LogLikelihood(frame squash.Frame) (float64, error) {
	obs, err := h.rows(frame)
	if err != nil {
		return 0, err
	}
	_, ll := h.forward(obs)
	return ll, nil
}

func (h *HMM) Posteriors(frame squash.Frame) ([][]float64, error) {
	obs, err := h.rows(frame)
	if err != nil {
		return nil, err
	}
	return h.posteriorsOf(obs)
}

func (h *HMM) posteriorsOf(obs [][]int) ([][]float64, error) {
	k := len(h.states)
	alpha, logLik := h.forward(obs)
	beta := h.backward(obs)
	n := len(obs)
	post := make([][]float64, n)
	for t := 0; t < n; t++ {
		post[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			post[t][i] = alpha[t][i] + beta[t][i] - logLik
		}
	}
	return post, nil
}

func (h *HMM) Predict(frame squash.Frame) ([]int, error) {
	post, err := h.Posteriors(frame)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(post))
	for t, row := range post {
		best, bi := math.Inf(-1), 0
		for i, v := range row {
			if v > best {
				best, bi = v, i
			}
		}
		out[t] = bi
	}
	return out, nil
}

func (h *HMM) Sample(n int, rng *rand.Rand) (squash.Frame, error) {
	k := len(h.states)
	prior := make([]float64, k)
	for i, lp := range h.LogPrior {
		prior[i] = math.Exp(lp)
	}
	state := sampleCategorical(prior, rng)
	cols := make([][]int, len(h.tracks))
	for t := range cols {
		cols[t] = make([]int, n)
	}
	trans := make([][]float64, k)
	for i := range trans {
		trans[i] = make([]float64, k)
		for j := range trans[i] {
			trans[i][j] = math.Exp(h.LogTrans[i][j])
		}
	}
	for r := 0; r < n; r++ {
		for t, e := range h.Emit[state] {
			cols[t][r] = e.sample(rng)
		}
		state = sampleCategorical(trans[state], rng)
	}
	columns := make([]squash.Column, len(h.tracks))
	for i, name := range h.tracks {
		columns[i] = squash.Column{Name: name, Kind: squash.Int, Ints: cols[i]}
	}
	return squash.NewFrame(n, columns...)
}

func sampleCategorical(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	x := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if x < acc {
			return i
		}
	}
	return len(weights) - 1
}
