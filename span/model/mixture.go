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

// Mixture is the NB_MIXTURE family member: an i.i.d. mixture of
// negative-binomial components with no transition structure (§4.5).
type Mixture struct {
	states  []string
	LogWeight []float64
	Comp    []NB
}

// NewMixture constructs a k-component mixture with uninitialized
// parameters.
func NewMixture(k int) *Mixture {
	states := make([]string, k)
	for i := range states {
		states[i] = fmt.Sprintf("C%d", i)
	}
	return &Mixture{
		states:    states,
		LogWeight: make([]float64, k),
		Comp:      make([]NB, k),
	}
}

func (m *Mixture) Variant() Variant { return NB_MIXTURE }
func (m *Mixture) States() []string { return m.states }

func (m *Mixture) Clone() Model {
	c := NewMixture(len(m.states))
	copy(c.LogWeight, m.LogWeight)
	copy(c.Comp, m.Comp)
	return c
}

func (m *Mixture) column(frame squash.Frame) ([]int, error) {
	c, ok := frame.Column("y")
	if !ok || c.Kind != squash.Int {
		return nil, fmt.Errorf("model: mixture: frame missing integer column \"y\"")
	}
	return c.Ints, nil
}

func (m *Mixture) rowLogProbs(y int) []float64 {
	out := make([]float64, len(m.Comp))
	for i, c := range m.Comp {
		out[i] = m.LogWeight[i] + c.LogPMF(y)
	}
	return out
}

func (m *Mixture) LogLikelihood(frame squash.Frame) (float64, error) {
	ys, err := m.column(frame)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, y := range ys {
		total += LogSumExp(m.rowLogProbs(y))
	}
	return total, nil
}

func (m *Mixture) Posteriors(frame squash.Frame) ([][]float64, error) {
	ys, err := m.column(frame)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(ys))
	for t, y := range ys {
		lp := m.rowLogProbs(y)
		z := LogSumExp(lp)
		row := make([]float64, len(lp))
		for i, v := range lp {
			row[i] = v - z
		}
		out[t] = row
	}
	return out, nil
}

func (m *Mixture) Predict(frame squash.Frame) ([]int, error) {
	post, err := m.Posteriors(frame)
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

func (m *Mixture) Sample(n int, rng *rand.Rand) (squash.Frame, error) {
	weights := make([]float64, len(m.LogWeight))
	for i, lw := range m.LogWeight {
		weights[i] = math.Exp(lw)
	}
	ys := make([]int, n)
	for i := 0; i < n; i++ {
		c := sampleCategorical(weights, rng)
		ys[i] = m.Comp[c].Sample(rng)
	}
	return squash.NewFrame(n, squash.Column{Name: "y", Kind: squash.Int, Ints: ys})
}

// EMStep performs one EM iteration for the mixture: the E-step
// log-likelihood under current parameters (returned for the Fitter's
// convergence check), then an M-step updating weights and per-
// component NB parameters from the responsibilities.
func (m *Mixture) EMStep(frame squash.Frame) (float64, error) {
	ys, err := m.column(frame)
	if err != nil {
		return 0, err
	}
	n := len(ys)
	k := len(m.Comp)
	if n == 0 {
		return math.Inf(-1), nil
	}

	resp := make([][]float64, n)
	ll := 0.0
	for t, y := range ys {
		lp := m.rowLogProbs(y)
		z := LogSumExp(lp)
		ll += z
		row := make([]float64, k)
		for i, v := range lp {
			row[i] = math.Exp(v - z)
		}
		resp[t] = row
	}

	for c := 0; c < k; c++ {
		weightSum := 0.0
		mean := 0.0
		for t, y := range ys {
			w := resp[t][c]
			weightSum += w
			mean += w * float64(y)
		}
		if weightSum <= 0 {
			continue
		}
		mean /= weightSum
		variance := 0.0
		for t, y := range ys {
			d := float64(y) - mean
			variance += resp[t][c] * d * d
		}
		variance /= weightSum
		m.Comp[c] = MeanVarToNB(mean, variance)
		m.LogWeight[c] = math.Log(weightSum / float64(n))
	}
	normalizeLogVector(m.LogWeight)

	return ll, nil
}
