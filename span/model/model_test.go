// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/model"
	"github.com/kortschak/span/span/spanlog"
	"github.com/kortschak/span/span/squash"
)

func TestNBLogPMFSumsToOne(t *testing.T) {
	nb := model.NB{Mu: 5, P: 0.4}
	sum := 0.0
	for k := 0; k < 500; k++ {
		sum += math.Exp(nb.LogPMF(k))
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestNBLogPMFNegativeIsImpossible(t *testing.T) {
	nb := model.NB{Mu: 5, P: 0.4}
	assert.True(t, math.IsInf(nb.LogPMF(-1), -1))
}

func TestMeanVarToNBClampsUnderdispersion(t *testing.T) {
	nb := model.MeanVarToNB(10, 5) // variance <= mean
	assert.Greater(t, nb.P, 0.0)
	assert.Less(t, nb.P, 1.0)
}

func TestZeroInflatedLogPMFAtZeroExceedsBareNB(t *testing.T) {
	nb := model.NB{Mu: 5, P: 0.4}
	zi := model.ZeroInflated{Pi: 0.3, NB: nb}
	assert.Greater(t, zi.LogPMF(0), nb.LogPMF(0))
}

func TestZeroInflatedLogPMFNonZeroMatchesScaledNB(t *testing.T) {
	nb := model.NB{Mu: 5, P: 0.4}
	zi := model.ZeroInflated{Pi: 0.3, NB: nb}
	want := math.Log1p(-0.3) + nb.LogPMF(3)
	assert.InDelta(t, want, zi.LogPMF(3), 1e-9)
}

func TestLogSumExpMatchesDirectSum(t *testing.T) {
	xs := []float64{math.Log(0.1), math.Log(0.2), math.Log(0.3)}
	got := model.LogSumExp(xs)
	assert.InDelta(t, math.Log(0.6), got, 1e-9)
}

func TestLogSumExpEmpty(t *testing.T) {
	assert.True(t, math.IsInf(model.LogSumExp(nil), -1))
}

func TestNullLogProbReducesSelectedStates(t *testing.T) {
	logPost := []float64{math.Log(0.2), math.Log(0.3), math.Log(0.5)}
	got := model.NullLogProb(logPost, []int{0, 1})
	assert.InDelta(t, math.Log(0.5), got, 1e-9)
}

func newTestHMM() *model.HMM {
	states := model.StatesFor(model.NB_ZLH_HMM)
	h := model.NewHMM(model.NB_ZLH_HMM, states, []string{"y"}, true)
	h.LogPrior[0] = math.Log(0.6)
	h.LogPrior[1] = math.Log(0.3)
	h.LogPrior[2] = math.Log(0.1)
	for i := range h.LogTrans {
		for j := range h.LogTrans[i] {
			h.LogTrans[i][j] = math.Log(1.0 / 3)
		}
	}
	h.Emit[0][0] = model.Emission{IsZI: true, ZI: model.ZeroInflated{Pi: 0.8, NB: model.NB{Mu: 1, P: 0.5}}}
	h.Emit[1][0] = model.Emission{Plain: model.NB{Mu: 5, P: 0.4}}
	h.Emit[2][0] = model.Emission{Plain: model.NB{Mu: 20, P: 0.6}}
	return h
}

func testFrame(t *testing.T, ys []int) squash.Frame {
	t.Helper()
	f, err := squash.NewFrame(len(ys), squash.Column{Name: "y", Kind: squash.Int, Ints: ys})
	require.NoError(t, err)
	return f
}

func TestHMMPosteriorsSumToOne(t *testing.T) {
	h := newTestHMM()
	frame := testFrame(t, []int{0, 0, 5, 6, 20, 22, 0, 1})
	post, err := h.Posteriors(frame)
	require.NoError(t, err)
	for _, row := range post {
		sum := 0.0
		for _, lp := range row {
			sum += math.Exp(lp)
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestHMMEMStepLogLikelihoodNonDecreasing(t *testing.T) {
	h := newTestHMM()
	rng := rand.New(rand.NewPCG(1, 2))
	frame, err := h.Sample(200, rng)
	require.NoError(t, err)

	prev := math.Inf(-1)
	for i := 0; i < 10; i++ {
		ll, err := h.EMStep(frame)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ll, prev-1e-6)
		prev = ll
	}
}

func TestHMMPredictPicksArgmaxPosterior(t *testing.T) {
	h := newTestHMM()
	frame := testFrame(t, []int{0, 25, 0})
	states, err := h.Predict(frame)
	require.NoError(t, err)
	require.Len(t, states, 3)

	post, err := h.Posteriors(frame)
	require.NoError(t, err)
	for r, row := range post {
		for i, v := range row {
			assert.LessOrEqual(t, v, row[states[r]], "row %d: state %d beats predicted %d", r, i, states[r])
		}
	}
}

func TestHMMCloneIsIndependent(t *testing.T) {
	h := newTestHMM()
	c := h.Clone().(*model.HMM)
	c.LogPrior[0] = -999
	assert.NotEqual(t, h.LogPrior[0], c.LogPrior[0])
}

func TestSanitizeSwapsInvertedLowHigh(t *testing.T) {
	h := newTestHMM()
	li := 1 // StateLow
	hi := 2 // StateHigh
	// Invert: make low's mean/prob exceed high's.
	h.Emit[li][0], h.Emit[hi][0] = h.Emit[hi][0], h.Emit[li][0]

	log := spanlog.Discard()
	require.NoError(t, model.Sanitize(h, log))
	// After sanitizing, low's mean should again be below high's.
	assert.Less(t, h.Emit[li][0].Plain.Mu, h.Emit[hi][0].Plain.Mu)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	h := newTestHMM()
	h.Emit[1][0], h.Emit[2][0] = h.Emit[2][0], h.Emit[1][0]

	log := spanlog.Discard()
	require.NoError(t, model.Sanitize(h, log))
	before := model.Save
	data1, err := before(h)
	require.NoError(t, err)

	require.NoError(t, model.Sanitize(h, log))
	data2, err := before(h)
	require.NoError(t, err)
	assert.Equal(t, data1, data2)
}

func TestHMMJSONRoundTrip(t *testing.T) {
	h := newTestHMM()
	data, err := model.Save(h)
	require.NoError(t, err)

	loaded, err := model.Load(data)
	require.NoError(t, err)
	h2, ok := loaded.(*model.HMM)
	require.True(t, ok)
	assert.Equal(t, h.States(), h2.States())
	assert.Equal(t, h.LogPrior, h2.LogPrior)
}

func TestLoadRejectsUnknownClass(t *testing.T) {
	_, err := model.Load([]byte(`{"model.class":"bogus"}`))
	require.Error(t, err)
}

func TestVariantStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "NB_ZLH_HMM", model.NB_ZLH_HMM.String())
	assert.Contains(t, model.Variant(999).String(), "Variant(999)")
}
