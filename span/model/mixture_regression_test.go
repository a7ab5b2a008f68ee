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
)

func newTestMixture() *model.Mixture {
	m := model.NewMixture(2)
	m.LogWeight[0] = math.Log(0.7)
	m.LogWeight[1] = math.Log(0.3)
	m.Comp[0] = model.NB{Mu: 1, P: 0.5}
	m.Comp[1] = model.NB{Mu: 20, P: 0.3}
	return m
}

func TestMixturePosteriorsSumToOne(t *testing.T) {
	m := newTestMixture()
	rng := rand.New(rand.NewPCG(3, 4))
	frame, err := m.Sample(100, rng)
	require.NoError(t, err)

	post, err := m.Posteriors(frame)
	require.NoError(t, err)
	for _, row := range post {
		sum := 0.0
		for _, lp := range row {
			sum += math.Exp(lp)
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestMixtureEMStepLogLikelihoodNonDecreasing(t *testing.T) {
	m := newTestMixture()
	rng := rand.New(rand.NewPCG(5, 6))
	frame, err := m.Sample(300, rng)
	require.NoError(t, err)

	prev := math.Inf(-1)
	for i := 0; i < 10; i++ {
		ll, err := m.EMStep(frame)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ll, prev-1e-6)
		prev = ll
	}
}

func TestMixtureJSONRoundTrip(t *testing.T) {
	m := newTestMixture()
	data, err := model.Save(m)
	require.NoError(t, err)

	loaded, err := model.Load(data)
	require.NoError(t, err)
	m2, ok := loaded.(*model.Mixture)
	require.True(t, ok)
	assert.Equal(t, m.Comp, m2.Comp)
}

func TestRegressionEMStepImprovesLikelihoodMonotonically(t *testing.T) {
	r := model.NewRegression(true)
	rng := rand.New(rand.NewPCG(11, 12))
	frame, err := r.Sample(300, rng)
	require.NoError(t, err)

	prev := math.Inf(-1)
	for i := 0; i < 5; i++ {
		ll, err := r.EMStep(frame)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ll, prev-1e-3)
		prev = ll
	}
}

func TestRegressionJSONRoundTrip(t *testing.T) {
	r := model.NewRegression(false)
	r.Coef[1] = 0.5
	data, err := model.Save(r)
	require.NoError(t, err)

	loaded, err := model.Load(data)
	require.NoError(t, err)
	r2, ok := loaded.(*model.Regression)
	require.True(t, ok)
	assert.Equal(t, r.Coef, r2.Coef)
	assert.Equal(t, model.NB_REGR_MIXTURE, r2.Variant())
}
