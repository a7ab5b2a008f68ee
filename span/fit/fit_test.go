// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/config"
	"github.com/kortschak/span/span/fit"
	"github.com/kortschak/span/span/model"
	"github.com/kortschak/span/span/squash"
)

func syntheticFrame(t *testing.T) squash.Frame {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 9))
	ys := make([]int, 400)
	for i := range ys {
		switch {
		case i%100 < 70:
			ys[i] = rng.IntN(2)
		case i%100 < 90:
			ys[i] = 5 + rng.IntN(5)
		default:
			ys[i] = 20 + rng.IntN(10)
		}
	}
	f, err := squash.NewFrame(len(ys), squash.Column{Name: "y", Kind: squash.Int, Ints: ys})
	require.NoError(t, err)
	return f
}

func TestFitConvergesAndSanitizes(t *testing.T) {
	frame := syntheticFrame(t)
	opts := config.Defaults()
	opts.MaxIterations = 30
	opts.MultistartIterations = 3
	opts.Multistarts = 2

	init := fit.HMMInit(model.NB_ZLH_HMM, []string{"y"}, true, frame)
	result, err := fit.Fit(context.Background(), frame, init, opts, 1, nil)
	require.NoError(t, err)
	assert.Greater(t, result.Iterations, 0)

	h, ok := result.Model.(*model.HMM)
	require.True(t, ok)
	li := indexOf(h.States(), model.StateLow)
	hi := indexOf(h.States(), model.StateHigh)
	require.GreaterOrEqual(t, li, 0)
	require.GreaterOrEqual(t, hi, 0)
	lowE, highE := h.Emit[li][0], h.Emit[hi][0]
	assert.False(t, lowE.Plain.Mu > highE.Plain.Mu && lowE.Plain.P > highE.Plain.P,
		"low state still inverted against high after sanitizing")
}

func TestFitRespectsCancellation(t *testing.T) {
	frame := syntheticFrame(t)
	opts := config.Defaults()
	opts.MaxIterations = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	init := fit.HMMInit(model.NB_ZLH_HMM, []string{"y"}, true, frame)
	_, err := fit.Fit(ctx, frame, init, opts, 1, nil)
	require.ErrorIs(t, err, fit.ErrCancelled)
}

func indexOf(states []string, label string) int {
	for i, s := range states {
		if s == label {
			return i
		}
	}
	return -1
}
