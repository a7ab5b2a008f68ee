// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/normalize"
)

func TestNormalizeNoControlReturnsZeroResult(t *testing.T) {
	r := normalize.Normalize(100, 0, []int{1, 2, 3}, nil, 0.01, nil)
	require.Equal(t, normalize.Result{}, r)
}

func TestNormalizeControlScaleIsTOverC(t *testing.T) {
	maxT := []int{10, 20, 30, 40, 50}
	maxC := []int{5, 10, 15, 20, 25}
	r := normalize.Normalize(1000, 500, maxT, maxC, 0.1, nil)
	assert.InDelta(t, 2.0, r.ControlScale, 1e-9)
	assert.GreaterOrEqual(t, r.Beta, 0.0)
	assert.Less(t, r.Beta, 1.0)
}

func TestNormalizeDefaultsGridWhenNonPositive(t *testing.T) {
	maxT := []int{10, 20, 30}
	maxC := []int{5, 10, 15}
	// Should not panic or loop forever with grid <= 0.
	r := normalize.Normalize(100, 100, maxT, maxC, 0, nil)
	assert.Equal(t, 1.0, r.ControlScale)
}

func TestNormalizedCoverageNoControl(t *testing.T) {
	n := normalize.NormalizedCoverage(10, 999, 0.5, 2.0, false)
	assert.Equal(t, 10, n)
}

func TestNormalizedCoverageClampsAtZero(t *testing.T) {
	n := normalize.NormalizedCoverage(1, 100, 1.0, 1.0, true)
	assert.Equal(t, 0, n)
}

func TestNormalizedCoverageSubtractsScaledControl(t *testing.T) {
	// T=10, beta=0.5, controlScale=2, C=4 => 10 - 0.5*2*4 = 6
	n := normalize.NormalizedCoverage(10, 4, 0.5, 2.0, true)
	assert.Equal(t, 6, n)
}
