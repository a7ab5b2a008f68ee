// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/config"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, config.Defaults().Validate())
}

func TestValidateRejectsBadBinSize(t *testing.T) {
	o := config.Defaults()
	o.BinSize = 0
	require.Error(t, o.Validate())
}

func TestValidateRejectsBadFDR(t *testing.T) {
	o := config.Defaults()
	o.FDR = 1
	require.Error(t, o.Validate())

	o.FDR = 0
	require.Error(t, o.Validate())
}

func TestValidateRejectsBadClip(t *testing.T) {
	o := config.Defaults()
	o.Clip = 1
	require.Error(t, o.Validate())

	o.Clip = -0.1
	require.Error(t, o.Validate())
}

func TestSensitivityOrDefaultFallsBackToLnFDR(t *testing.T) {
	o := config.Defaults()
	o.UseSensitivity = false
	assert.InDelta(t, math.Log(o.FDR), o.SensitivityOrDefault(), 1e-12)
}

func TestSensitivityOrDefaultUsesOverride(t *testing.T) {
	o := config.Defaults()
	o.UseSensitivity = true
	o.Sensitivity = -12.5
	assert.Equal(t, -12.5, o.SensitivityOrDefault())
}

func TestFragmentModeString(t *testing.T) {
	assert.Equal(t, "auto", config.FragmentAuto.String())
	assert.Equal(t, "fixed", config.FragmentFixed.String())
	assert.Equal(t, "zero", config.FragmentZero.String())
}

func TestMultipleTestingString(t *testing.T) {
	assert.Equal(t, "BH", config.BH.String())
	assert.Equal(t, "BF", config.BF.String())
}
