// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/cache"
	"github.com/kortschak/span/span/fitinfo"
	"github.com/kortschak/span/span/genome"
	"github.com/kortschak/span/span/model"
)

func testInfo(t *testing.T, binSize int) fitinfo.Info {
	t.Helper()
	cs, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chr1", Length: 1000}})
	require.NoError(t, err)
	return fitinfo.Info{
		Build:      "hg38",
		DataPaths:  []string{"treatment.bam"},
		BinSize:    binSize,
		ChromSizes: cs,
		Kind:       fitinfo.KindHMM,
	}
}

func testModel() *model.HMM {
	states := model.StatesFor(model.NB_ZLH_HMM)
	h := model.NewHMM(model.NB_ZLH_HMM, states, []string{"y"}, true)
	for i := range h.LogPrior {
		h.LogPrior[i] = -1
	}
	return h
}

// TestGetOrComputeRoundTrip checks §8 law 9: writing an entry and
// reloading it via a cache miss followed by a cache hit both return an
// entry whose model and per-bin null log-probabilities match what was
// computed, the array peak extraction consumes directly (§3, §4.7).
func TestGetOrComputeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	info := testInfo(t, 200)
	logNull := []float64{-0.01, -12.5, -0.02, -33.1}
	calls := 0
	compute := func() (cache.Entry, error) {
		calls++
		return cache.Entry{Info: info, Model: testModel(), Null: logNull}, nil
	}

	entry1, err := c.GetOrCompute(info.ID(), info.Kind, info, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, entry1.Null, len(logNull))
	for i, v := range logNull {
		assert.InDelta(t, v, entry1.Null[i], 1e-4, "bin %d", i)
	}

	entry2, err := c.GetOrCompute(info.ID(), info.Kind, info, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call should be a cache hit, not recompute")
	require.Len(t, entry2.Null, len(logNull))
	for i, v := range logNull {
		assert.InDelta(t, v, entry2.Null[i], 1e-4, "bin %d", i)
	}
}

func TestGetOrComputeDetectsStoredMismatch(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	info := testInfo(t, 200)
	key := info.ID()
	_, err = c.GetOrCompute(key, info.Kind, info, func() (cache.Entry, error) {
		return cache.Entry{Info: info, Model: testModel(), Null: nil}, nil
	})
	require.NoError(t, err)

	other := testInfo(t, 500)
	_, err = c.GetOrCompute(key, info.Kind, other, func() (cache.Entry, error) {
		t.Fatal("compute should not run on an existing ledger entry")
		return cache.Entry{}, nil
	})
	require.ErrorIs(t, err, cache.ErrStoredMismatch)
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	info := testInfo(t, 200)
	wantErr := assert.AnError
	_, err = c.GetOrCompute(info.ID(), info.Kind, info, func() (cache.Entry, error) {
		return cache.Entry{}, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}
