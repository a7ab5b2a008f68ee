// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peaks_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/config"
	"github.com/kortschak/span/span/peaks"
)

func TestCandidateBinsThreshold(t *testing.T) {
	logNull := []float64{-1, -5, -0.1, -10}
	got := peaks.CandidateBins(logNull, -2)
	assert.Equal(t, []bool{false, true, false, true}, got)
}

func TestIslandsMergesShortGaps(t *testing.T) {
	// true, false, true with a gap of 1 should merge into one island.
	candidate := []bool{true, false, true, false, false, true}
	isls, err := peaks.Islands(candidate, 1)
	require.NoError(t, err)
	require.Len(t, isls, 2)
	assert.Equal(t, peaks.Island{Start: 0, End: 3}, isls[0])
	assert.Equal(t, peaks.Island{Start: 5, End: 6}, isls[1])
}

func TestIslandsNoGapLeavesRunsSeparate(t *testing.T) {
	candidate := []bool{true, false, true}
	isls, err := peaks.Islands(candidate, 0)
	require.NoError(t, err)
	require.Len(t, isls, 2)
}

// TestScoreMedianLogNullFiltersToCandidateBins checks §4.8 step 3: the
// median only includes bins that individually pass the candidate
// threshold, so a gap-filled bin bridging two candidate runs doesn't
// dilute the island's score toward its (non-candidate) value.
func TestScoreMedianLogNullFiltersToCandidateBins(t *testing.T) {
	const threshold = -2.0
	logNull := []float64{-100, -0.01, -0.01, -100}
	isl := peaks.Island{Start: 0, End: 4}

	got := peaks.Score(logNull, isl, config.MedianLogNull, threshold)
	want := -100 * math.Log(4)
	assert.InDelta(t, want, got, 1e-9)

	// The naive, unfiltered median would land far from -100 since it
	// averages in the two non-candidate -0.01 bins.
	naive := (-100 + -0.01) / 2 * math.Log(4)
	assert.NotEqual(t, naive, got)
}

// TestScoreMedianLogNullUsesLnLengthNotLnLengthPlusOne checks §4.8 step
// 3's length factor is ln(j-i), not ln(j-i+1).
func TestScoreMedianLogNullUsesLnLengthNotLnLengthPlusOne(t *testing.T) {
	logNull := []float64{-10, -10, -10}
	isl := peaks.Island{Start: 0, End: 3}
	got := peaks.Score(logNull, isl, config.MedianLogNull, 0)
	assert.InDelta(t, -10*math.Log(3), got, 1e-9)
}

// TestExtractScoresGapFilledIslandUsingOnlyCandidateBins exercises the
// full per-chromosome pipeline with a gap-merged island (the routine
// case, since the default Gap bridges single-bin gaps): the weak,
// non-candidate bin bridging two strongly-enriched runs must not pull
// the island's score toward insignificance.
func TestExtractScoresGapFilledIslandUsingOnlyCandidateBins(t *testing.T) {
	logNull := make([]float64, 30)
	for i := range logNull {
		logNull[i] = -0.01 // background, not significant
	}
	// Two strongly-enriched runs separated by one weak (non-candidate)
	// bridging bin at index 14.
	for _, i := range []int{10, 11, 12, 13, 15, 16, 17, 18} {
		logNull[i] = -80
	}

	opts := config.Defaults()
	opts.FDR = 0.05
	opts.Gap = 1 // auto default: bridge single-bin gaps

	out, err := peaks.Extract(peaks.ChromInput{
		Chrom:   "chr1",
		LogNull: logNull,
		Length:  3000,
	}, 100, opts, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// The merged island spans bins [10,19); had the bridging bin diluted
	// the median, the resulting q-value would fail the FDR cutoff.
	assert.Equal(t, 1000, out[0].Start)
	assert.Equal(t, 1900, out[0].End)
	assert.Less(t, out[0].QValue, opts.FDR)
}

func TestQValuesBenjaminiHochbergMonotonic(t *testing.T) {
	// §8 law 8: sorting scores by p-value ascending, q-values are
	// monotonically non-decreasing in that same order.
	scores := []float64{math.Log(0.001), math.Log(0.5), math.Log(0.01), math.Log(0.9)}
	q := peaks.QValues(scores, config.BH)
	require.Len(t, q, 4)
	for _, v := range q {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	// The smallest p-value must get the smallest (or equal) q-value.
	assert.LessOrEqual(t, q[0], q[1])
	assert.LessOrEqual(t, q[0], q[3])
}

func TestQValuesBonferroniScalesByN(t *testing.T) {
	scores := []float64{math.Log(0.01), math.Log(0.02)}
	q := peaks.QValues(scores, config.BF)
	assert.InDelta(t, 0.02, q[0], 1e-9)
	assert.InDelta(t, 0.04, q[1], 1e-9)
}

func TestClipTrimsBoundaries(t *testing.T) {
	isl := peaks.Island{Start: 0, End: 10}
	clipped := peaks.Clip(isl, 0.2)
	assert.Equal(t, peaks.Island{Start: 2, End: 8}, clipped)
}

func TestClipNoOpOnZeroFraction(t *testing.T) {
	isl := peaks.Island{Start: 0, End: 10}
	assert.Equal(t, isl, peaks.Clip(isl, 0))
}

func TestIntegerScoreClampsToRange(t *testing.T) {
	assert.Equal(t, 0, peaks.IntegerScore(1, 10))
	assert.LessOrEqual(t, peaks.IntegerScore(1e-300, 100000), 1000)
	assert.GreaterOrEqual(t, peaks.IntegerScore(1e-300, 100000), 0)
}

func TestBlacklistOverlapsDetection(t *testing.T) {
	bl, err := peaks.NewBlacklist(map[string][][2]int{
		"chr1": {{100, 200}},
	})
	require.NoError(t, err)
	assert.True(t, bl.Overlaps("chr1", 150, 250))
	assert.False(t, bl.Overlaps("chr1", 300, 400))
	assert.False(t, bl.Overlaps("chr2", 150, 250))
}

func TestNilBlacklistNeverOverlaps(t *testing.T) {
	var bl *peaks.Blacklist
	assert.False(t, bl.Overlaps("chr1", 0, 100))
}

func TestExtractEndToEndFindsEnrichedIsland(t *testing.T) {
	logNull := make([]float64, 50)
	for i := range logNull {
		logNull[i] = -0.01 // background, not significant
	}
	for i := 20; i < 25; i++ {
		logNull[i] = -50 // strongly enriched island
	}
	signal := make([]float64, 50)
	for i := 20; i < 25; i++ {
		signal[i] = 100
	}

	opts := config.Defaults()
	opts.FDR = 0.05
	opts.Gap = 0

	out, err := peaks.Extract(peaks.ChromInput{
		Chrom:   "chr1",
		LogNull: logNull,
		Length:  5000,
		Signal:  signal,
	}, 100, opts, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2000, out[0].Start)
	assert.Equal(t, 2500, out[0].End)
	assert.Greater(t, out[0].Value, 0.0)
}

// TestExtractClassifiesDifferentialDirection exercises the S6
// differential-calling scenario: a surviving peak's Differential field
// is set from DiffPosterior at the peak's first (clipped) bin, to
// "low2high" when the increased-state log-posterior dominates and
// "high2low" when the decreased-state one does.
func TestExtractClassifiesDifferentialDirection(t *testing.T) {
	mk := func(diff [][2]float64) peaks.ChromInput {
		logNull := make([]float64, 50)
		for i := range logNull {
			logNull[i] = -0.01
		}
		for i := 20; i < 25; i++ {
			logNull[i] = -50
		}
		return peaks.ChromInput{
			Chrom:         "chr1",
			LogNull:       logNull,
			Length:        5000,
			DiffPosterior: diff,
		}
	}
	opts := config.Defaults()
	opts.FDR = 0.05
	opts.Gap = 0

	t.Run("low2high", func(t *testing.T) {
		diff := make([][2]float64, 50)
		diff[20] = [2]float64{math.Log(0.9), math.Log(0.1)} // logIncreased >= logDecreased
		out, err := peaks.Extract(mk(diff), 100, opts, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "low2high", out[0].Differential)
	})

	t.Run("high2low", func(t *testing.T) {
		diff := make([][2]float64, 50)
		diff[20] = [2]float64{math.Log(0.1), math.Log(0.9)} // logDecreased > logIncreased
		out, err := peaks.Extract(mk(diff), 100, opts, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "high2low", out[0].Differential)
	})
}

func TestExtractFiltersBlacklistedPeaks(t *testing.T) {
	logNull := make([]float64, 50)
	for i := range logNull {
		logNull[i] = -0.01
	}
	for i := 20; i < 25; i++ {
		logNull[i] = -50
	}
	bl, err := peaks.NewBlacklist(map[string][][2]int{"chr1": {{2000, 2500}}})
	require.NoError(t, err)

	opts := config.Defaults()
	opts.FDR = 0.05
	opts.Gap = 0

	out, err := peaks.Extract(peaks.ChromInput{
		Chrom:   "chr1",
		LogNull: logNull,
		Length:  5000,
	}, 100, opts, bl)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExtractAllOrdersByChromosomeNameRegardlessOfMapOrder(t *testing.T) {
	mkInput := func(chrom string) peaks.ChromInput {
		logNull := make([]float64, 10)
		for i := range logNull {
			logNull[i] = -0.01
		}
		logNull[5] = -50
		logNull[6] = -50
		return peaks.ChromInput{Chrom: chrom, LogNull: logNull, Length: 1000}
	}
	inputs := map[string]peaks.ChromInput{
		"chrZ": mkInput("chrZ"),
		"chrA": mkInput("chrA"),
		"chrM": mkInput("chrM"),
	}
	opts := config.Defaults()
	opts.FDR = 0.05
	opts.Gap = 0

	out, err := peaks.ExtractAll([]string{"chrZ", "chrA", "chrM"}, inputs, 100, opts, nil, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"chrA", "chrM", "chrZ"}, []string{out[0].Chrom, out[1].Chrom, out[2].Chrom})
}

func TestQValueCacheReturnsCachedResultWhileLive(t *testing.T) {
	c := peaks.NewQValueCache()
	calls := 0
	compute := func() []float64 {
		calls++
		return []float64{0.1, 0.2}
	}
	first := c.GetOrCompute("id", "chr1", 1, compute)
	second := c.GetOrCompute("id", "chr1", 1, compute)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}
