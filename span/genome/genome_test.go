// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package genome_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/genome"
)

func TestNewChromSizesSortsLexicographically(t *testing.T) {
	cs, err := genome.NewChromSizes("hg38", []genome.Chrom{
		{Name: "chrB", Length: 150},
		{Name: "chrA", Length: 250},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"chrA", "chrB"}, cs.Names())
}

func TestNewChromSizesRejectsDuplicates(t *testing.T) {
	_, err := genome.NewChromSizes("hg38", []genome.Chrom{
		{Name: "chrA", Length: 100},
		{Name: "chrA", Length: 200},
	})
	require.Error(t, err)
}

func TestNewChromSizesRejectsNonPositiveLength(t *testing.T) {
	_, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 0}})
	require.Error(t, err)
}

// TestOffsetLaw verifies §8 law 2: for consecutive chromosomes,
// O_{i+1}-O_i = ceil(len(c_i)/binSize).
func TestOffsetLaw(t *testing.T) {
	cs, err := genome.NewChromSizes("hg38", []genome.Chrom{
		{Name: "chrA", Length: 250},
		{Name: "chrB", Length: 150},
	})
	require.NoError(t, err)

	binA, err := cs.Bins("chrA", 100)
	require.NoError(t, err)
	binB, err := cs.Bins("chrB", 100)
	require.NoError(t, err)
	assert.Equal(t, 3, binA)
	assert.Equal(t, 2, binB)
}

func TestFilterFailsEmptyData(t *testing.T) {
	cs, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 100}})
	require.NoError(t, err)
	_, err = cs.Filter(func(string) bool { return false })
	require.ErrorIs(t, err, genome.ErrEmptyData)
}

func TestEqualIgnoresInputOrder(t *testing.T) {
	a, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 100}, {Name: "chrB", Length: 200}})
	require.NoError(t, err)
	b, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrB", Length: 200}, {Name: "chrA", Length: 100}})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestEqualDetectsLengthMismatch(t *testing.T) {
	a, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 100}})
	require.NoError(t, err)
	b, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 200}})
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}

func TestBinsUnknownChromosome(t *testing.T) {
	cs, err := genome.NewChromSizes("hg38", []genome.Chrom{{Name: "chrA", Length: 100}})
	require.NoError(t, err)
	_, err = cs.Bins("chrZ", 100)
	require.Error(t, err)
}
