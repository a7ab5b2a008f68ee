// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coverage turns aligned reads into binned, per-chromosome
// integer coverage arrays (§4.1 of the design). Read access is provided
// by the caller through the Provider interface, the "read-coverage
// provider" external collaborator; this package never touches an
// alignment file format directly.
package coverage

import (
	"fmt"

	"github.com/kortschak/span/span/config"
	"github.com/kortschak/span/span/genome"
)

// ErrEmptyData is returned when no chromosome in a genome query has any
// treatment read (§4.1, §7).
var ErrEmptyData = genome.ErrEmptyData

// Read is a single aligned read. Pos is its 5' genomic position and
// Strand is +1 or -1. Length is the observed read length, used only to
// estimate the fragment size in FragmentAuto mode.
type Read struct {
	Pos    int
	Strand int8
	Length int
}

// Provider is the external read-coverage collaborator (§6): for a given
// chromosome it yields every read overlapping that chromosome, both
// strands, already 5'-resolved.
type Provider interface {
	// Reads calls yield once per read on chrom. Iteration stops early
	// if yield returns false.
	Reads(chrom string, yield func(Read) bool) error
	// Total returns the total number of reads across the whole
	// dataset (used for library-size normalization).
	Total() (int, error)
}

// fragmentLength resolves the effective extension applied to each
// read's 5' start, per the configured Fragment policy.
func fragmentLength(policy config.Fragment, reads []Read) int {
	switch policy.Mode {
	case config.FragmentFixed:
		return policy.Length
	case config.FragmentZero:
		return 0
	case config.FragmentAuto:
		return estimateFragment(reads)
	default:
		return 0
	}
}

// estimateFragment approximates the "auto" fragment length as the
// median observed read length, a conservative stand-in for the strand
// cross-correlation estimators real callers use; it requires no second
// coverage pass and is deterministic given the read set.
func estimateFragment(reads []Read) int {
	if len(reads) == 0 {
		return 0
	}
	lens := make([]int, len(reads))
	for i, r := range reads {
		l := r.Length
		if l < 1 {
			l = 1
		}
		lens[i] = l
	}
	return median(lens)
}

func median(xs []int) int {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := append([]int(nil), xs...)
	insertionSort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func insertionSort(xs []int) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// Binned computes the binned coverage of chrom for the given provider,
// applying the fragment and uniqueness policy and binning at binSize.
// It implements §4.1: binnedCoverage(c) -> int[ceil(len(c)/binSize)], the
// sum of reads (both strands, shifted by fragment) whose 5' position
// falls in each bin.
func Binned(p Provider, chrom string, length, binSize int, frag config.Fragment, unique bool) ([]int, error) {
	if binSize <= 0 {
		return nil, fmt.Errorf("coverage: binSize must be > 0")
	}
	nBins := (length + binSize - 1) / binSize
	bins := make([]int, nBins)

	var reads []Read
	seenStart := make(map[int]bool)
	err := p.Reads(chrom, func(r Read) bool {
		if unique {
			if seenStart[r.Pos] {
				return true
			}
			seenStart[r.Pos] = true
		}
		reads = append(reads, r)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("coverage: reading %q: %w", chrom, err)
	}
	if len(reads) == 0 {
		return bins, nil
	}

	ext := fragmentLength(frag, reads)
	half := ext / 2
	for _, r := range reads {
		pos := r.Pos
		if r.Strand < 0 {
			pos -= half
		} else {
			pos += half
		}
		if pos < 0 {
			pos = 0
		}
		if pos >= length {
			pos = length - 1
		}
		b := pos / binSize
		if b >= nBins {
			b = nBins - 1
		}
		bins[b]++
	}
	return bins, nil
}

// EffectiveGenome filters cs down to chromosomes with at least one
// treatment read, per §4.1. It fails with ErrEmptyData if the result
// would be empty.
func EffectiveGenome(p Provider, cs genome.ChromSizes) (genome.ChromSizes, error) {
	return cs.Filter(func(name string) bool {
		has := false
		_ = p.Reads(name, func(Read) bool {
			has = true
			return false
		})
		return has
	})
}
