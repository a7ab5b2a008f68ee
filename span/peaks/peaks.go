// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peaks implements the Peak Extractor (§4.8): candidate bins
// are selected by a null-probability threshold, merged into candidate
// islands across small gaps, scored, corrected for multiple testing,
// clipped at their boundaries, filtered against a blacklist, and
// finally classified (for differential calls) by which track carries
// the signal.
package peaks

import (
	"fmt"
	"math"
	"sort"
	"weak"

	"github.com/biogo/store/interval"
	"github.com/biogo/store/step"

	"github.com/kortschak/span/span/config"
)

// Peak is a single called region, in bin coordinates translated to
// base pairs by the caller's bin size.
type Peak struct {
	Chrom  string
	Start  int // bp, inclusive
	End    int // bp, exclusive
	Score  int // integer in [0,1000], per §4.8
	Value  float64
	QValue float64

	// Differential is non-empty only for differential calls: "high2low"
	// or "low2high" (§4.8).
	Differential string
}

// boolStep is the step.Equaler candidate-run marker used to walk
// contiguous candidate-bin segments with step.Vector, the same
// run-length pattern the teacher's cmpint command uses to compare
// annotation tracks (§4.8; grounded on cmd/cmpint's types/classes
// step.Vector usage).
type boolStep bool

func (b boolStep) Equal(e step.Equaler) bool { return b == e.(boolStep) }

// CandidateBins marks bins whose log-null probability is at or below
// threshold (more negative is more significant) as candidates (§4.8
// "Candidate bins").
func CandidateBins(logNull []float64, threshold float64) []bool {
	out := make([]bool, len(logNull))
	for i, v := range logNull {
		out[i] = v <= threshold
	}
	return out
}

// mergeGaps fills runs of false no longer than gap bins, joining
// adjacent candidate runs into one island (§4.8 "Candidate islands").
func mergeGaps(candidate []bool, gap int) []bool {
	if gap <= 0 {
		return candidate
	}
	out := append([]bool(nil), candidate...)
	n := len(out)
	i := 0
	for i < n {
		if out[i] {
			i++
			continue
		}
		j := i
		for j < n && !out[j] {
			j++
		}
		// [i,j) is a false run; fill it if it is bounded by candidates
		// on both sides and short enough.
		if i > 0 && j < n && j-i <= gap {
			for k := i; k < j; k++ {
				out[k] = true
			}
		}
		i = j
	}
	return out
}

// Island is a candidate island in bin-index coordinates [Start,End).
type Island struct {
	Start, End int
}

// islands extracts the contiguous true runs of merged as Islands, via
// step.Vector's run iteration.
func islands(merged []bool) ([]Island, error) {
	n := len(merged)
	if n == 0 {
		return nil, nil
	}
	v, err := step.New(0, n, boolStep(false))
	if err != nil {
		return nil, fmt.Errorf("peaks: building candidate vector: %w", err)
	}
	for i, c := range merged {
		if !c {
			continue
		}
		if err := v.ApplyRange(i, i+1, func(step.Equaler) step.Equaler { return boolStep(true) }); err != nil {
			return nil, fmt.Errorf("peaks: marking candidate bin %d: %w", i, err)
		}
	}
	var out []Island
	v.Do(func(start, end int, e step.Equaler) {
		if bool(e.(boolStep)) {
			out = append(out, Island{Start: start, End: end})
		}
	})
	return out, nil
}

// medianLogNull scores an island as median({logNull[b] : b in island,
// logNull[b] <= threshold})*ln(length) (§4.8 "Island score", the
// canonical SPAN scorer): only bins that individually pass the
// candidate threshold contribute to the median, so a gap-filled bin
// bridging two candidate runs doesn't dilute the island's score.
func medianLogNull(logNull []float64, isl Island, threshold float64) float64 {
	all := logNull[isl.Start:isl.End]
	seg := make([]float64, 0, len(all))
	for _, v := range all {
		if v <= threshold {
			seg = append(seg, v)
		}
	}
	if len(seg) == 0 {
		seg = append([]float64(nil), all...)
	}
	sort.Float64s(seg)
	med := median(seg)
	length := float64(isl.End - isl.Start)
	return med * math.Log(length)
}

// stoufferLiptak combines per-bin log-null probabilities into a single
// island-level statistic via the Stouffer-Liptak transform (§4.8, §9
// open question: preserved for parity, gated behind config.Scorer).
func stoufferLiptak(logNull []float64, isl Island) float64 {
	const sqrt2 = math.Sqrt2
	sum := 0.0
	n := 0
	for _, lp := range logNull[isl.Start:isl.End] {
		p := math.Exp(lp)
		p = math.Min(math.Max(p, 1e-300), 1-1e-16)
		z := math.Sqrt2 * erfinv(1-2*p)
		sum += z
		n++
	}
	if n == 0 {
		return 0
	}
	combined := sum / math.Sqrt(float64(n))
	_ = sqrt2
	return -combined
}

// erfinv is the inverse error function, needed for the Stouffer-Liptak
// combination and absent from the standard math package.
func erfinv(x float64) float64 {
	// Winitzki's rational approximation; adequate for p-value combination,
	// not claimed to be correctly rounded.
	const a = 0.147
	ln := math.Log(1 - x*x)
	t := 2/(math.Pi*a) + ln/2
	return sign(x) * math.Sqrt(math.Sqrt(t*t-ln/a)-t)
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Score computes an island's raw score with the configured scorer.
// threshold is the candidate-bin cutoff (§4.8 step 1): the median
// scorer restricts its median to bins at or below it, per step 3.
func Score(logNull []float64, isl Island, scorer config.Scorer, threshold float64) float64 {
	switch scorer {
	case config.StoufferLiptak:
		return stoufferLiptak(logNull, isl)
	default:
		return medianLogNull(logNull, isl, threshold)
	}
}

// QValues converts raw island scores (assumed to already be in
// log-probability-like units, more negative is more significant) to
// p-values as p = exp(score), clamped to at most 1, and then to q-values using the
// configured multiple-testing correction (§4.8).
func QValues(scores []float64, method config.MultipleTesting) []float64 {
	n := len(scores)
	pvals := make([]float64, n)
	for i, s := range scores {
		pvals[i] = math.Exp(s)
		if pvals[i] > 1 {
			pvals[i] = 1
		}
	}
	switch method {
	case config.BF:
		return bonferroni(pvals)
	default:
		return benjaminiHochberg(pvals)
	}
}

func benjaminiHochberg(pvals []float64) []float64 {
	n := len(pvals)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return pvals[idx[a]] < pvals[idx[b]] })

	q := make([]float64, n)
	minSoFar := 1.0
	for rank := n - 1; rank >= 0; rank-- {
		i := idx[rank]
		adj := pvals[i] * float64(n) / float64(rank+1)
		if adj < minSoFar {
			minSoFar = adj
		}
		q[i] = math.Min(minSoFar, 1)
	}
	return q
}

func bonferroni(pvals []float64) []float64 {
	n := float64(len(pvals))
	q := make([]float64, len(pvals))
	for i, p := range pvals {
		q[i] = math.Min(p*n, 1)
	}
	return q
}

// Clip trims frac of an island's length from each boundary (§4.8
// "Boundary clipping").
func Clip(isl Island, frac float64) Island {
	if frac <= 0 {
		return isl
	}
	length := isl.End - isl.Start
	trim := int(float64(length) * frac)
	out := Island{Start: isl.Start + trim, End: isl.End - trim}
	if out.Start >= out.End {
		return isl
	}
	return out
}

// blacklistInterval adapts a blacklist region to biogo/store/interval's
// IntInterface, the same Overlap/ID/Range trio the teacher's cull and
// ins commands implement for BLAST-hit interval trees (§4.8 "Blacklist
// filtering").
type blacklistInterval struct {
	uid        uintptr
	start, end int
}

func (b blacklistInterval) Overlap(r interval.IntRange) bool {
	return b.start < r.End && r.Start < b.end
}
func (b blacklistInterval) ID() uintptr          { return b.uid }
func (b blacklistInterval) Range() interval.IntRange { return interval.IntRange{Start: b.start, End: b.end} }

// Blacklist is a per-chromosome set of excluded base-pair ranges.
type Blacklist struct {
	trees map[string]*interval.IntTree
}

// NewBlacklist builds a Blacklist from (chrom, start, end) ranges.
func NewBlacklist(regions map[string][][2]int) (*Blacklist, error) {
	bl := &Blacklist{trees: make(map[string]*interval.IntTree, len(regions))}
	for chrom, ranges := range regions {
		tree := &interval.IntTree{}
		for i, r := range ranges {
			iv := blacklistInterval{uid: uintptr(i), start: r[0], end: r[1]}
			if err := tree.Insert(iv, true); err != nil {
				return nil, fmt.Errorf("peaks: building blacklist tree for %s: %w", chrom, err)
			}
		}
		tree.AdjustRanges()
		bl.trees[chrom] = tree
	}
	return bl, nil
}

// Overlaps reports whether [start,end) on chrom intersects any
// blacklisted region.
func (bl *Blacklist) Overlaps(chrom string, start, end int) bool {
	if bl == nil {
		return false
	}
	tree, ok := bl.trees[chrom]
	if !ok {
		return false
	}
	hits := tree.Get(blacklistInterval{start: start, end: end})
	return len(hits) > 0
}

// IntegerScore maps a q-value and peak length to the integer score in
// [0,1000] BED-style callers expect (§4.8 "Peak score": "proportional to
// -log10(q) and ln(end-start)").
func IntegerScore(q float64, length int) int {
	if q <= 0 {
		q = 1e-300
	}
	if length < 1 {
		length = 1
	}
	s := int(-10 * math.Log10(q) * math.Log(float64(length)))
	if s > 1000 {
		s = 1000
	}
	if s < 0 {
		s = 0
	}
	return s
}

// qValueCacheKey identifies one (fit identity, chromosome, gap) q-value
// computation (§5 "weak caches").
type qValueCacheKey struct {
	identity string
	chrom    string
	gap      int
}

// QValueCache memoizes per-island q-values behind weak pointers, so the
// cache never pins memory the rest of the engine would otherwise be
// free to release under pressure (§5).
type QValueCache struct {
	entries map[qValueCacheKey]weak.Pointer[[]float64]
}

// NewQValueCache returns an empty cache.
func NewQValueCache() *QValueCache {
	return &QValueCache{entries: make(map[qValueCacheKey]weak.Pointer[[]float64])}
}

// GetOrCompute returns the cached q-value slice for key if it is still
// live, else computes, caches weakly, and returns a fresh one.
func (c *QValueCache) GetOrCompute(identity, chrom string, gap int, compute func() []float64) []float64 {
	key := qValueCacheKey{identity: identity, chrom: chrom, gap: gap}
	if wp, ok := c.entries[key]; ok {
		if p := wp.Value(); p != nil {
			return *p
		}
	}
	v := compute()
	c.entries[key] = weak.Make(&v)
	return v
}
