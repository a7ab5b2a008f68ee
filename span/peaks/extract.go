// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peaks

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/kortschak/span/span/config"
)

// Islands merges candidate runs separated by at most gap unset bins and
// returns the resulting contiguous islands (§4.8 "Candidate bins" and
// "Candidate islands" combined into the one call per-chromosome callers
// need).
func Islands(candidate []bool, gap int) ([]Island, error) {
	return islands(mergeGaps(candidate, gap))
}

// ChromInput is everything the per-chromosome extraction pipeline needs
// for one chromosome (§4.8, runnable in parallel per §5).
type ChromInput struct {
	Chrom string
	// LogNull is the per-bin null log-probability, length equal to the
	// chromosome's bin count.
	LogNull []float64
	// Length is the chromosome length in bp, used to clamp the final
	// island's end coordinate (§4.8 step 5).
	Length int
	// Signal, if non-nil, is the per-bin mean-signal track used for a
	// peak's Value in ordinary (non-differential) calling (§4.8 step 8).
	Signal []float64
	// Treatment1/Treatment2, if both non-nil, are the per-bin signal
	// tracks of the two conditions being compared; Value becomes
	// ln(T1)-ln(T2) (§4.8 step 8, differential calling).
	Treatment1, Treatment2 []float64
	// DiffPosterior, if non-nil, carries [logIncreased, logDecreased]
	// per bin, used to classify each surviving peak as "low2high" or
	// "high2low" by its first bin (§4.8, differential calling tail).
	DiffPosterior [][2]float64
}

// Extract runs the full per-chromosome Peak Extractor pipeline of §4.8:
// candidate bins, gap-merged islands, scoring, multiple-testing
// correction, FDR filtering, coordinate translation, optional clipping,
// integer scoring, value assignment, blacklist filtering, and (when
// DiffPosterior is present) differential direction classification.
func Extract(in ChromInput, binSize int, opts config.Options, bl *Blacklist) ([]Peak, error) {
	if binSize <= 0 {
		return nil, fmt.Errorf("peaks: binSize must be > 0")
	}
	threshold := opts.SensitivityOrDefault()
	candidate := CandidateBins(in.LogNull, threshold)

	gap := opts.Gap
	if gap < 0 {
		gap = 1 // auto default: bridge single-bin gaps
	}
	isls, err := Islands(candidate, gap)
	if err != nil {
		return nil, fmt.Errorf("peaks: %s: %w", in.Chrom, err)
	}
	if len(isls) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(isls))
	for i, isl := range isls {
		scores[i] = Score(in.LogNull, isl, opts.Scorer, threshold)
	}
	qvals := QValues(scores, opts.MultipleTesting)

	var out []Peak
	for i, isl := range isls {
		if qvals[i] >= opts.FDR {
			continue
		}
		clipped := isl
		if opts.Clip > 0 {
			clipped = clipToSignal(isl, in.LogNull, opts.Clip)
		}
		start := clipped.Start * binSize
		end := clipped.End * binSize
		if end > in.Length {
			end = in.Length
		}
		if bl.Overlaps(in.Chrom, start, end) {
			continue
		}

		p := Peak{
			Chrom:  in.Chrom,
			Start:  start,
			End:    end,
			Score:  IntegerScore(qvals[i], end-start),
			QValue: qvals[i],
			Value:  value(in, clipped),
		}
		if in.DiffPosterior != nil && clipped.Start < len(in.DiffPosterior) {
			logI := in.DiffPosterior[clipped.Start][0]
			logD := in.DiffPosterior[clipped.Start][1]
			if logI >= logD {
				p.Differential = "low2high"
			} else {
				p.Differential = "high2low"
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// clipToSignal tightens isl's boundaries toward the bin of lowest
// logNull (the local signal maximum) until the trimmed range retains at
// least (1-clip) of the island's total score mass, never crossing
// outside [isl.Start, isl.End) (§4.8 step 6).
func clipToSignal(isl Island, logNull []float64, clip float64) Island {
	seg := logNull[isl.Start:isl.End]
	n := len(seg)
	if n <= 1 {
		return isl
	}
	total := 0.0
	peakIdx := 0
	peakVal := math.Inf(1)
	for i, v := range seg {
		mass := -v // more negative logNull = more signal = more mass
		total += mass
		if v < peakVal {
			peakVal = v
			peakIdx = i
		}
	}
	if total <= 0 {
		return isl
	}
	keep := (1 - clip) * total
	lo, hi := peakIdx, peakIdx+1
	acc := -seg[peakIdx]
	for acc < keep && (lo > 0 || hi < n) {
		expandLeft := lo > 0
		expandRight := hi < n
		switch {
		case expandLeft && (!expandRight || -seg[lo-1] >= -seg[hi]):
			lo--
			acc += -seg[lo]
		case expandRight:
			acc += -seg[hi]
			hi++
		default:
			expandRight = false
		}
		if !expandLeft && !expandRight {
			break
		}
	}
	return Island{Start: isl.Start + lo, End: isl.Start + hi}
}

// value computes a peak's Value field per §4.8 step 8: mean signal for
// ordinary calling, or ln(T1)-ln(T2) log-fold-change for differential
// calling.
func value(in ChromInput, isl Island) float64 {
	switch {
	case in.Treatment1 != nil && in.Treatment2 != nil:
		t1, t2 := meanOf(in.Treatment1, isl), meanOf(in.Treatment2, isl)
		return math.Log(t1+1) - math.Log(t2+1)
	case in.Signal != nil:
		return meanOf(in.Signal, isl)
	default:
		return 0
	}
}

func meanOf(xs []float64, isl Island) float64 {
	if isl.Start >= len(xs) {
		return 0
	}
	end := isl.End
	if end > len(xs) {
		end = len(xs)
	}
	if end <= isl.Start {
		return 0
	}
	sum := 0.0
	for _, v := range xs[isl.Start:end] {
		sum += v
	}
	return sum / float64(end-isl.Start)
}

// ExtractAll runs Extract across every chromosome in chroms, in
// parallel bounded by threads (GOMAXPROCS when threads <= 0), and
// assembles the result in sorted chromosome-name order regardless of
// completion order (§5 "Ordering").
func ExtractAll(chroms []string, inputs map[string]ChromInput, binSize int, opts config.Options, bl *Blacklist, threads int) ([]Peak, error) {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	sorted := append([]string(nil), chroms...)
	sort.Strings(sorted)

	results := make([][]Peak, len(sorted))
	errs := make([]error, len(sorted))

	sem := make(chan struct{}, threads)
	var wg sync.WaitGroup
	for i, chrom := range sorted {
		in, ok := inputs[chrom]
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, in ChromInput) {
			defer wg.Done()
			defer func() { <-sem }()
			peaks, err := Extract(in, binSize, opts, bl)
			results[i] = peaks
			errs[i] = err
		}(i, in)
	}
	wg.Wait()

	var out []Peak
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
		out = append(out, results[i]...)
	}
	return out, nil
}
