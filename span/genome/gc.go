// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package genome

import (
	"fmt"
	"io"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/hts/fai"
)

// OpenFAI wraps an indexed FASTA file (an io.ReaderAt over the sequence
// data plus its parsed .fai index) for random-access GC scanning, built
// the same way the teacher opens a library FASTA for query fragment
// extraction before handing ranges to BLAST.
func OpenFAI(r io.ReaderAt, index fai.Index) (*fai.File, error) {
	f, err := fai.NewFile(r, index)
	if err != nil {
		return nil, fmt.Errorf("genome: opening indexed fasta: %w", err)
	}
	return f, nil
}

// BinGC computes, for each bin of width binSize spanning chrom, the
// fraction of G/C bases among the unambiguous A/C/G/T bases read in
// that bin (§3 "Score Frame" GC covariate). The result has length
// ceil(length/binSize), matching ChromSizes.Bins.
func BinGC(f *fai.File, chrom string, length, binSize int) ([]float64, error) {
	nBins := ceilDiv(length, binSize)
	out := make([]float64, nBins)
	for i := 0; i < nBins; i++ {
		start := i * binSize
		end := start + binSize
		if end > length {
			end = length
		}
		s, err := f.SeqRange(chrom, start, end)
		if err != nil {
			return nil, fmt.Errorf("genome: reading %s:%d-%d: %w", chrom, start, end, err)
		}
		gc, total := 0, 0
		for _, l := range s.Seq {
			switch alphabet.Letter(l).String() {
			case "G", "C", "g", "c":
				gc++
				total++
			case "A", "T", "a", "t":
				total++
			}
		}
		if total > 0 {
			out[i] = float64(gc) / float64(total)
		}
	}
	return out, nil
}
