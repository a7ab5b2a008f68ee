// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package genome provides the ChromSizes value used throughout span:
// an ordered, lexicographically-sorted mapping from chromosome name to
// chromosome length, loaded from a FASTA index the way the teacher
// package loads one for random-access sequence extraction.
package genome

import (
	"fmt"
	"io"
	"sort"

	"github.com/biogo/hts/fai"
)

// Chrom is a single chromosome's name and length.
type Chrom struct {
	Name   string
	Length int
}

// ChromSizes is an ordered set of chromosomes, always presented sorted
// lexicographically by name (§3 of the design). Build is a free-form
// identifier for the genome assembly (e.g. "hg38"); it takes part in
// Fit Information equality checks but is otherwise opaque to this
// package.
type ChromSizes struct {
	Build  string
	chroms []Chrom
	index  map[string]int // name -> position in chroms
}

// NewChromSizes builds a ChromSizes from an unordered list, sorting it
// by name and rejecting duplicate or non-positive-length entries.
func NewChromSizes(build string, chroms []Chrom) (ChromSizes, error) {
	cs := ChromSizes{
		Build:  build,
		chroms: append([]Chrom(nil), chroms...),
		index:  make(map[string]int, len(chroms)),
	}
	sort.Slice(cs.chroms, func(i, j int) bool { return cs.chroms[i].Name < cs.chroms[j].Name })
	for i, c := range cs.chroms {
		if c.Length <= 0 {
			return ChromSizes{}, fmt.Errorf("genome: chromosome %q has non-positive length %d", c.Name, c.Length)
		}
		if _, dup := cs.index[c.Name]; dup {
			return ChromSizes{}, fmt.Errorf("genome: duplicate chromosome %q", c.Name)
		}
		cs.index[c.Name] = i
	}
	return cs, nil
}

// LoadFAI builds a ChromSizes from an indexed FASTA file's sequence
// reader, in the manner of fai.NewIndex used in the teacher's query
// indexing step. r must be positioned at the start of the FASTA file.
func LoadFAI(build string, r io.Reader) (ChromSizes, error) {
	idx, err := fai.NewIndex(r)
	if err != nil {
		return ChromSizes{}, fmt.Errorf("genome: failed to index fasta: %w", err)
	}
	chroms := make([]Chrom, 0, len(idx))
	for name, rec := range idx {
		chroms = append(chroms, Chrom{Name: name, Length: rec.Length})
	}
	return NewChromSizes(build, chroms)
}

// Len returns the number of chromosomes.
func (cs ChromSizes) Len() int { return len(cs.chroms) }

// At returns the i-th chromosome in sorted order.
func (cs ChromSizes) At(i int) Chrom { return cs.chroms[i] }

// All returns the chromosomes in sorted order. The returned slice must
// not be mutated.
func (cs ChromSizes) All() []Chrom { return cs.chroms }

// Names returns the sorted chromosome names.
func (cs ChromSizes) Names() []string {
	names := make([]string, len(cs.chroms))
	for i, c := range cs.chroms {
		names[i] = c.Name
	}
	return names
}

// Length returns the length of chromosome name and whether it exists.
func (cs ChromSizes) Length(name string) (int, bool) {
	i, ok := cs.index[name]
	if !ok {
		return 0, false
	}
	return cs.chroms[i].Length, true
}

// Has reports whether name is present.
func (cs ChromSizes) Has(name string) bool {
	_, ok := cs.index[name]
	return ok
}

// Bins returns the number of bins of width binSize spanning chromosome
// name: ceil(length/binSize). It fails if name is absent.
func (cs ChromSizes) Bins(name string, binSize int) (int, error) {
	length, ok := cs.Length(name)
	if !ok {
		return 0, fmt.Errorf("genome: unknown chromosome %q", name)
	}
	return ceilDiv(length, binSize), nil
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		panic("genome: non-positive bin size")
	}
	return (n + d - 1) / d
}

// Filter returns a new ChromSizes retaining only chromosomes for which
// keep returns true. Order and Build are preserved. It fails with
// ErrEmptyData if no chromosome survives the filter (§4.1: "effective
// genome query").
func (cs ChromSizes) Filter(keep func(name string) bool) (ChromSizes, error) {
	var kept []Chrom
	for _, c := range cs.chroms {
		if keep(c.Name) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return ChromSizes{}, ErrEmptyData
	}
	return NewChromSizes(cs.Build, kept)
}

// Equal reports whether cs and other describe the same build and the
// same chromosome name/length pairs, ignoring order (ChromSizes always
// normalizes order itself). Used by Fit Information consistency checks.
func (cs ChromSizes) Equal(other ChromSizes) bool {
	if cs.Build != other.Build || len(cs.chroms) != len(other.chroms) {
		return false
	}
	for i, c := range cs.chroms {
		if other.chroms[i] != c {
			return false
		}
	}
	return true
}

// ErrEmptyData is returned when an effective-genome filter removes every
// chromosome (§7).
var ErrEmptyData = fmt.Errorf("genome: no chromosomes with data remain")
