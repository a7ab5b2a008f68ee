// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fitinfo implements Fit Information (§4.3): the canonical,
// serializable description of a model's input, including the stable
// content-id used as the Result Cache key and the chromosome-index to
// squashed-row-range conversions the squash package needs.
package fitinfo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kortschak/span/span/config"
	"github.com/kortschak/span/span/genome"
	"github.com/kortschak/span/span/squash"
)

// CurrentVersion is the information.json schema version this package
// writes. Loaders must refuse versions greater than this and may
// migrate versions between MinSupportedVersion and CurrentVersion.
const CurrentVersion = 3

// MinSupportedVersion is the oldest information.json version this
// package can migrate forward (§6: "information JSON must carry
// version >= 2").
const MinSupportedVersion = 2

// FQN is the discriminator stamped into information.json, standing in
// for the fully-qualified class name the source's polymorphic loader
// keys off.
const FQN = "org.jetbrains.bioinformatics.span.FitInformation"

// ErrWrongGenome is returned when a loaded Fit Information's genome
// build does not match the expected one (§4.3, §7).
var ErrWrongGenome = fmt.Errorf("fitinfo: wrong genome build")

// ErrIncompatibleVersion is returned when information.json carries a
// version outside [MinSupportedVersion, CurrentVersion] (§7).
var ErrIncompatibleVersion = fmt.Errorf("fitinfo: incompatible information.json version")

// ErrWrongChromosome is returned when a chromosome is missing or its
// length disagrees with the expected ChromSizes (§4.3, §7).
type ErrWrongChromosome struct {
	Chrom string
	Msg   string
}

func (e *ErrWrongChromosome) Error() string {
	return fmt.Sprintf("fitinfo: chromosome %q: %s", e.Chrom, e.Msg)
}

// ModelKind names the model family a Fit Information was produced for,
// selecting the archive suffix (§6: .span/.span2/.span3).
type ModelKind int

const (
	// KindHMM covers every NB-HMM variant (ZLH, ZLMH, ZLHID, plain k).
	KindHMM ModelKind = iota
	// KindPoissonRegression is the Poisson regression mixture.
	KindPoissonRegression
	// KindNBRegression is the NB regression mixture.
	KindNBRegression
)

// Suffix returns the archive file extension for k, per §6.
func (k ModelKind) Suffix() string {
	switch k {
	case KindHMM:
		return ".span"
	case KindPoissonRegression:
		return ".span2"
	case KindNBRegression:
		return ".span3"
	default:
		return ".span"
	}
}

// Info is the Fit Information value object (§4.3).
type Info struct {
	Build      string
	DataPaths  []string // treatment path, then optional control path
	Fragment   config.Fragment
	Unique     bool
	BinSize    int
	ChromSizes genome.ChromSizes
	Kind       ModelKind
	// ModelSpecific carries variant-specific fields (e.g. state count,
	// replicate labels) opaque to this package but part of the id and
	// the serialized record.
	ModelSpecific map[string]string
}

// offsets computes the squashed-row prefix sums for cs at binSize,
// per §3 "Squashed Offsets": O_0=0, O_i = O_{i-1} + ceil(len(c_i)/binSize).
func offsets(cs genome.ChromSizes, binSize int) []int {
	off := make([]int, cs.Len()+1)
	for i := 0; i < cs.Len(); i++ {
		c := cs.At(i)
		n := (c.Length + binSize - 1) / binSize
		off[i+1] = off[i] + n
	}
	return off
}

// Offsets returns the squashed-row prefix sums for this Info.
func (fi Info) Offsets() []int { return offsets(fi.ChromSizes, fi.BinSize) }

// Range returns the squashed row range [lo,hi) for chrom, and an error
// if chrom is not part of this Info's genome.
func (fi Info) Range(chrom string) (lo, hi int, err error) {
	off := fi.Offsets()
	for i := 0; i < fi.ChromSizes.Len(); i++ {
		if fi.ChromSizes.At(i).Name == chrom {
			return off[i], off[i+1], nil
		}
	}
	return 0, 0, &ErrWrongChromosome{Chrom: chrom, Msg: "not present in fit information"}
}

// ChromAt returns the chromosome whose squashed row range contains row,
// and the offset of that chromosome's first row.
func (fi Info) ChromAt(row int) (name string, base int, err error) {
	off := fi.Offsets()
	for i := 0; i < fi.ChromSizes.Len(); i++ {
		if row >= off[i] && row < off[i+1] {
			return fi.ChromSizes.At(i).Name, off[i], nil
		}
	}
	return "", 0, fmt.Errorf("fitinfo: row %d out of range [0,%d)", row, off[len(off)-1])
}

// Merge row-binds a map of per-chromosome frames into one squashed
// Frame, in sorted chromosome order (§4.3 merge, §8 law 1).
func (fi Info) Merge(byChrom map[string]squash.Frame) (squash.Frame, error) {
	frames := make([]squash.Frame, 0, fi.ChromSizes.Len())
	for i := 0; i < fi.ChromSizes.Len(); i++ {
		name := fi.ChromSizes.At(i).Name
		f, ok := byChrom[name]
		if !ok {
			return squash.Frame{}, &ErrWrongChromosome{Chrom: name, Msg: "missing from merge input"}
		}
		wantRows, err := fi.ChromSizes.Bins(name, fi.BinSize)
		if err != nil {
			return squash.Frame{}, err
		}
		if f.Rows != wantRows {
			return squash.Frame{}, &ErrWrongChromosome{Chrom: name, Msg: fmt.Sprintf("expected %d rows, got %d", wantRows, f.Rows)}
		}
		frames = append(frames, f)
	}
	return squash.RowBind(frames...)
}

// Split splits a squashed Frame back into a map keyed by chromosome
// name, the inverse of Merge (§4.3, §8 law 1).
func (fi Info) Split(f squash.Frame) (map[string]squash.Frame, error) {
	off := fi.Offsets()
	if f.Rows != off[len(off)-1] {
		return nil, fmt.Errorf("fitinfo: frame has %d rows, fit information expects %d", f.Rows, off[len(off)-1])
	}
	parts, err := squash.Split(f, off)
	if err != nil {
		return nil, err
	}
	out := make(map[string]squash.Frame, fi.ChromSizes.Len())
	for i := 0; i < fi.ChromSizes.Len(); i++ {
		out[fi.ChromSizes.At(i).Name] = parts[i]
	}
	return out, nil
}

// CheckCompatible verifies that other describes the same genome as fi:
// same build and identical chromosome name/length pairs (§4.3).
func (fi Info) CheckCompatible(other Info) error {
	if fi.Build != other.Build {
		return fmt.Errorf("%w: have %q, want %q", ErrWrongGenome, other.Build, fi.Build)
	}
	if !fi.ChromSizes.Equal(other.ChromSizes) {
		for i := 0; i < fi.ChromSizes.Len(); i++ {
			want := fi.ChromSizes.At(i)
			got, ok := other.ChromSizes.Length(want.Name)
			if !ok {
				return &ErrWrongChromosome{Chrom: want.Name, Msg: "missing"}
			}
			if got != want.Length {
				return &ErrWrongChromosome{Chrom: want.Name, Msg: fmt.Sprintf("length mismatch: have %d, want %d", got, want.Length)}
			}
		}
		return fmt.Errorf("%w: chromosome sets differ", ErrWrongGenome)
	}
	return nil
}

// ID derives the stable content-id used as the default cache key and
// model filename stem (§4.3, §6 "IDs"): path basenames with any .gz
// suffix stripped, the fragment descriptor, bin size, and flags,
// reduced with a canonical separator.
func (fi Info) ID() string {
	parts := make([]string, 0, len(fi.DataPaths)+4)
	for _, p := range fi.DataPaths {
		parts = append(parts, stem(p))
	}
	parts = append(parts, fragmentToken(fi.Fragment))
	parts = append(parts, "bin"+strconv.Itoa(fi.BinSize))
	if fi.Unique {
		parts = append(parts, "unique")
	}
	for _, k := range sortedKeys(fi.ModelSpecific) {
		parts = append(parts, k+"="+fi.ModelSpecific[k])
	}
	return strings.Join(parts, "_")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func stem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

func fragmentToken(f config.Fragment) string {
	switch f.Mode {
	case config.FragmentFixed:
		return "fragment" + strconv.Itoa(f.Length)
	case config.FragmentZero:
		return "fragment0"
	default:
		return "fragmentauto"
	}
}

// jsonRecord is the wire format of information.json (§6: snake_case
// field naming, fqn discriminator, numeric version).
type jsonRecord struct {
	FQN           string            `json:"fit.information.fqn"`
	Version       int               `json:"version"`
	Build         string            `json:"build"`
	DataPaths     []string          `json:"data_paths"`
	FragmentMode  string            `json:"fragment_mode"`
	FragmentLen   int               `json:"fragment_length,omitempty"`
	Unique        bool              `json:"unique"`
	BinSize       int               `json:"bin_size"`
	Kind          int               `json:"model_kind"`
	ChromNames    []string          `json:"chrom_names"`
	ChromLengths  []int             `json:"chrom_lengths"`
	ModelSpecific map[string]string `json:"model_specific,omitempty"`
}

// MarshalJSON encodes fi as information.json.
func (fi Info) MarshalJSON() ([]byte, error) {
	rec := jsonRecord{
		FQN:           FQN,
		Version:       CurrentVersion,
		Build:         fi.Build,
		DataPaths:     fi.DataPaths,
		Unique:        fi.Unique,
		BinSize:       fi.BinSize,
		Kind:          int(fi.Kind),
		ModelSpecific: fi.ModelSpecific,
	}
	switch fi.Fragment.Mode {
	case config.FragmentFixed:
		rec.FragmentMode = "fixed"
		rec.FragmentLen = fi.Fragment.Length
	case config.FragmentZero:
		rec.FragmentMode = "zero"
	default:
		rec.FragmentMode = "auto"
	}
	for i := 0; i < fi.ChromSizes.Len(); i++ {
		c := fi.ChromSizes.At(i)
		rec.ChromNames = append(rec.ChromNames, c.Name)
		rec.ChromLengths = append(rec.ChromLengths, c.Length)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes information.json, refusing unsupported
// versions and migrating version 2 records to the current shape.
func (fi *Info) UnmarshalJSON(data []byte) error {
	var rec jsonRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("fitinfo: decoding information.json: %w", err)
	}
	if rec.Version < MinSupportedVersion || rec.Version > CurrentVersion {
		return fmt.Errorf("%w: got version %d, support [%d,%d]", ErrIncompatibleVersion, rec.Version, MinSupportedVersion, CurrentVersion)
	}
	if rec.Version == 2 {
		// Version 2 records predate the explicit model_kind field;
		// absence means the HMM family, the only kind version 2 ever
		// produced.
		if rec.Kind == 0 && rec.ModelSpecific == nil {
			rec.ModelSpecific = map[string]string{}
		}
	}

	chroms := make([]genome.Chrom, len(rec.ChromNames))
	for i, n := range rec.ChromNames {
		chroms[i] = genome.Chrom{Name: n, Length: rec.ChromLengths[i]}
	}
	cs, err := genome.NewChromSizes(rec.Build, chroms)
	if err != nil {
		return fmt.Errorf("fitinfo: %w", err)
	}

	frag := config.Fragment{}
	switch rec.FragmentMode {
	case "fixed":
		frag.Mode = config.FragmentFixed
		frag.Length = rec.FragmentLen
	case "zero":
		frag.Mode = config.FragmentZero
	default:
		frag.Mode = config.FragmentAuto
	}

	*fi = Info{
		Build:         rec.Build,
		DataPaths:     rec.DataPaths,
		Fragment:      frag,
		Unique:        rec.Unique,
		BinSize:       rec.BinSize,
		ChromSizes:    cs,
		Kind:          ModelKind(rec.Kind),
		ModelSpecific: rec.ModelSpecific,
	}
	return nil
}
