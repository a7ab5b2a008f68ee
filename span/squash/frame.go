// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package squash implements the Squashed Frame Store (§4.4): a small,
// pure-data columnar table with row-bind and row-slice operations. Fit
// Information uses it to merge per-chromosome score frames into one
// squashed matrix and split them back, always in lexicographic
// chromosome order (§3 "Squashed Offsets").
package squash

import "fmt"

// Kind enumerates the column data types the store supports.
type Kind int

const (
	Int Kind = iota
	Float32
	Float64
	String
)

// Column is a single named, typed column. Exactly one of the Ints/
// Float32s/Float64s/Strings slices is populated, selected by Kind, and
// has length equal to the owning Frame's Rows.
type Column struct {
	Name     string
	Kind     Kind
	Ints     []int
	Float32s []float32
	Float64s []float64
	Strings  []string
}

func (c Column) len() int {
	switch c.Kind {
	case Int:
		return len(c.Ints)
	case Float32:
		return len(c.Float32s)
	case Float64:
		return len(c.Float64s)
	case String:
		return len(c.Strings)
	default:
		return 0
	}
}

func (c Column) slice(lo, hi int) Column {
	out := Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Int:
		out.Ints = append([]int(nil), c.Ints[lo:hi]...)
	case Float32:
		out.Float32s = append([]float32(nil), c.Float32s[lo:hi]...)
	case Float64:
		out.Float64s = append([]float64(nil), c.Float64s[lo:hi]...)
	case String:
		out.Strings = append([]string(nil), c.Strings[lo:hi]...)
	}
	return out
}

// Frame is an ordered set of named columns sharing a row count.
// Duplicate column names overwrite earlier ones, per §4.4.
type Frame struct {
	Rows    int
	columns []Column
	index   map[string]int
}

// NewFrame builds a Frame from columns, validating that every column
// has exactly rows entries.
func NewFrame(rows int, columns ...Column) (Frame, error) {
	f := Frame{Rows: rows, index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if c.len() != rows {
			return Frame{}, fmt.Errorf("squash: column %q has %d rows, frame has %d", c.Name, c.len(), rows)
		}
		f.set(c)
	}
	return f, nil
}

func (f *Frame) set(c Column) {
	if i, ok := f.index[c.Name]; ok {
		f.columns[i] = c
		return
	}
	f.index[c.Name] = len(f.columns)
	f.columns = append(f.columns, c)
}

// Column returns the named column and whether it exists.
func (f Frame) Column(name string) (Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return Column{}, false
	}
	return f.columns[i], true
}

// Columns returns the frame's columns in insertion order. The returned
// slice must not be mutated.
func (f Frame) Columns() []Column { return f.columns }

// ColumnNames returns the frame's column names in insertion order.
func (f Frame) ColumnNames() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Slice returns the row range [lo,hi) of f as a new Frame.
func (f Frame) Slice(lo, hi int) Frame {
	out := Frame{Rows: hi - lo, index: make(map[string]int, len(f.columns))}
	for _, c := range f.columns {
		out.set(c.slice(lo, hi))
	}
	return out
}

// RowBind concatenates frames in order, requiring them to share an
// identical set of column names and kinds. It is the merge half of
// §4.4's row-bind/row-slice pair, and the engine for Fit Information's
// merge operation (§4.3) once chromosomes are in sorted order.
func RowBind(frames ...Frame) (Frame, error) {
	if len(frames) == 0 {
		return Frame{}, nil
	}
	names := frames[0].ColumnNames()
	total := 0
	for _, f := range frames {
		total += f.Rows
		if len(f.ColumnNames()) != len(names) {
			return Frame{}, fmt.Errorf("squash: frames have mismatched column counts")
		}
		for i, n := range f.ColumnNames() {
			if n != names[i] {
				return Frame{}, fmt.Errorf("squash: frames have mismatched column %d: %q vs %q", i, names[i], n)
			}
		}
	}

	out := Frame{Rows: total, index: make(map[string]int, len(names))}
	for _, name := range names {
		first, _ := frames[0].Column(name)
		merged := Column{Name: name, Kind: first.Kind}
		switch first.Kind {
		case Int:
			merged.Ints = make([]int, 0, total)
		case Float32:
			merged.Float32s = make([]float32, 0, total)
		case Float64:
			merged.Float64s = make([]float64, 0, total)
		case String:
			merged.Strings = make([]string, 0, total)
		}
		for _, f := range frames {
			c, _ := f.Column(name)
			if c.Kind != first.Kind {
				return Frame{}, fmt.Errorf("squash: column %q has mismatched kind across frames", name)
			}
			switch first.Kind {
			case Int:
				merged.Ints = append(merged.Ints, c.Ints...)
			case Float32:
				merged.Float32s = append(merged.Float32s, c.Float32s...)
			case Float64:
				merged.Float64s = append(merged.Float64s, c.Float64s...)
			case String:
				merged.Strings = append(merged.Strings, c.Strings...)
			}
		}
		out.set(merged)
	}
	return out, nil
}

// Split slices f into the row ranges given by offsets, returning one
// Frame per consecutive pair (offsets[i], offsets[i+1]). len(offsets)
// must be len(ranges)+1, ending at f.Rows.
func Split(f Frame, offsets []int) ([]Frame, error) {
	if len(offsets) < 1 {
		return nil, fmt.Errorf("squash: need at least one offset boundary")
	}
	if offsets[len(offsets)-1] != f.Rows {
		return nil, fmt.Errorf("squash: offsets do not cover frame: last offset %d, frame has %d rows", offsets[len(offsets)-1], f.Rows)
	}
	out := make([]Frame, len(offsets)-1)
	for i := 0; i < len(offsets)-1; i++ {
		out[i] = f.Slice(offsets[i], offsets[i+1])
	}
	return out, nil
}
