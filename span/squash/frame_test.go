// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package squash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kortschak/span/span/squash"
)

func TestRowBindSplitInverse(t *testing.T) {
	a, err := squash.NewFrame(3, squash.Column{Name: "y", Kind: squash.Int, Ints: []int{1, 2, 3}})
	require.NoError(t, err)
	b, err := squash.NewFrame(2, squash.Column{Name: "y", Kind: squash.Int, Ints: []int{4, 5}})
	require.NoError(t, err)
	c, err := squash.NewFrame(4, squash.Column{Name: "y", Kind: squash.Int, Ints: []int{6, 7, 8, 9}})
	require.NoError(t, err)

	merged, err := squash.RowBind(a, b, c)
	require.NoError(t, err)
	require.Equal(t, 9, merged.Rows)

	col, ok := merged.Column("y")
	require.True(t, ok)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, col.Ints)

	parts, err := squash.Split(merged, []int{0, 3, 5, 9})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	for i, want := range []squash.Frame{a, b, c} {
		wc, _ := want.Column("y")
		gc, _ := parts[i].Column("y")
		require.Equal(t, wc.Ints, gc.Ints)
	}
}

func TestSplitRejectsMismatchedOffsets(t *testing.T) {
	f, err := squash.NewFrame(3, squash.Column{Name: "y", Kind: squash.Int, Ints: []int{1, 2, 3}})
	require.NoError(t, err)
	_, err = squash.Split(f, []int{0, 2})
	require.Error(t, err)
}

func TestRowBindRejectsMismatchedColumns(t *testing.T) {
	a, err := squash.NewFrame(1, squash.Column{Name: "y", Kind: squash.Int, Ints: []int{1}})
	require.NoError(t, err)
	b, err := squash.NewFrame(1, squash.Column{Name: "z", Kind: squash.Int, Ints: []int{1}})
	require.NoError(t, err)
	_, err = squash.RowBind(a, b)
	require.Error(t, err)
}
