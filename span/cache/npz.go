// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// writeNullNPZ encodes samples as a single-array .npz file (a zip
// archive holding one NPY-format array named "null.npy", matching
// numpy's np.savez(path, null=array) naming convention), the format
// null.npz is expected to carry (§4.7, §6). Per §4.4, the column is
// persisted as float32 ("space optimization"), narrowing the in-memory
// float64 samples on write and widening them back on read. No array
// library in the reference corpus reads or writes NPY/NPZ, so this
// package encodes the documented NPY v1.0 header directly: an 8-byte
// magic+version prefix, a little-endian uint16 header length, then a
// padded ASCII dict literal describing dtype/fortran-order/shape,
// followed by raw little-endian float32 data.
func writeNullNPZ(w io.Writer, samples []float64) error {
	zw := zip.NewWriter(w)
	f, err := zw.Create("null.npy")
	if err != nil {
		return fmt.Errorf("cache: creating null.npy: %w", err)
	}
	if err := writeNPY(f, samples); err != nil {
		return err
	}
	return zw.Close()
}

func writeNPY(w io.Writer, samples []float64) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d,), }", len(samples))
	const preludeLen = 10 // magic(6) + version(2) + headerlen(2)
	total := preludeLen + len(header) + 1
	pad := (64 - total%64) % 64
	header += stringOfSpaces(pad) + "\n"

	if _, err := w.Write([]byte("\x93NUMPY\x01\x00")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	narrow := make([]float32, len(samples))
	for i, v := range samples {
		narrow[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, narrow)
}

func stringOfSpaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// readNullNPZ decodes the array written by writeNullNPZ.
func readNullNPZ(data []byte) ([]float64, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("cache: opening null.npz: %w", err)
	}
	var arr *zip.File
	for _, f := range zr.File {
		if f.Name == "null.npy" || f.Name == "arr_0.npy" {
			arr = f
			break
		}
	}
	if arr == nil {
		return nil, fmt.Errorf("cache: null.npz missing null.npy")
	}
	rc, err := arr.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readNPY(rc)
}

func readNPY(r io.Reader) ([]float64, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("cache: reading npy magic: %w", err)
	}
	if string(magic[:6]) != "\x93NUMPY" {
		return nil, fmt.Errorf("cache: bad npy magic")
	}
	var headerLen uint16
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, err
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n, err := parseShapeCount(string(header))
	if err != nil {
		return nil, err
	}
	if indexOf(string(header), "'descr': '<f8'") >= 0 {
		out := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, fmt.Errorf("cache: reading npy data: %w", err)
		}
		return out, nil
	}
	narrow := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
		return nil, fmt.Errorf("cache: reading npy data: %w", err)
	}
	out := make([]float64, n)
	for i, v := range narrow {
		out[i] = float64(v)
	}
	return out, nil
}

// parseShapeCount extracts the single dimension from a header's
// "'shape': (N,)" clause, avoiding a general Python-literal parser
// since this package only ever writes the shapes it reads.
func parseShapeCount(header string) (int, error) {
	const key = "'shape': ("
	i := indexOf(header, key)
	if i < 0 {
		return 0, fmt.Errorf("cache: npy header missing shape")
	}
	i += len(key)
	j := i
	for j < len(header) && header[j] != ',' && header[j] != ')' {
		j++
	}
	var n int
	if _, err := fmt.Sscanf(header[i:j], "%d", &n); err != nil {
		return 0, fmt.Errorf("cache: npy header has malformed shape: %w", err)
	}
	return n, nil
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
