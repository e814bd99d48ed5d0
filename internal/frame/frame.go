// Package frame provides a column-oriented table of float64 values.
// Columns are named and keep their insertion order, which makes the
// feature matrix layout stable across training and inference.
package frame

import (
	"fmt"
	"math"
)

// Frame is an ordered collection of named float64 columns, all of the
// same length.
type Frame struct {
	names []string
	cols  map[string][]float64
	rows  int
}

// New creates an empty frame with a fixed row count.
func New(rows int) *Frame {
	return &Frame{
		cols: make(map[string][]float64),
		rows: rows,
	}
}

// Rows returns the number of rows.
func (f *Frame) Rows() int {
	return f.rows
}

// Names returns the column names in insertion order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the values of a column, or nil if it does not exist.
// The returned slice is the frame's backing storage; callers must not
// mutate it unless they own the frame.
func (f *Frame) Column(name string) []float64 {
	return f.cols[name]
}

// Set adds or replaces a column. New columns are appended at the end of
// the column order; replaced columns keep their position.
func (f *Frame) Set(name string, values []float64) error {
	if len(values) != f.rows {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), f.rows)
	}
	if _, ok := f.cols[name]; !ok {
		f.names = append(f.names, name)
	}
	f.cols[name] = values
	return nil
}

// Append concatenates another frame's columns onto this one. Both frames
// must have the same row count. Duplicate column names are rejected so
// extractor outputs cannot silently shadow each other.
func (f *Frame) Append(other *Frame) error {
	if other.rows != f.rows {
		return fmt.Errorf("cannot append frame with %d rows to frame with %d rows", other.rows, f.rows)
	}
	for _, name := range other.names {
		if f.Has(name) {
			return fmt.Errorf("duplicate column %s", name)
		}
		if err := f.Set(name, other.cols[name]); err != nil {
			return err
		}
	}
	return nil
}

// Matrix returns a dense row-major copy of the frame, with columns in
// insertion order.
func (f *Frame) Matrix() [][]float64 {
	m := make([][]float64, f.rows)
	for i := range m {
		row := make([]float64, len(f.names))
		for j, name := range f.names {
			row[j] = f.cols[name][i]
		}
		m[i] = row
	}
	return m
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := New(f.rows)
	for _, name := range f.names {
		vals := make([]float64, f.rows)
		copy(vals, f.cols[name])
		c.names = append(c.names, name)
		c.cols[name] = vals
	}
	return c
}

// Sanitize replaces NaN and infinite values with zero, in place.
func (f *Frame) Sanitize() {
	for _, name := range f.names {
		col := f.cols[name]
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				col[i] = 0
			}
		}
	}
}

// Normalize min-max scales every column into [0, 1], in place. Constant
// columns become all zeros.
func (f *Frame) Normalize() {
	for _, name := range f.names {
		col := f.cols[name]
		if len(col) == 0 {
			continue
		}
		minV, maxV := col[0], col[0]
		for _, v := range col {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		span := maxV - minV
		for i, v := range col {
			if span > 0 {
				col[i] = (v - minV) / span
			} else {
				col[i] = 0
			}
		}
	}
}

// Equal reports whether two frames have identical shape, column order and
// values within tol.
func (f *Frame) Equal(other *Frame, tol float64) bool {
	if f.rows != other.rows || len(f.names) != len(other.names) {
		return false
	}
	for i, name := range f.names {
		if other.names[i] != name {
			return false
		}
		a, b := f.cols[name], other.cols[name]
		for j := range a {
			if math.Abs(a[j]-b[j]) > tol {
				return false
			}
		}
	}
	return true
}
