// Result streams and their reduction
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/program"
)

// record is one saved value stamped with the time it was produced.
type record struct {
	at    clock.Cycles
	value float64
}

type stream []record

// values returns the stream in time order. Records produced at the same
// time keep their save order.
func (s stream) values() []float64 {
	sorted := make(stream, len(s))
	copy(sorted, s)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].at < sorted[j].at })
	out := make([]float64, len(sorted))
	for i, r := range sorted {
		out[i] = r.value
	}
	return out
}

// Output is a reduced result.
type Output struct {
	Name string `json:"name"`
	// Shape is the buffer shape, empty for a scalar.
	Shape []int `json:"shape"`
	// Values holds the buffer in row-major order.
	Values []float64 `json:"values"`
	// Blocks counts the complete blocks the values were reduced from.
	Blocks int `json:"blocks"`
}

// Scalar returns the single value of an unbuffered output.
func (o Output) Scalar() (float64, bool) {
	if len(o.Values) != 1 {
		return 0, false
	}
	return o.Values[0], true
}

// Row returns row i of a two-dimensional output.
func (o Output) Row(i int) []float64 {
	if len(o.Shape) != 2 || i < 0 || i >= o.Shape[0] {
		return nil
	}
	n := o.Shape[1]
	return o.Values[i*n : (i+1)*n]
}

// reduce groups values into blocks of the output's size and keeps either
// the element-wise mean or the latest complete block. Trailing values of an
// incomplete block are ignored.
func reduce(o program.StreamOutput, values []float64) Output {
	out := Output{Name: o.Name, Shape: append([]int(nil), o.Buffer...)}
	size := o.Size()
	blocks := len(values) / size
	out.Blocks = blocks
	if blocks == 0 {
		return out
	}
	if !o.Average {
		last := values[(blocks-1)*size : blocks*size]
		out.Values = append([]float64(nil), last...)
		return out
	}
	sum := make([]float64, size)
	for b := 0; b < blocks; b++ {
		floats.Add(sum, values[b*size:(b+1)*size])
	}
	floats.Scale(1/float64(blocks), sum)
	out.Values = sum
	return out
}
