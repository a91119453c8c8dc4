// Package delta converts absolute timestamp rows to a first-absolute,
// rest-delta form and back.
package delta

import (
	"fmt"
	"math"
)

// RangeError reports a consecutive difference that does not fit in int32.
type RangeError struct {
	Index int
	Prev  int64
	Next  int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("delta at index %d out of int32 range: %d -> %d", e.Index, e.Prev, e.Next)
}

// Encode splits seq into its first value and the int32 differences between
// consecutive values. Negative deltas are allowed.
func Encode(seq []int64) (int64, []int32, error) {
	if len(seq) == 0 {
		return 0, nil, nil
	}

	deltas := make([]int32, len(seq)-1)
	for i := 1; i < len(seq); i++ {
		d, ok := diff(seq[i-1], seq[i])
		if !ok {
			return 0, nil, &RangeError{Index: i, Prev: seq[i-1], Next: seq[i]}
		}
		deltas[i-1] = int32(d)
	}
	return seq[0], deltas, nil
}

// Decode is the exact inverse of Encode.
func Decode(first int64, deltas []int32) []int64 {
	out := make([]int64, len(deltas)+1)
	out[0] = first
	for i, d := range deltas {
		out[i+1] = out[i] + int64(d)
	}
	return out
}

// EncodeRow encodes seq into the on-disk row form where the first column is
// an absolute int32 followed by the deltas.
func EncodeRow(seq []int64) ([]int32, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	if seq[0] < math.MinInt32 || seq[0] > math.MaxInt32 {
		return nil, &RangeError{Index: 0, Prev: 0, Next: seq[0]}
	}

	first, deltas, err := Encode(seq)
	if err != nil {
		return nil, err
	}

	row := make([]int32, 0, len(seq))
	row = append(row, int32(first))
	return append(row, deltas...), nil
}

// DecodeRow expands a row written by EncodeRow.
func DecodeRow(row []int32) []int64 {
	if len(row) == 0 {
		return nil
	}
	return Decode(int64(row[0]), row[1:])
}

func diff(a, b int64) (int64, bool) {
	d := b - a
	// signed overflow of the subtraction itself
	if (b >= 0 && a < 0 && d < 0) || (b < 0 && a >= 0 && d >= 0) {
		return 0, false
	}
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, false
	}
	return d, true
}
