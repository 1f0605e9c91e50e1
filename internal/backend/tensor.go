/*
PURPOSE:
  Dense row-major matrix used by every op.

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Row-major, no strides.

USAGE:
  t := backend.NewTensor(rows, cols)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/backend/kernels.go

MAINTENANCE:
  - None.
*/

package backend

import "fmt"

// Tensor is a dense row-major matrix.
//
// Tensor is not safe for concurrent mutation; kernels write disjoint ranges
// or merge under their own lock.
type Tensor struct {
	Rows int
	Cols int
	Data []float64
}

// NewTensor allocates a zeroed rows x cols tensor. Non-positive dimensions
// are programmer errors and panic.
func NewTensor(rows, cols int) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("backend: invalid tensor shape %dx%d", rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromSlice wraps data without copying.
func FromSlice(rows, cols int, data []float64) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("backend: %d values cannot fill %dx%d", len(data), rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}
}

func (t *Tensor) At(i, j int) float64 { return t.Data[i*t.Cols+j] }

func (t *Tensor) Set(i, j int, v float64) { t.Data[i*t.Cols+j] = v }

// Row returns row i as a slice sharing storage with t.
func (t *Tensor) Row(i int) []float64 { return t.Data[i*t.Cols : (i+1)*t.Cols] }

func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Rows: t.Rows, Cols: t.Cols, Data: make([]float64, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) Zero() {
	clear(t.Data)
}

// SameShape reports whether t and o have equal dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.Rows == o.Rows && t.Cols == o.Cols
}

// Bytes is the storage size of t.
func (t *Tensor) Bytes() int64 {
	return int64(len(t.Data)) * 8
}

// Transpose returns a new tensor with rows and columns swapped.
func Transpose(t *Tensor) *Tensor {
	out := NewTensor(t.Cols, t.Rows)
	for i := 0; i < t.Rows; i++ {
		row := t.Row(i)
		for j, v := range row {
			out.Data[j*t.Rows+i] = v
		}
	}
	return out
}

// AddInPlace adds src into dst elementwise.
func AddInPlace(dst, src *Tensor) {
	if !dst.SameShape(src) {
		panic(fmt.Sprintf("backend: add %dx%d into %dx%d", src.Rows, src.Cols, dst.Rows, dst.Cols))
	}
	for i, v := range src.Data {
		dst.Data[i] += v
	}
}
