/*
PURPOSE:
  Kernel tables and implementations for matmul, column sum and scatter-add.

REQUIREMENTS:
  User-specified:
  - Some kernels are nondeterministic and strict mode must exclude them.

  Implementation-discovered:
  - splitk and atomic merge per-lane partials in completion order, so their
    results vary with goroutine scheduling.
  - naive, unroll4 and gonum are each deterministic but sum in different
    orders, so they disagree in the last bits.

ARCHITECTURE INTEGRATION:
  - Used by: internal/backend/backend.go (dispatch)
  - Uses: gonum mat (gonum kernel)

ERROR HANDLING:
  - Kernels never fail. Shapes and memory are checked before dispatch.

IMPLEMENTATION RULES:
  - Mark a kernel deterministic only if its summation order is fixed.
  - Lanes write disjoint ranges of dst unless the kernel is marked otherwise.

USAGE:
  Registered in matmulKernels, colsumKernels, scatterKernels.

SELF-HEALING INSTRUCTIONS:
  - If a new kernel breaks TestMatMulKernels_AgreeWithNaive, check its
    handling of the k remainder.

RELATED FILES:
  - internal/backend/backend.go

MAINTENANCE:
  - Add kernels to the tables; dispatch picks them up.
*/

package backend

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

type matmulFunc func(dst, a, b *Tensor, lanes int)

type colsumFunc func(dst []float64, t *Tensor, lanes int)

type scatterFunc func(dst []float64, idx []int, vals []float64, lanes int)

// kernel is one implementation of an operation.
type kernel[F any] struct {
	name          string
	deterministic bool
	accelOnly     bool
	// workspace returns extra bytes the kernel allocates for an m x k x n problem.
	workspace func(m, k, n, lanes int) int64
	run       F
}

// KernelInfo describes a kernel for listings.
type KernelInfo struct {
	Op            string `json:"op"`
	Name          string `json:"name"`
	Deterministic bool   `json:"deterministic"`
	AccelOnly     bool   `json:"accel_only"`
}

var matmulKernels = []kernel[matmulFunc]{
	{name: "naive", deterministic: true, run: matmulNaive},
	{name: "unroll4", deterministic: true, run: matmulUnroll4},
	{name: "gonum", deterministic: true, run: matmulGonum},
	{name: "rowpar", deterministic: true, accelOnly: true, run: matmulRowParallel},
	{
		name:      "splitk",
		accelOnly: true,
		workspace: func(m, _, n, lanes int) int64 { return int64(m) * int64(n) * int64(lanes) * 8 },
		run:       matmulSplitK,
	},
}

var colsumKernels = []kernel[colsumFunc]{
	{name: "ordered", deterministic: true, run: colsumOrdered},
	{name: "atomic", accelOnly: true, run: colsumAtomic},
}

// ScatterAdd only has a completion-order implementation.
var scatterKernels = []kernel[scatterFunc]{
	{name: "atomic", run: scatterAtomic},
}

func matmulNaive(dst, a, b *Tensor, _ int) {
	m, k, n := a.Rows, a.Cols, b.Cols
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for p := 0; p < k; p++ {
				sum += a.Data[i*k+p] * b.Data[p*n+j]
			}
			dst.Data[i*n+j] = sum
		}
	}
}

// matmulUnroll4 keeps four partial sums per output element. The summation
// order differs from naive, so results differ in the last bits.
func matmulUnroll4(dst, a, b *Tensor, _ int) {
	m, k, n := a.Rows, a.Cols, b.Cols
	for i := 0; i < m; i++ {
		ar := a.Data[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			var s0, s1, s2, s3 float64
			p := 0
			for ; p+3 < k; p += 4 {
				s0 += ar[p] * b.Data[p*n+j]
				s1 += ar[p+1] * b.Data[(p+1)*n+j]
				s2 += ar[p+2] * b.Data[(p+2)*n+j]
				s3 += ar[p+3] * b.Data[(p+3)*n+j]
			}
			for ; p < k; p++ {
				s0 += ar[p] * b.Data[p*n+j]
			}
			dst.Data[i*n+j] = (s0 + s1) + (s2 + s3)
		}
	}
}

func matmulGonum(dst, a, b *Tensor, _ int) {
	am := mat.NewDense(a.Rows, a.Cols, a.Data)
	bm := mat.NewDense(b.Rows, b.Cols, b.Data)
	cm := mat.NewDense(dst.Rows, dst.Cols, dst.Data)
	cm.Mul(am, bm)
}

// matmulRowParallel gives each lane a fixed block of output rows.
func matmulRowParallel(dst, a, b *Tensor, lanes int) {
	m, k, n := a.Rows, a.Cols, b.Cols
	if lanes < 1 {
		lanes = 1
	}
	per := (m + lanes - 1) / lanes

	var wg sync.WaitGroup
	for start := 0; start < m; start += per {
		end := min(start+per, m)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out := dst.Data[i*n : (i+1)*n]
				clear(out)
				for p := 0; p < k; p++ {
					av := a.Data[i*k+p]
					br := b.Data[p*n : (p+1)*n]
					for j, bv := range br {
						out[j] += av * bv
					}
				}
			}
		}(start, end)
	}
	wg.Wait()
}

// matmulSplitK splits the inner dimension across lanes and sums the partial
// products in whatever order the lanes finish.
func matmulSplitK(dst, a, b *Tensor, lanes int) {
	m, k, n := a.Rows, a.Cols, b.Cols
	if lanes < 1 {
		lanes = 1
	}
	per := (k + lanes - 1) / lanes

	parts := make(chan []float64, lanes)
	var wg sync.WaitGroup
	for start := 0; start < k; start += per {
		end := min(start+per, k)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			part := make([]float64, m*n)
			for i := 0; i < m; i++ {
				out := part[i*n : (i+1)*n]
				for p := start; p < end; p++ {
					av := a.Data[i*k+p]
					br := b.Data[p*n : (p+1)*n]
					for j, bv := range br {
						out[j] += av * bv
					}
				}
			}
			parts <- part
		}(start, end)
	}
	go func() {
		wg.Wait()
		close(parts)
	}()

	dst.Zero()
	for part := range parts {
		for i, v := range part {
			dst.Data[i] += v
		}
	}
}

func colsumOrdered(dst []float64, t *Tensor, _ int) {
	clear(dst)
	for i := 0; i < t.Rows; i++ {
		for j, v := range t.Row(i) {
			dst[j] += v
		}
	}
}

func colsumAtomic(dst []float64, t *Tensor, lanes int) {
	if lanes < 1 {
		lanes = 1
	}
	per := (t.Rows + lanes - 1) / lanes

	parts := make(chan []float64, lanes)
	var wg sync.WaitGroup
	for start := 0; start < t.Rows; start += per {
		end := min(start+per, t.Rows)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			part := make([]float64, t.Cols)
			for i := start; i < end; i++ {
				for j, v := range t.Row(i) {
					part[j] += v
				}
			}
			parts <- part
		}(start, end)
	}
	go func() {
		wg.Wait()
		close(parts)
	}()

	clear(dst)
	for part := range parts {
		for j, v := range part {
			dst[j] += v
		}
	}
}

func scatterAtomic(dst []float64, idx []int, vals []float64, lanes int) {
	if lanes < 1 {
		lanes = 1
	}
	per := max((len(idx)+lanes-1)/lanes, 1)

	parts := make(chan []float64, lanes)
	var wg sync.WaitGroup
	for start := 0; start < len(idx); start += per {
		end := min(start+per, len(idx))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			part := make([]float64, len(dst))
			for i := start; i < end; i++ {
				part[idx[i]] += vals[i]
			}
			parts <- part
		}(start, end)
	}
	go func() {
		wg.Wait()
		close(parts)
	}()

	clear(dst)
	for part := range parts {
		for j, v := range part {
			dst[j] += v
		}
	}
}
