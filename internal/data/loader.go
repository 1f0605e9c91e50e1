/*
PURPOSE:
  Batches a dataset split into normalized tensors.

REQUIREMENTS:
  User-specified:
  - Shuffle the training split every epoch from the seeded generator.
  - Normalize pixels to [-1, 1].

  Implementation-discovered:
  - With workers, batches are assembled ahead in parallel but delivered in
    index order, so results do not depend on the worker count.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train
  - Uses: golang.org/x/sync/errgroup

ERROR HANDLING:
  - Iterate stops at the first callback or context error.

IMPLEMENTATION RULES:
  - Only Iterate draws from the shuffle generator.

USAGE:
  err := loader.Iterate(ctx, func(i int, b data.Batch) error { ... })

SELF-HEALING INSTRUCTIONS:
  - If runs differ only with --workers, check batches are delivered in order.

RELATED FILES:
  - internal/data/cifar10.go

MAINTENANCE:
  - None.
*/

package data

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/detbench/internal/backend"
)

// Batch is one mini-batch of normalized images and their labels.
type Batch struct {
	X *backend.Tensor
	Y []int
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Workers   int        // 0 = assemble batches on the caller's goroutine
	Grayscale bool       // average the three channels
	Shuffle   *rand.Rand // nil = fixed order
}

// Loader yields batches over a subset of a Dataset.
type Loader struct {
	ds      *Dataset
	indices []int
	opts    LoaderOptions
}

// NewLoader creates a loader over ds restricted to indices.
func NewLoader(ds *Dataset, indices []int, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Loader{ds: ds, indices: append([]int(nil), indices...), opts: opts}
}

// Len is the number of batches per pass, counting a final partial batch.
func (l *Loader) Len() int {
	return (len(l.indices) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Size is the number of examples.
func (l *Loader) Size() int { return len(l.indices) }

// Features is the flattened width of one example.
func (l *Loader) Features() int {
	if l.opts.Grayscale {
		return ImageSize * ImageSize
	}
	return pixels
}

// Iterate calls fn for every batch in order. Shuffling loaders draw a new
// permutation per call. fn runs on the caller's goroutine; with Workers > 0
// up to Workers batches are assembled ahead in parallel.
func (l *Loader) Iterate(ctx context.Context, fn func(i int, b Batch) error) error {
	order := append([]int(nil), l.indices...)
	if l.opts.Shuffle != nil {
		l.opts.Shuffle.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	n := l.Len()

	if l.opts.Workers <= 0 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i, l.assemble(order, i)); err != nil {
				return err
			}
		}
		return nil
	}

	window := make([]Batch, l.opts.Workers)
	for start := 0; start < n; start += l.opts.Workers {
		end := min(start+l.opts.Workers, n)
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				window[i-start] = l.assemble(order, i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i := start; i < end; i++ {
			if err := fn(i, window[i-start]); err != nil {
				return err
			}
		}
	}
	return nil
}

// assemble converts batch i of order into a normalized tensor.
func (l *Loader) assemble(order []int, i int) Batch {
	lo := i * l.opts.BatchSize
	hi := min(lo+l.opts.BatchSize, len(order))
	feat := l.Features()
	x := backend.NewTensor(hi-lo, feat)
	y := make([]int, hi-lo)

	const plane = ImageSize * ImageSize
	for r, idx := range order[lo:hi] {
		img := l.ds.Image(idx)
		row := x.Row(r)
		y[r] = int(l.ds.Labels[idx])
		if l.opts.Grayscale {
			for p := 0; p < plane; p++ {
				v := (float64(img[p]) + float64(img[plane+p]) + float64(img[2*plane+p])) / 3
				row[p] = normalize(v)
			}
			continue
		}
		for p, v := range img {
			row[p] = normalize(float64(v))
		}
	}
	return Batch{X: x, Y: y}
}

// normalize maps [0,255] to [-1,1].
func normalize(v float64) float64 {
	return (v/255 - 0.5) / 0.5
}
