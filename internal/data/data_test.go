package data

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRand(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed)) }

func TestSynthetic_SameSeedSameImages(t *testing.T) {
	a := Synthetic(20, Prototypes(newRand(1)), newRand(2))
	b := Synthetic(20, Prototypes(newRand(1)), newRand(2))
	assert.Equal(t, a.Images, b.Images)
	assert.Equal(t, a.Labels, b.Labels)

	c := Synthetic(20, Prototypes(newRand(1)), newRand(3))
	assert.NotEqual(t, a.Images, c.Images)
}

func TestLoader_BatchCount(t *testing.T) {
	tests := []struct {
		name      string
		n, batch  int
		wantLen   int
		lastBatch int
	}{
		{"cifar train split", 45000, 128, 352, 45000 - 351*128},
		{"exact multiple", 256, 128, 2, 128},
		{"smaller than batch", 5, 128, 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &Dataset{Images: make([]byte, tt.n*pixels), Labels: make([]uint8, tt.n)}
			l := NewLoader(ds, seq(0, tt.n), LoaderOptions{BatchSize: tt.batch})
			assert.Equal(t, tt.wantLen, l.Len())
			assert.Equal(t, tt.n, l.Size())

			if tt.n > 1000 {
				return
			}
			var sizes []int
			require.NoError(t, l.Iterate(context.Background(), func(i int, b Batch) error {
				sizes = append(sizes, b.X.Rows)
				return nil
			}))
			require.Len(t, sizes, tt.wantLen)
			assert.Equal(t, tt.lastBatch, sizes[len(sizes)-1])
		})
	}
}

func TestLoader_Normalization(t *testing.T) {
	ds := &Dataset{Images: make([]byte, pixels), Labels: []uint8{7}}
	for p := 0; p < ImageSize*ImageSize; p++ {
		ds.Images[p] = 255
	}
	color := NewLoader(ds, []int{0}, LoaderOptions{BatchSize: 1})
	gray := NewLoader(ds, []int{0}, LoaderOptions{BatchSize: 1, Grayscale: true})

	require.NoError(t, color.Iterate(context.Background(), func(_ int, b Batch) error {
		assert.Equal(t, pixels, b.X.Cols)
		assert.InDelta(t, 1.0, b.X.At(0, 0), 1e-12)
		assert.InDelta(t, -1.0, b.X.At(0, pixels-1), 1e-12)
		assert.Equal(t, []int{7}, b.Y)
		return nil
	}))
	require.NoError(t, gray.Iterate(context.Background(), func(_ int, b Batch) error {
		assert.Equal(t, ImageSize*ImageSize, b.X.Cols)
		assert.InDelta(t, (85.0/255-0.5)/0.5, b.X.At(0, 0), 1e-12)
		return nil
	}))
}

func TestLoader_WorkersMatchSerial(t *testing.T) {
	ds := Synthetic(50, Prototypes(newRand(1)), newRand(1))
	collect := func(workers int) [][]int {
		l := NewLoader(ds, seq(0, 50), LoaderOptions{BatchSize: 8, Workers: workers, Shuffle: newRand(9)})
		var out [][]int
		require.NoError(t, l.Iterate(context.Background(), func(_ int, b Batch) error {
			out = append(out, b.Y)
			return nil
		}))
		return out
	}
	assert.Equal(t, collect(0), collect(3))
}

func TestLoader_ShuffleChangesPerEpoch(t *testing.T) {
	ds := Synthetic(64, Prototypes(newRand(1)), newRand(1))
	l := NewLoader(ds, seq(0, 64), LoaderOptions{BatchSize: 64, Shuffle: newRand(4)})
	var first, second []int
	require.NoError(t, l.Iterate(context.Background(), func(_ int, b Batch) error { first = b.Y; return nil }))
	require.NoError(t, l.Iterate(context.Background(), func(_ int, b Batch) error { second = b.Y; return nil }))
	assert.ElementsMatch(t, first, second)
	assert.NotEqual(t, first, second)
}

func TestLoader_StopsOnError(t *testing.T) {
	ds := Synthetic(40, Prototypes(newRand(1)), newRand(1))
	boom := errors.New("boom")
	for _, workers := range []int{0, 2} {
		l := NewLoader(ds, seq(0, 40), LoaderOptions{BatchSize: 4, Workers: workers})
		calls := 0
		err := l.Iterate(context.Background(), func(i int, _ Batch) error {
			calls++
			if i == 2 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	}
}

func TestLoader_Cancelled(t *testing.T) {
	ds := Synthetic(16, Prototypes(newRand(1)), newRand(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(ds, seq(0, 16), LoaderOptions{BatchSize: 4})
	assert.ErrorIs(t, l.Iterate(ctx, func(int, Batch) error { return nil }), context.Canceled)
}

func TestReadBatchFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, make([]byte, recordSize-1), 0o644))
	_, err := ReadBatchFile(short)
	assert.ErrorIs(t, err, ErrMalformed)

	badLabel := filepath.Join(dir, "label.bin")
	rec := make([]byte, recordSize)
	rec[0] = 12
	require.NoError(t, os.WriteFile(badLabel, rec, 0o644))
	_, err = ReadBatchFile(badLabel)
	assert.ErrorIs(t, err, ErrMalformed)
}

func writeBatch(t *testing.T, path string, labels ...uint8) {
	t.Helper()
	var raw []byte
	for _, l := range labels {
		rec := make([]byte, recordSize)
		rec[0] = l
		rec[1] = l * 10
		raw = append(raw, rec...)
	}
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestCIFAR10Loaders_ReadsFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "cifar-10-batches-bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range trainFiles {
		writeBatch(t, filepath.Join(dir, name), 0, 1, 2, 3)
	}
	writeBatch(t, filepath.Join(dir, testFile), 9, 8)

	train, valid, test, src, err := CIFAR10Loaders(Options{
		DataDir:            root,
		BatchSize:          3,
		ValidationFraction: 0.1,
		Shuffle:            newRand(1),
		Array:              newRand(2),
	})
	require.NoError(t, err)
	assert.Equal(t, SourceFiles, src)
	assert.Equal(t, 18, train.Size())
	assert.Equal(t, 2, valid.Size())
	assert.Equal(t, 2, test.Size())
	assert.Equal(t, 1, test.Len())

	require.NoError(t, test.Iterate(context.Background(), func(_ int, b Batch) error {
		assert.Equal(t, []int{9, 8}, b.Y)
		return nil
	}))
}

func TestCIFAR10Loaders_SyntheticFallback(t *testing.T) {
	opts := Options{
		DataDir:            t.TempDir(),
		BatchSize:          128,
		ValidationFraction: 0.1,
		SyntheticTrain:     500,
		SyntheticTest:      100,
		Shuffle:            newRand(1),
		Array:              newRand(2),
	}
	train, valid, test, src, err := CIFAR10Loaders(opts)
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, src)
	assert.Equal(t, 450, train.Size())
	assert.Equal(t, 50, valid.Size())
	assert.Equal(t, 100, test.Size())
	assert.Equal(t, 4, train.Len())
}

func TestCIFAR10Loaders_InvalidOptions(t *testing.T) {
	base := Options{BatchSize: 4, Shuffle: newRand(1), Array: newRand(1)}
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero batch", func(o *Options) { o.BatchSize = 0 }},
		{"fraction one", func(o *Options) { o.ValidationFraction = 1 }},
		{"negative fraction", func(o *Options) { o.ValidationFraction = -0.1 }},
		{"missing generator", func(o *Options) { o.Array = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, _, _, _, err := CIFAR10Loaders(opts)
			assert.Error(t, err)
		})
	}
}
