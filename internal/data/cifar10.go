/*
PURPOSE:
  Data loader factory for CIFAR-10: train, validation and test loaders.

REQUIREMENTS:
  User-specified:
  - CIFAR10Loaders(batch size, workers, validation fraction) returns three
    batch sources.
  - num_workers == 0 loads on the caller's goroutine.

  Implementation-discovered:
  - Reads the CIFAR-10 binary release (1 label byte + 3072 pixel bytes per
    record) when present; otherwise generates a seeded synthetic dataset of
    the same layout so the benchmark runs anywhere.
  - Validation is the tail of the training set, like a fixed index split.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/backend (Tensor), gonum distuv (synthetic pixels)

ERROR HANDLING:
  - Returns wrapped errors for unreadable or malformed files.
  - Missing files are not an error: Source reports "synthetic".

IMPLEMENTATION RULES:
  - Images stay as bytes; conversion to float happens per batch.
  - Randomness only from the generators in Options.

USAGE:
  train, valid, test, err := data.CIFAR10Loaders(opts)

SELF-HEALING INSTRUCTIONS:
  - If the binary files are rejected, check their size is a multiple of recordSize.

RELATED FILES:
  - internal/data/loader.go

MAINTENANCE:
  - Update recordSize if another image layout is added.
*/

package data

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	NumClasses = 10
	ImageSize  = 32
	Channels   = 3
	pixels     = ImageSize * ImageSize * Channels
	recordSize = 1 + pixels
)

var trainFiles = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}

const testFile = "test_batch.bin"

// ErrMalformed is returned for files that are not CIFAR-10 binary batches.
var ErrMalformed = errors.New("data: malformed CIFAR-10 batch file")

// Dataset holds raw images (channel-major, 3072 bytes each) and labels.
type Dataset struct {
	Images []byte
	Labels []uint8
}

// Len is the number of examples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Image returns the raw bytes of example i.
func (d *Dataset) Image(i int) []byte { return d.Images[i*pixels : (i+1)*pixels] }

// Options configures CIFAR10Loaders.
type Options struct {
	DataDir            string
	BatchSize          int
	NumWorkers         int
	ValidationFraction float64
	Grayscale          bool
	SyntheticTrain     int
	SyntheticTest      int
	Shuffle            *rand.Rand // general-purpose generator
	Array              *rand.Rand // numeric-array generator
}

// ReadBatchFile parses one binary batch file.
func ReadBatchFile(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrMalformed, path, len(raw))
	}
	n := len(raw) / recordSize
	ds := &Dataset{Images: make([]byte, 0, n*pixels), Labels: make([]uint8, 0, n)}
	for i := 0; i < n; i++ {
		rec := raw[i*recordSize : (i+1)*recordSize]
		if rec[0] >= NumClasses {
			return nil, fmt.Errorf("%w: %s record %d has label %d", ErrMalformed, path, i, rec[0])
		}
		ds.Labels = append(ds.Labels, rec[0])
		ds.Images = append(ds.Images, rec[1:]...)
	}
	return ds, nil
}

// findDir returns the directory holding the batch files, checking the
// archive's own sub-directory too.
func findDir(root string) (string, bool) {
	if root == "" {
		return "", false
	}
	for _, dir := range []string{root, filepath.Join(root, "cifar-10-batches-bin")} {
		if _, err := os.Stat(filepath.Join(dir, testFile)); err == nil {
			return dir, true
		}
	}
	return "", false
}

// LoadCIFAR10 reads the train and test splits from root.
func LoadCIFAR10(root string) (train, test *Dataset, err error) {
	dir, ok := findDir(root)
	if !ok {
		return nil, nil, fmt.Errorf("no CIFAR-10 batches under %s: %w", root, fs.ErrNotExist)
	}
	train = &Dataset{}
	for _, name := range trainFiles {
		part, err := ReadBatchFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		train.Images = append(train.Images, part.Images...)
		train.Labels = append(train.Labels, part.Labels...)
	}
	test, err = ReadBatchFile(filepath.Join(dir, testFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", testFile, err)
	}
	return train, test, nil
}

// Synthetic generates n images whose pixels scatter around one random
// prototype per class, drawn from rng.
func Synthetic(n int, protos [][]float64, rng *rand.Rand) *Dataset {
	noise := distuv.Normal{Mu: 0, Sigma: 0.15, Src: rng}
	ds := &Dataset{Images: make([]byte, n*pixels), Labels: make([]uint8, n)}
	for i := 0; i < n; i++ {
		c := rng.IntN(NumClasses)
		ds.Labels[i] = uint8(c)
		img := ds.Images[i*pixels : (i+1)*pixels]
		for p := range img {
			v := protos[c][p] + noise.Rand()
			img[p] = uint8(min(max(v, 0), 1) * 255)
		}
	}
	return ds
}

// Prototypes draws one mean image per class.
func Prototypes(rng *rand.Rand) [][]float64 {
	dist := distuv.Normal{Mu: 0.5, Sigma: 0.2, Src: rng}
	protos := make([][]float64, NumClasses)
	for c := range protos {
		protos[c] = make([]float64, pixels)
		for p := range protos[c] {
			protos[c][p] = dist.Rand()
		}
	}
	return protos
}

// Source names where the loaders' data came from.
type Source string

const (
	SourceFiles     Source = "cifar10"
	SourceSynthetic Source = "synthetic"
)

// CIFAR10Loaders builds the train, validation and test loaders.
func CIFAR10Loaders(opts Options) (train, valid, test *Loader, src Source, err error) {
	if opts.BatchSize <= 0 {
		return nil, nil, nil, "", fmt.Errorf("data: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.ValidationFraction < 0 || opts.ValidationFraction >= 1 {
		return nil, nil, nil, "", fmt.Errorf("data: validation fraction %.3f outside [0,1)", opts.ValidationFraction)
	}
	if opts.Shuffle == nil || opts.Array == nil {
		return nil, nil, nil, "", errors.New("data: shuffle and array generators are required")
	}

	var trainSet, testSet *Dataset
	src = SourceFiles
	if _, ok := findDir(opts.DataDir); ok {
		trainSet, testSet, err = LoadCIFAR10(opts.DataDir)
		if err != nil {
			return nil, nil, nil, "", err
		}
	} else {
		src = SourceSynthetic
		protos := Prototypes(opts.Array)
		trainSet = Synthetic(opts.SyntheticTrain, protos, opts.Array)
		testSet = Synthetic(opts.SyntheticTest, protos, opts.Array)
	}

	n := trainSet.Len()
	numValid := int(opts.ValidationFraction * float64(n))
	trainIdx := seq(0, n-numValid)
	validIdx := seq(n-numValid, n)

	base := LoaderOptions{BatchSize: opts.BatchSize, Workers: opts.NumWorkers, Grayscale: opts.Grayscale}

	trainOpts := base
	trainOpts.Shuffle = opts.Shuffle
	validOpts := base
	validOpts.Shuffle = opts.Shuffle

	train = NewLoader(trainSet, trainIdx, trainOpts)
	valid = NewLoader(trainSet, validIdx, validOpts)
	test = NewLoader(testSet, seq(0, testSet.Len()), base)
	return train, valid, test, src, nil
}

func seq(from, to int) []int {
	out := make([]int, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
