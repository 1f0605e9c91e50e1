package engine

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/config"
	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/output"
	"github.com/daryltucker/detbench/internal/seed"
)

func tinyConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Seed = 1
	cfg.NumEpochs = 2
	cfg.BatchSize = 16
	cfg.LoggingInterval = 2
	cfg.Layers = []int{1, 1}
	cfg.Width = 8
	cfg.Grayscale = true
	cfg.DataDir = ""
	cfg.SyntheticTrain = 64
	cfg.SyntheticTest = 16
	cfg.Lanes = 2
	cfg.OutputDir = filepath.Join(t.TempDir(), "results")
	return cfg
}

func tinyEngine(t *testing.T, cfg *config.Config) (*Engine, *bytes.Buffer) {
	t.Helper()
	var progress bytes.Buffer
	e := New(cfg)
	e.Out = &progress
	return e, &progress
}

func TestRunOne_SeedPublished(t *testing.T) {
	t.Setenv(seed.EnvKey, "")
	e, progress := tinyEngine(t, tinyConfig(t))

	res, err := e.RunOne(context.Background(), LabelBaseline, false)
	require.NoError(t, err)
	assert.Equal(t, "1", os.Getenv(seed.EnvKey))

	assert.Equal(t, backend.DefaultSettings(), res.Settings)
	assert.Equal(t, "accel:0", res.Device)
	require.Len(t, res.Epochs, 2)
	for _, rec := range res.Epochs {
		assert.NotZero(t, rec.TrainLoss)
		assert.NotZero(t, rec.ValidLoss)
	}
	assert.NotEmpty(t, res.Kernels)
	assert.Len(t, res.Fingerprint, 64)

	// 58 training examples in batches of 16 -> 4 batches, logged at 0 and 2.
	assert.Contains(t, progress.String(), "Epoch: 001/002 | Batch 0000/0004 | Loss: ")
	assert.Contains(t, progress.String(), "Epoch: 002/002 | Batch 0002/0004 | Loss: ")
	assert.Equal(t, 2, strings.Count(progress.String(), "Time elapsed:"))
}

func TestRunOne_DeterministicSettings(t *testing.T) {
	e, _ := tinyEngine(t, tinyConfig(t))
	res, err := e.RunOne(context.Background(), LabelDeterministic, true)
	require.NoError(t, err)
	assert.Equal(t, backend.Settings{Deterministic: true, Strict: true}, res.Settings)
	assert.Zero(t, res.Kernels["matmul/splitk"])
	assert.Zero(t, res.Kernels["colsum/atomic"])
	assert.Zero(t, res.TuneTime)
}

func TestVerify_CPUOnlyReplays(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.VisibleDevices = 0
	cfg.Device = "cpu"
	// Odd widths give inner dimensions where unroll4 and naive sum differently.
	cfg.Width = 9
	e, _ := tinyEngine(t, cfg)

	v, err := e.Verify(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, -1, v.Mismatch)
	require.Len(t, v.Runs, 3)
	for _, res := range v.Runs {
		assert.Equal(t, backend.Settings{Benchmark: true, Strict: true}, res.Settings)
		assert.Zero(t, res.TuneTime)
		assert.Equal(t, v.Runs[0].Kernels, res.Kernels)
		assert.Equal(t, v.Runs[0].Fingerprint, res.Fingerprint)
	}
}

func TestRunOne_ConfigErrors(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.Device = "accel:3"
	e, _ := tinyEngine(t, cfg)
	res, err := e.RunOne(context.Background(), LabelBaseline, false)
	assert.ErrorIs(t, err, backend.ErrNoDevice)
	assert.Nil(t, res)

	cfg = tinyConfig(t)
	cfg.Seed = -5
	e, _ = tinyEngine(t, cfg)
	_, err = e.RunOne(context.Background(), LabelBaseline, false)
	assert.ErrorContains(t, err, "seed must be non-negative")
}

func TestRunOne_StrictHistogramFailsFast(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.ClassHistogram = true
	e, _ := tinyEngine(t, cfg)

	res, err := e.RunOne(context.Background(), LabelDeterministic, true)
	require.ErrorIs(t, err, backend.ErrNondeterministicOp)
	require.NotNil(t, res)
	assert.Empty(t, res.Epochs)
	assert.Contains(t, res.Error, "scatter_add")

	res, err = e.RunOne(context.Background(), LabelBaseline, false)
	require.NoError(t, err)
	assert.Positive(t, res.Kernels["scatter_add/atomic"])
}

func TestRun_WritesOutputsAndCompares(t *testing.T) {
	cfg := tinyConfig(t)
	e, _ := tinyEngine(t, cfg)

	cmp, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LabelBaseline, cmp.Baseline.Label)
	assert.Equal(t, LabelDeterministic, cmp.Candidate.Label)
	assert.Equal(t, 2, cmp.Candidate.Epochs)
	assert.Greater(t, cmp.Slowdown, 0.0)

	for _, name := range []string{output.EpochsFile, output.RunsFile, output.ReportFile} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, name))
	}
	runs, err := output.ReadJSONL(filepath.Join(cfg.OutputDir, output.RunsFile))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[1].Settings.Strict)
}

func TestVerify_DeterministicReplaysMatch(t *testing.T) {
	e, _ := tinyEngine(t, tinyConfig(t))
	v, err := e.Verify(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, v.Runs, 2)
	assert.Equal(t, -1, v.Mismatch)
	assert.Equal(t, v.Runs[0].Fingerprint, v.Runs[1].Fingerprint)
	assert.Equal(t, v.Runs[0].Epochs[1].TrainLoss, v.Runs[1].Epochs[1].TrainLoss)

	_, err = e.Verify(context.Background(), 1)
	assert.Error(t, err)
}

func TestRunOne_Cancelled(t *testing.T) {
	e, _ := tinyEngine(t, tinyConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.RunOne(ctx, LabelBaseline, false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Error)
}

func run(label string, losses []float64, epochSecs float64) *model.RunResult {
	r := model.NewRunResult(label, 1)
	var elapsed time.Duration
	for i, l := range losses {
		elapsed += time.Duration(epochSecs * float64(time.Second))
		_ = r.Add(model.EpochRecord{Epoch: i + 1, TrainLoss: l, TrainAcc: 50, ValidLoss: l, ValidAcc: 40, Elapsed: elapsed})
	}
	r.Seal(elapsed)
	return r
}

func TestSummarize(t *testing.T) {
	r := run("a", []float64{2.0, 1.5, 30, 1.2, 0.9}, 10)
	s := Summarize(r, 10)
	assert.Equal(t, 5, s.Epochs)
	assert.InDelta(t, 10, s.MeanEpoch, 1e-9)
	assert.InDelta(t, 10, s.MedianEpoch, 1e-9)
	assert.InDelta(t, 10, s.P95Epoch, 1e-9)
	assert.InDelta(t, 50, s.Total, 1e-9)
	assert.Equal(t, []int{3}, s.LossSpikes)
	assert.Equal(t, 0.9, s.FinalTrainLoss)

	empty := Summarize(model.NewRunResult("e", 1), 10)
	assert.Zero(t, empty.MeanEpoch)
	assert.Empty(t, empty.LossSpikes)
}

func TestCompare(t *testing.T) {
	base := run("baseline", []float64{2, 1}, 10)
	det := run("deterministic", []float64{2, 1}, 15)
	c := Compare(base, det, 10)
	assert.InDelta(t, 1.5, c.Slowdown, 1e-9)
	assert.True(t, c.IdenticalMetrics)

	drift := run("deterministic", []float64{2, 1.0000000000000002}, 15)
	assert.False(t, Compare(base, drift, 10).IdenticalMetrics)

	short := run("deterministic", []float64{2}, 15)
	assert.False(t, IdenticalMetrics(base, short))

	accDrift := run("deterministic", []float64{2, 1}, 15)
	accDrift.Epochs[1].ValidAcc = 40.5
	assert.False(t, IdenticalMetrics(base, accDrift))

	diverged := run("baseline", []float64{2, math.NaN()}, 10)
	replay := run("deterministic", []float64{2, math.NaN()}, 15)
	assert.True(t, IdenticalMetrics(diverged, replay))

	assert.Zero(t, Compare(model.NewRunResult("x", 1), det, 10).Slowdown)
}
