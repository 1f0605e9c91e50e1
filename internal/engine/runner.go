/*
PURPOSE:
  High-level runner that orchestrates the benchmarking process.
  Seeds, configures the backend, builds data and model, trains, and
  records one RunResult per labeled run.

REQUIREMENTS:
  User-specified:
  - Run the same training twice with the same seed: baseline (auto-tuning
    on) then deterministic.
  - Compare per-epoch elapsed time and metrics of the two runs.
  - Log results to CSV/JSON (and XLSX).

  Implementation-discovered:
  - Every run gets a fresh seed context and backend, so the deterministic
    switch never leaks into a later baseline and tuning caches start empty.
  - Order inside a run is fixed: seed, mode, device, data, model, train.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/seed, internal/backend, internal/data, internal/nn,
    internal/train, internal/model, internal/output

ERROR HANDLING:
  - Configuration errors (bad device, invalid config) abort before training.
  - Strict-mode and out-of-memory failures abort the run; the partial
    RunResult is still written with its Error set. Nothing is retried.

IMPLEMENTATION RULES:
  - Never draw random numbers before SetAllSeeds.
  - Never build the model before the determinism mode is applied.

USAGE:
  cmp, err := engine.New(cfg).Run(ctx)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/compare.go
  - internal/engine/verify.go

MAINTENANCE:
  - Update RunOne if a new collaborator needs the seed context.
*/

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/config"
	"github.com/daryltucker/detbench/internal/data"
	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/nn"
	"github.com/daryltucker/detbench/internal/output"
	"github.com/daryltucker/detbench/internal/seed"
	"github.com/daryltucker/detbench/internal/train"
)

// Run labels.
const (
	LabelBaseline      = "baseline"
	LabelDeterministic = "deterministic"
)

// Engine runs benchmarks described by a Config.
type Engine struct {
	Config *config.Config
	// Out receives the training progress lines.
	Out io.Writer
	Now func() time.Time
}

// New creates a new Engine printing progress to stdout.
func New(cfg *config.Config) *Engine {
	return &Engine{Config: cfg, Out: os.Stdout, Now: time.Now}
}

// NewBackend seeds a fresh context and returns a backend bound to it.
func (e *Engine) NewBackend() (*backend.Backend, *seed.Context, error) {
	cfg := e.Config
	seeds := seed.NewContext(cfg.VisibleDevices)
	if err := seed.SetAllSeeds(seeds, cfg.Seed); err != nil {
		return nil, nil, err
	}
	b := backend.New(backend.Options{
		VisibleDevices: cfg.VisibleDevices,
		Lanes:          cfg.Lanes,
		MemoryLimit:    cfg.MemoryLimitMB << 20,
		TuneReps:       cfg.TuneReps,
		Seeds:          seeds,
	})
	return b, seeds, nil
}

// RunOne performs one labeled training run. The returned result is non-nil
// whenever training started, even if it failed.
func (e *Engine) RunOne(ctx context.Context, label string, deterministic bool) (*model.RunResult, error) {
	cfg := e.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b, seeds, err := e.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}
	if deterministic {
		b.SetDeterministic()
	}
	dev, err := b.Device(cfg.Device)
	if err != nil {
		return nil, err
	}

	trainLoader, validLoader, _, src, err := data.CIFAR10Loaders(data.Options{
		DataDir:            cfg.DataDir,
		BatchSize:          cfg.BatchSize,
		NumWorkers:         cfg.NumWorkers,
		ValidationFraction: cfg.ValidationFraction,
		Grayscale:          cfg.Grayscale,
		SyntheticTrain:     cfg.SyntheticTrain,
		SyntheticTest:      cfg.SyntheticTest,
		Shuffle:            seeds.General.Rand(),
		Array:              seeds.Array.Rand(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build data loaders: %w", err)
	}

	layers := cfg.Layers
	if len(layers) == 0 {
		layers = nn.Layers101
	}
	net, err := nn.NewResNet(layers, data.NumClasses, cfg.Grayscale, b, dev, seeds.Model.Rand(), nn.Options{Width: cfg.Width})
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	opt := nn.NewAdam(net.Parameters(), cfg.LearningRate)

	result := model.NewRunResult(label, cfg.Seed)
	result.Settings = b.Settings()
	result.Device = dev.String()

	output.Logger.Info("Starting run",
		"label", label,
		"seed", cfg.Seed,
		"device", result.Device,
		"settings", result.Settings.String(),
		"data", src,
		"train_batches", trainLoader.Len(),
		"depth", net.Depth(),
	)

	now := e.Now
	if now == nil {
		now = time.Now
	}
	opts := train.Options{
		NumEpochs:       cfg.NumEpochs,
		LoggingInterval: cfg.LoggingInterval,
		Out:             e.Out,
		Now:             now,
	}
	if cfg.ClassHistogram {
		opts.Histogram = &train.Histogram{Backend: b, Device: dev, NumClasses: data.NumClasses}
	}

	start := now()
	trainErr := train.Classifier(ctx, net, opt, trainLoader, validLoader, result, opts)

	stats := b.Stats()
	result.Kernels = stats.Calls
	result.TuneTime = stats.TuneTime
	result.Seal(now().Sub(start))
	if trainErr != nil {
		result.Error = trainErr.Error()
		return result, fmt.Errorf("%s run: %w", label, trainErr)
	}

	output.Logger.Info("Run complete",
		"label", label,
		"total", result.Total.Round(time.Millisecond),
		"tune_time", result.TuneTime.Round(time.Millisecond),
		"fingerprint", result.Fingerprint[:12],
	)
	return result, nil
}

// Run executes the baseline and deterministic runs, writes every result to
// the output directory and returns their comparison.
func (e *Engine) Run(ctx context.Context) (*model.Comparison, error) {
	cfg := e.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sinks, err := output.OpenSinks(cfg.OutputDir, cfg.XLSX)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			output.Logger.Error("Failed to close outputs", "error", err)
		}
	}()

	var runs []*model.RunResult
	for _, r := range []struct {
		label         string
		deterministic bool
	}{
		{LabelBaseline, false},
		{LabelDeterministic, true},
	} {
		res, err := e.RunOne(ctx, r.label, r.deterministic)
		if res != nil {
			if werr := sinks.WriteRun(res); werr != nil {
				output.Logger.Error("Failed to write result", "label", r.label, "error", werr)
			}
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, res)
	}

	cmp := Compare(runs[0], runs[1], cfg.SpikeFactor)
	if err := sinks.WriteComparison(cmp); err != nil {
		output.Logger.Error("Failed to write comparison", "error", err)
	}
	LogComparison(cmp)
	return &cmp, nil
}
