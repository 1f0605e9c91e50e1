/*
PURPOSE:
  The training loop of one labeled benchmark run.

REQUIREMENTS:
  User-specified:
  - For each epoch iterate every training batch with one optimization step
    per batch.
  - Print a progress line every logging_interval batches, batch 0 included.
  - At epoch end evaluate train and validation sets without updates and
    print accuracy, loss and cumulative elapsed time.

  Implementation-discovered:
  - Line formats are fixed so logs of the two runs can be diffed.
  - Elapsed time is measured through an injectable clock for tests.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/nn (loss), internal/data (batches), internal/model
    (RunResult), internal/backend (optional prediction histogram)

ERROR HANDLING:
  - Any model, optimizer or loader error aborts the run and is returned
    wrapped with the epoch and batch.
  - Context cancellation is observed between batches.

IMPLEMENTATION RULES:
  - Progress lines go to Options.Out, not the structured logger.
  - Never change the loss trajectory: spikes are recorded, not clipped.

USAGE:
  err := train.Classifier(ctx, net, opt, trainLoader, validLoader, result, train.Options{NumEpochs: 50})

SELF-HEALING INSTRUCTIONS:
  - If progress lines drift from the expected format, compare against the format constants, then the tests.

RELATED FILES:
  - internal/train/evaluate.go

MAINTENANCE:
  - Keep the format constants in sync with anything that parses logs.
*/

package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/data"
	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/nn"
	"github.com/daryltucker/detbench/internal/output"
)

const (
	batchFormat   = "Epoch: %03d/%03d | Batch %04d/%04d | Loss: %.4f\n"
	trainFormat   = "***Epoch: %03d/%03d | Train. Acc.: %.3f%% | Loss: %.3f\n"
	validFormat   = "***Epoch: %03d/%03d | Valid. Acc.: %.3f%% | Loss: %.3f\n"
	elapsedFormat = "Time elapsed: %.2f min\n"
)

// Model is a trainable classifier.
type Model interface {
	Forward(x *backend.Tensor, train bool) (*backend.Tensor, error)
	Backward(grad *backend.Tensor) error
	Parameters() []*nn.Param
}

// Optimizer updates parameters from accumulated gradients.
type Optimizer interface {
	ZeroGrad(params []*nn.Param)
	Step(params []*nn.Param) error
}

// Loader yields batches in order.
type Loader interface {
	Len() int
	Iterate(ctx context.Context, fn func(i int, b data.Batch) error) error
}

// Options configures Classifier.
type Options struct {
	NumEpochs       int
	LoggingInterval int
	Out             io.Writer        // progress lines, default os.Stdout
	Now             func() time.Time // default time.Now

	// Histogram, when set, counts validation predictions per class at the
	// end of every epoch.
	Histogram *Histogram
}

// Histogram counts predicted classes through the backend's scatter-add.
type Histogram struct {
	Backend    *backend.Backend
	Device     backend.Device
	NumClasses int
}

// Classifier trains m for opts.NumEpochs and appends one record per epoch to
// result.
func Classifier(ctx context.Context, m Model, opt Optimizer, trainLoader, validLoader Loader, result *model.RunResult, opts Options) error {
	if opts.NumEpochs <= 0 {
		return fmt.Errorf("train: epochs must be positive, got %d", opts.NumEpochs)
	}
	if result == nil {
		return errors.New("train: nil result")
	}
	interval := opts.LoggingInterval
	if interval <= 0 {
		interval = 50
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	start := now()
	total := trainLoader.Len()
	for epoch := 1; epoch <= opts.NumEpochs; epoch++ {
		err := trainLoader.Iterate(ctx, func(i int, b data.Batch) error {
			loss, err := Step(m, opt, b)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			if i%interval == 0 {
				fmt.Fprintf(out, batchFormat, epoch, opts.NumEpochs, i, total, loss)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		trainAcc, trainLoss, err := ComputeAccuracyAndLoss(ctx, m, trainLoader)
		if err != nil {
			return fmt.Errorf("epoch %d: train evaluation: %w", epoch, err)
		}
		validAcc, validLoss, err := ComputeAccuracyAndLoss(ctx, m, validLoader)
		if err != nil {
			return fmt.Errorf("epoch %d: validation evaluation: %w", epoch, err)
		}
		fmt.Fprintf(out, trainFormat, epoch, opts.NumEpochs, trainAcc, trainLoss)
		fmt.Fprintf(out, validFormat, epoch, opts.NumEpochs, validAcc, validLoss)

		if opts.Histogram != nil {
			counts, err := opts.Histogram.Count(ctx, m, validLoader)
			if err != nil {
				return fmt.Errorf("epoch %d: prediction histogram: %w", epoch, err)
			}
			output.Logger.Debug("Validation predictions", "epoch", epoch, "counts", counts)
		}

		elapsed := now().Sub(start)
		fmt.Fprintf(out, elapsedFormat, elapsed.Minutes())
		if err := result.Add(model.EpochRecord{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			TrainAcc:  trainAcc,
			ValidLoss: validLoss,
			ValidAcc:  validAcc,
			Elapsed:   elapsed,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Step runs forward, loss, backward and update on one batch and returns the
// batch loss.
func Step(m Model, opt Optimizer, b data.Batch) (float64, error) {
	params := m.Parameters()
	opt.ZeroGrad(params)
	logits, err := m.Forward(b.X, true)
	if err != nil {
		return 0, err
	}
	loss, grad, err := nn.CrossEntropy(logits, b.Y)
	if err != nil {
		return 0, err
	}
	if err := m.Backward(grad); err != nil {
		return 0, err
	}
	if err := opt.Step(params); err != nil {
		return 0, err
	}
	return loss, nil
}
