/*
PURPOSE:
  Evaluation passes: accuracy and loss, and the prediction histogram.

REQUIREMENTS:
  User-specified:
  - Report accuracy and loss of the training and validation sets.

  Implementation-discovered:
  - The histogram uses ScatterAdd, which has no deterministic kernel, so
    enabling it under strict mode fails the run at its first use.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train/classifier.go

ERROR HANDLING:
  - Returns the first model, loader or backend error.

IMPLEMENTATION RULES:
  - No parameter updates here.

USAGE:
  acc, loss, err := train.ComputeAccuracyAndLoss(ctx, net, validLoader)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/train/classifier.go

MAINTENANCE:
  - None.
*/

package train

import (
	"context"

	"github.com/daryltucker/detbench/internal/data"
	"github.com/daryltucker/detbench/internal/nn"
)

// ComputeAccuracyAndLoss makes one pass over loader without updates and
// returns accuracy in percent and the mean per-example loss. An empty loader
// yields zeros.
func ComputeAccuracyAndLoss(ctx context.Context, m Model, loader Loader) (acc, loss float64, err error) {
	var correct, seen int
	var sum float64
	err = loader.Iterate(ctx, func(_ int, b data.Batch) error {
		logits, err := m.Forward(b.X, false)
		if err != nil {
			return err
		}
		l, _, err := nn.CrossEntropy(logits, b.Y)
		if err != nil {
			return err
		}
		sum += l * float64(len(b.Y))
		for i, p := range nn.Argmax(logits) {
			if p == b.Y[i] {
				correct++
			}
		}
		seen += len(b.Y)
		return nil
	})
	if err != nil || seen == 0 {
		return 0, 0, err
	}
	return 100 * float64(correct) / float64(seen), sum / float64(seen), nil
}

// Count returns how many examples of loader m assigns to each class.
func (h *Histogram) Count(ctx context.Context, m Model, loader Loader) ([]float64, error) {
	counts := make([]float64, h.NumClasses)
	err := loader.Iterate(ctx, func(_ int, b data.Batch) error {
		logits, err := m.Forward(b.X, false)
		if err != nil {
			return err
		}
		pred := nn.Argmax(logits)
		ones := make([]float64, len(pred))
		for i := range ones {
			ones[i] = 1
		}
		part, err := h.Backend.ScatterAdd(h.Device, pred, ones, h.NumClasses)
		if err != nil {
			return err
		}
		for c, v := range part {
			counts[c] += v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
