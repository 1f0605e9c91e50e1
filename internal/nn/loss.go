/*
PURPOSE:
  Softmax cross-entropy and argmax.

REQUIREMENTS:
  User-specified:
  - Cross-entropy loss over the class logits.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train

ERROR HANDLING:
  - Returns backend.ErrShapeMismatch when labels and rows disagree, and an
    error for labels outside the class range.

IMPLEMENTATION RULES:
  - Subtract the row max before exponentiating.

USAGE:
  loss, grad, err := nn.CrossEntropy(logits, labels)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/train/classifier.go

MAINTENANCE:
  - None.
*/

package nn

import (
	"fmt"
	"math"

	"github.com/daryltucker/detbench/internal/backend"
)

// CrossEntropy returns the mean softmax cross-entropy of logits against
// labels and the gradient with respect to the logits.
func CrossEntropy(logits *backend.Tensor, labels []int) (float64, *backend.Tensor, error) {
	if len(labels) != logits.Rows {
		return 0, nil, fmt.Errorf("nn: %d labels for %d rows: %w", len(labels), logits.Rows, backend.ErrShapeMismatch)
	}
	grad := backend.NewTensor(logits.Rows, logits.Cols)
	n := float64(logits.Rows)
	total := 0.0

	for i := 0; i < logits.Rows; i++ {
		row := logits.Row(i)
		y := labels[i]
		if y < 0 || y >= len(row) {
			return 0, nil, fmt.Errorf("nn: label %d outside [0,%d)", y, len(row))
		}

		maxLogit := row[0]
		for _, v := range row[1:] {
			maxLogit = math.Max(maxLogit, v)
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(v - maxLogit)
		}
		logSum := maxLogit + math.Log(sum)
		total += logSum - row[y]

		g := grad.Row(i)
		for j, v := range row {
			g[j] = math.Exp(v-logSum) / n
		}
		g[y] -= 1 / n
	}
	return total / n, grad, nil
}

// Argmax returns the index of the largest logit in each row.
func Argmax(logits *backend.Tensor) []int {
	out := make([]int, logits.Rows)
	for i := 0; i < logits.Rows; i++ {
		row := logits.Row(i)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}
