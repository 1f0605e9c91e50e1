/*
PURPOSE:
  Defines the result records produced by a benchmark run.

REQUIREMENTS:
  User-specified:
  - One record per epoch: losses, accuracies, elapsed time since run start.
  - Two runs (baseline, deterministic) are compared side by side.

  Implementation-discovered:
  - A fingerprint over the exact metric bits makes "bit-identical" checkable
    without keeping both runs in memory.
  - Elapsed time must never decrease; Add rejects records that would break it.

ARCHITECTURE INTEGRATION:
  - Produced by: internal/train, internal/engine
  - Consumed by: internal/output, internal/engine (comparison)

ERROR HANDLING:
  - Add returns ErrEpochOrder / ErrElapsedOrder.

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Use time.Duration for elapsed time.

USAGE:
  res := model.NewRunResult("deterministic", 1)
  err := res.Add(rec)
  res.Seal(total)

SELF-HEALING INSTRUCTIONS:
  - If Add rejects a record, the caller reported epochs out of order. Fix the caller, not the check.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - If a metric is added, update Fingerprint and the CSV/JSON/XLSX writers.
*/

package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/daryltucker/detbench/internal/backend"
)

var (
	ErrEpochOrder   = errors.New("model: epochs must be appended in order")
	ErrElapsedOrder = errors.New("model: elapsed time decreased")
)

// EpochRecord is the end-of-epoch summary of one run.
type EpochRecord struct {
	Epoch     int           `json:"epoch"`
	TrainLoss float64       `json:"train_loss"`
	TrainAcc  float64       `json:"train_acc"` // percent
	ValidLoss float64       `json:"valid_loss"`
	ValidAcc  float64       `json:"valid_acc"` // percent
	Elapsed   time.Duration `json:"elapsed"`   // since run start
}

// RunResult is the outcome of one labeled training run.
type RunResult struct {
	ID          string           `json:"id"`
	Label       string           `json:"label"`
	Seed        int64            `json:"seed"`
	Settings    backend.Settings `json:"settings"`
	Device      string           `json:"device"`
	Timestamp   time.Time        `json:"timestamp"`
	Epochs      []EpochRecord    `json:"epochs"`
	Total       time.Duration    `json:"total"`
	Kernels     map[string]int   `json:"kernels,omitempty"`
	TuneTime    time.Duration    `json:"tune_time"`
	Fingerprint string           `json:"fingerprint"`
	Error       string           `json:"error,omitempty"`
}

// NewRunResult starts an empty result.
func NewRunResult(label string, seed int64) *RunResult {
	return &RunResult{
		ID:        uuid.NewString(),
		Label:     label,
		Seed:      seed,
		Timestamp: time.Now(),
	}
}

// Add appends the next epoch record.
func (r *RunResult) Add(rec EpochRecord) error {
	if want := len(r.Epochs) + 1; rec.Epoch != want {
		return fmt.Errorf("%w: got epoch %d, want %d", ErrEpochOrder, rec.Epoch, want)
	}
	if n := len(r.Epochs); n > 0 && rec.Elapsed < r.Epochs[n-1].Elapsed {
		return fmt.Errorf("%w: %s after %s", ErrElapsedOrder, rec.Elapsed, r.Epochs[n-1].Elapsed)
	}
	r.Epochs = append(r.Epochs, rec)
	return nil
}

// Seal records the total run time and computes the fingerprint.
func (r *RunResult) Seal(total time.Duration) {
	r.Total = total
	r.Fingerprint = Fingerprint(r.Epochs)
}

// EpochSeconds returns the wall time spent in each epoch.
func (r *RunResult) EpochSeconds() []float64 {
	out := make([]float64, len(r.Epochs))
	var prev time.Duration
	for i, e := range r.Epochs {
		out[i] = (e.Elapsed - prev).Seconds()
		prev = e.Elapsed
	}
	return out
}

// Series returns one metric across epochs: "train_loss", "train_acc",
// "valid_loss" or "valid_acc".
func (r *RunResult) Series(metric string) []float64 {
	out := make([]float64, len(r.Epochs))
	for i, e := range r.Epochs {
		switch metric {
		case "train_loss":
			out[i] = e.TrainLoss
		case "train_acc":
			out[i] = e.TrainAcc
		case "valid_loss":
			out[i] = e.ValidLoss
		case "valid_acc":
			out[i] = e.ValidAcc
		}
	}
	return out
}

// Fingerprint hashes the exact bit patterns of every epoch's metrics.
// Elapsed time is excluded.
func Fingerprint(epochs []EpochRecord) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, e := range epochs {
		binary.LittleEndian.PutUint64(buf[:], uint64(e.Epoch))
		h.Write(buf[:])
		put(e.TrainLoss)
		put(e.TrainAcc)
		put(e.ValidLoss)
		put(e.ValidAcc)
	}
	return hex.EncodeToString(h.Sum(nil))
}
