/*
PURPOSE:
  Writes per-epoch benchmark records to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV, one row per epoch of every run.

  Implementation-discovered:
  - Rows carry the run's label and determinism settings so the baseline and
    deterministic runs can be separated with a single filter.
  - Each run overwrites the file (os.Create).

ARCHITECTURE INTEGRATION:
  - Called by: internal/output.Sinks
  - Consumes: internal/model.RunResult

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every run (crash resilience for long benchmarks).
  - Mutex guards the writer.

USAGE:
  w, err := output.NewCSVWriter("epochs.csv")
  w.Write(result)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update csvHeader and the row conversion together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update header and Write() together when EpochRecord changes.
*/

package output

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/daryltucker/detbench/internal/model"
)

var csvHeader = []string{
	"run_id", "label", "seed", "device", "benchmark", "deterministic", "strict",
	"epoch", "train_loss", "train_acc", "valid_loss", "valid_acc",
	"elapsed_s", "epoch_s",
}

// CSVWriter handles writing epoch rows to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes one row per epoch of r.
// It is thread-safe.
func (cw *CSVWriter) Write(r *model.RunResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	perEpoch := r.EpochSeconds()
	for i, e := range r.Epochs {
		record := []string{
			r.ID,
			r.Label,
			strconv.FormatInt(r.Seed, 10),
			r.Device,
			strconv.FormatBool(r.Settings.Benchmark),
			strconv.FormatBool(r.Settings.Deterministic),
			strconv.FormatBool(r.Settings.Strict),
			strconv.Itoa(e.Epoch),
			f(e.TrainLoss),
			f(e.TrainAcc),
			f(e.ValidLoss),
			f(e.ValidAcc),
			strconv.FormatFloat(e.Elapsed.Seconds(), 'f', 3, 64),
			strconv.FormatFloat(perEpoch[i], 'f', 3, 64),
		}
		if err := cw.writer.Write(record); err != nil {
			return err
		}
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
