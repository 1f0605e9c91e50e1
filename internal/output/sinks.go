/*
PURPOSE:
  Opens the output directory and fans results out to every writer.

REQUIREMENTS:
  User-specified:
  - Log results to CSV/JSON.

  Implementation-discovered:
  - One failing writer must not stop the others.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: csv.go, json.go, xlsx.go, go.uber.org/multierr

ERROR HANDLING:
  - WriteRun and Close attempt every sink and combine their errors.

IMPLEMENTATION RULES:
  - File names are fixed constants.

USAGE:
  sinks, err := output.OpenSinks(cfg.OutputDir, cfg.XLSX)
  defer sinks.Close()

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/runner.go

MAINTENANCE:
  - Register a new writer in OpenSinks, WriteRun and Close.
*/

package output

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/daryltucker/detbench/internal/model"
)

// File names inside the output directory.
const (
	EpochsFile = "epochs.csv"
	RunsFile   = "runs.jsonl"
	ReportFile = "report.xlsx"
)

// Sinks fans results out to the CSV, JSON Lines and XLSX writers.
type Sinks struct {
	csv  *CSVWriter
	json *JSONWriter
	xlsx *XLSXWriter
}

// OpenSinks creates dir and the writers inside it. With xlsx false no
// workbook is produced.
func OpenSinks(dir string, xlsx bool) (*Sinks, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	csvPath := filepath.Join(dir, EpochsFile)
	csvWriter, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}

	jsonPath := filepath.Join(dir, RunsFile)
	jsonWriter, err := NewJSONWriter(jsonPath)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("failed to init JSON writer at %s: %w", jsonPath, err)
	}

	s := &Sinks{csv: csvWriter, json: jsonWriter}
	if xlsx {
		s.xlsx = NewXLSXWriter(filepath.Join(dir, ReportFile))
	}
	return s, nil
}

// WriteRun records r in every sink. All sinks are attempted.
func (s *Sinks) WriteRun(r *model.RunResult) error {
	err := multierr.Combine(
		wrap("CSV", s.csv.Write(r)),
		wrap("JSON", s.json.Write(r)),
	)
	if s.xlsx != nil {
		err = multierr.Append(err, wrap("XLSX", s.xlsx.Write(r)))
	}
	return err
}

// WriteComparison records c in the workbook.
func (s *Sinks) WriteComparison(c model.Comparison) error {
	if s.xlsx == nil {
		return nil
	}
	return wrap("XLSX", s.xlsx.WriteComparison(c))
}

// Close closes every sink and returns all close errors.
func (s *Sinks) Close() error {
	err := multierr.Combine(s.csv.Close(), s.json.Close())
	if s.xlsx != nil {
		err = multierr.Append(err, s.xlsx.Close())
	}
	return err
}

func wrap(sink string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to write result to %s: %w", sink, err)
}
