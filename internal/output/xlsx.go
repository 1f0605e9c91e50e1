/*
PURPOSE:
  Writes runs and their comparison to an Excel workbook.

REQUIREMENTS:
  User-specified:
  - Results are easy to inspect side by side.

  Implementation-discovered:
  - Excel sheet names are limited to 31 characters and forbid :\/?*[].
  - A new workbook starts with one default sheet, which is renamed for the
    first run.

ARCHITECTURE INTEGRATION:
  - Called by: internal/output/sinks.go
  - Uses: xuri/excelize/v2

ERROR HANDLING:
  - Errors are returned to Sinks, which still attempts the other writers.

IMPLEMENTATION RULES:
  - Thread-safe (Mutex).
  - Nothing is written to disk until Close.

USAGE:
  xw := output.NewXLSXWriter("results/report.xlsx")
  defer xw.Close()

SELF-HEALING INSTRUCTIONS:
  - If NewSheet fails, check sheetName for a character Excel rejects.

RELATED FILES:
  - internal/output/csv.go

MAINTENANCE:
  - Keep columns in step with csvHeader.
*/

package output

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/daryltucker/detbench/internal/model"
)

const comparisonSheet = "comparison"

// XLSXWriter builds a workbook with one sheet per run and a comparison
// sheet, saved on Close.
type XLSXWriter struct {
	path   string
	file   *excelize.File
	sheets map[string]bool
	mu     sync.Mutex
}

// NewXLSXWriter starts an empty workbook that will be saved to path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path, file: excelize.NewFile(), sheets: make(map[string]bool)}
}

// sheetName makes label a valid, unused sheet name.
func (xw *XLSXWriter) sheetName(label string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, label)
	if name == "" {
		name = "run"
	}
	// Excel caps names at 31 characters; keep room for a _N suffix.
	if r := []rune(name); len(r) > 28 {
		name = string(r[:28])
	}
	base := name
	for i := 2; xw.sheets[name] || name == comparisonSheet; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}

// newSheet reuses the default sheet for the first one.
func (xw *XLSXWriter) newSheet(name string) error {
	if len(xw.sheets) == 0 {
		if err := xw.file.SetSheetName(xw.file.GetSheetName(0), name); err != nil {
			return err
		}
	} else if _, err := xw.file.NewSheet(name); err != nil {
		return err
	}
	xw.sheets[name] = true
	return nil
}

func (xw *XLSXWriter) writeRows(sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := xw.file.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// Write adds a sheet with r's epochs.
func (xw *XLSXWriter) Write(r *model.RunResult) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	sheet := xw.sheetName(r.Label)
	if err := xw.newSheet(sheet); err != nil {
		return fmt.Errorf("failed to add sheet %s: %w", sheet, err)
	}

	rows := [][]interface{}{
		{"run_id", r.ID, "seed", r.Seed, "device", r.Device, "settings", r.Settings.String()},
		{"epoch", "train_loss", "train_acc", "valid_loss", "valid_acc", "elapsed_min", "epoch_s"},
	}
	perEpoch := r.EpochSeconds()
	for i, e := range r.Epochs {
		rows = append(rows, []interface{}{e.Epoch, e.TrainLoss, e.TrainAcc, e.ValidLoss, e.ValidAcc, e.Elapsed.Minutes(), perEpoch[i]})
	}
	return xw.writeRows(sheet, rows)
}

// WriteComparison fills the comparison sheet, replacing earlier content.
func (xw *XLSXWriter) WriteComparison(c model.Comparison) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if idx, err := xw.file.GetSheetIndex(comparisonSheet); err != nil || idx == -1 {
		if err := xw.newSheet(comparisonSheet); err != nil {
			return fmt.Errorf("failed to add comparison sheet: %w", err)
		}
	}

	row := func(s model.RunSummary) []interface{} {
		return []interface{}{s.Label, s.Epochs, s.MeanEpoch, s.MedianEpoch, s.P95Epoch, s.Total,
			s.FinalTrainLoss, s.FinalValidAcc, len(s.LossSpikes), s.Fingerprint}
	}
	rows := [][]interface{}{
		{"label", "epochs", "mean_epoch_s", "median_epoch_s", "p95_epoch_s", "total_s",
			"final_train_loss", "final_valid_acc", "loss_spikes", "fingerprint"},
		row(c.Baseline),
		row(c.Candidate),
		{},
		{"slowdown", c.Slowdown},
		{"identical_metrics", c.IdenticalMetrics},
	}
	return xw.writeRows(comparisonSheet, rows)
}

// Close saves the workbook if anything was written.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	var err error
	if len(xw.sheets) > 0 {
		err = xw.file.SaveAs(xw.path)
	}
	if cerr := xw.file.Close(); err == nil {
		err = cerr
	}
	return err
}
