package output

import (
	"bytes"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/model"
)

func sampleRun(label string) *model.RunResult {
	r := model.NewRunResult(label, 1)
	r.Device = "accel:0"
	r.Settings = backend.Settings{Strict: true, Deterministic: true}
	_ = r.Add(model.EpochRecord{Epoch: 1, TrainLoss: 2.3, TrainAcc: 10, ValidLoss: 2.2, ValidAcc: 12, Elapsed: time.Minute})
	_ = r.Add(model.EpochRecord{Epoch: 2, TrainLoss: 1.9, TrainAcc: 30, ValidLoss: 2.0, ValidAcc: 28, Elapsed: 3 * time.Minute})
	r.Seal(3 * time.Minute)
	return r
}

func TestSinks_WritesAllFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := OpenSinks(dir, true)
	require.NoError(t, err)

	base, det := sampleRun("baseline"), sampleRun("deterministic")
	require.NoError(t, s.WriteRun(base))
	require.NoError(t, s.WriteRun(det))
	require.NoError(t, s.WriteComparison(model.Comparison{
		Baseline:         model.RunSummary{Label: "baseline", Total: 180},
		Candidate:        model.RunSummary{Label: "deterministic", Total: 270},
		Slowdown:         1.5,
		IdenticalMetrics: true,
	}))
	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(dir, EpochsFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "baseline", rows[1][1])
	assert.Equal(t, "true", rows[1][6])
	assert.Equal(t, "2", rows[2][7])
	assert.Equal(t, "120.000", rows[2][13])

	runs, err := ReadJSONL(filepath.Join(dir, RunsFile))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, det.ID, runs[1].ID)
	assert.Equal(t, det.Fingerprint, runs[1].Fingerprint)
	assert.Equal(t, det.Epochs, runs[1].Epochs)
	assert.Equal(t, det.Settings, runs[1].Settings)

	book, err := excelize.OpenFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"baseline", "deterministic", "comparison"}, book.GetSheetList())
	v, err := book.GetCellValue("deterministic", "A4")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	v, err = book.GetCellValue("comparison", "B5")
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)
}

func TestSinks_NoWorkbook(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSinks(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.WriteRun(sampleRun("a")))
	require.NoError(t, s.WriteComparison(model.Comparison{}))
	require.NoError(t, s.Close())
	assert.NoFileExists(t, filepath.Join(dir, ReportFile))
}

func TestXLSXWriter_SheetNames(t *testing.T) {
	xw := NewXLSXWriter(filepath.Join(t.TempDir(), "r.xlsx"))
	assert.Equal(t, "a_b", xw.sheetName("a/b"))
	assert.Equal(t, "comparison_2", xw.sheetName("comparison"))
	xw.sheets["run"] = true
	assert.Equal(t, "run_2", xw.sheetName("run"))
	assert.Len(t, xw.sheetName("a-label-that-is-much-longer-than-excel-allows"), 28)
	require.NoError(t, xw.Close())
}

func TestXLSXWriter_MultiByteLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.xlsx")
	xw := NewXLSXWriter(path)
	label := strings.Repeat("é", 40)

	name := xw.sheetName(label)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, 28, utf8.RuneCountInString(name))

	require.NoError(t, xw.Write(sampleRun(label)))
	require.NoError(t, xw.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), strings.Repeat("é", 28))
}

func TestReadJSONL_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n\nnot json\n"), 0o644))
	_, err := ReadJSONL(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":3:")
}

func TestConfigure(t *testing.T) {
	prev := Logger
	defer SetLogger(prev)

	var buf bytes.Buffer
	require.NoError(t, Configure(&buf, "warn", true))
	Logger.Info("hidden")
	Logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.Error(t, Configure(&buf, "loud", false))

	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}
