package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/output"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDevices(t *testing.T) {
	out, err := execute(t, "devices", "--visible-devices", "2", "--device", "accel:1", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "accel:1 (selected)")
	assert.Contains(t, out, "matmul/splitk")
	assert.Contains(t, out, "scatter_add/atomic")
}

func TestDevices_UnknownDevice(t *testing.T) {
	_, err := execute(t, "devices", "--visible-devices", "1", "--device", "gpu", "--log-level", "error")
	assert.ErrorIs(t, err, backend.ErrNoDevice)
}

func writeRuns(t *testing.T, path string, runs ...*model.RunResult) {
	t.Helper()
	w, err := output.NewJSONWriter(path)
	require.NoError(t, err)
	for _, r := range runs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func savedRun(label string, epochSecs time.Duration) *model.RunResult {
	r := model.NewRunResult(label, 123)
	_ = r.Add(model.EpochRecord{Epoch: 1, TrainLoss: 1, ValidAcc: 50, Elapsed: epochSecs})
	_ = r.Add(model.EpochRecord{Epoch: 2, TrainLoss: 20, ValidAcc: 55, Elapsed: 2 * epochSecs})
	r.Seal(2 * epochSecs)
	return r
}

func TestCompare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	writeRuns(t, path, savedRun("baseline", time.Minute), savedRun("deterministic", 2*time.Minute))

	out, err := execute(t, "compare", path, "--candidate", "deterministic", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "slowdown: 2.000x")
	assert.Contains(t, out, "identical metrics: true")
	assert.Contains(t, out, "loss spikes at epochs [2]")
}

func TestCompare_MissingLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	writeRuns(t, path, savedRun("baseline", time.Minute))

	_, err := execute(t, "compare", path, "--candidate", "tuned", "--log-level", "error")
	assert.ErrorContains(t, err, `no run labeled "tuned"`)
}

func TestCompare_RejectsSpikeFactor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	writeRuns(t, path, savedRun("baseline", time.Minute), savedRun("deterministic", time.Minute))
	t.Cleanup(func() { spikeFactor = 10 })

	for _, v := range []string{"1", "0", "-2"} {
		_, err := execute(t, "compare", path, "--spike-factor="+v, "--log-level", "error")
		assert.ErrorContains(t, err, "--spike-factor must be greater than 1", "value %s", v)
	}
}

func TestTrain_InvalidConfig(t *testing.T) {
	_, err := execute(t, "train", "--epochs", "0", "--log-level", "error")
	assert.ErrorContains(t, err, "num_epochs must be positive")
}
