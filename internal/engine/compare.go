/*
PURPOSE:
  Summarizes runs and compares a candidate with a baseline.

REQUIREMENTS:
  User-specified:
  - Compare per-epoch elapsed time of the two runs.
  - Loss spikes are reported, never corrected.

  Implementation-discovered:
  - Metrics match when every loss and accuracy series is equal epoch by epoch.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Run, Verify), internal/cli (compare)
  - Uses: montanaflynn/stats, gonum/floats

ERROR HANDLING:
  - stats errors only occur on empty input, which is handled first.

IMPLEMENTATION RULES:
  - Elapsed time never takes part in IdenticalMetrics.

USAGE:
  c := engine.Compare(base, det, cfg.SpikeFactor)
  engine.LogComparison(c)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/model/compare.go

MAINTENANCE:
  - Extend metrics when EpochRecord gains a metric.
*/

package engine

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/output"
)

var metrics = []string{"train_loss", "train_acc", "valid_loss", "valid_acc"}

// Summarize computes epoch-time statistics and loss spikes of r. An epoch is
// a spike when its train loss is at least spikeFactor times the previous one.
func Summarize(r *model.RunResult, spikeFactor float64) model.RunSummary {
	s := model.RunSummary{
		ID:          r.ID,
		Label:       r.Label,
		Epochs:      len(r.Epochs),
		Total:       r.Total.Seconds(),
		Fingerprint: r.Fingerprint,
	}
	if len(r.Epochs) == 0 {
		return s
	}

	secs := r.EpochSeconds()
	// Errors only occur on empty input, excluded above.
	s.MeanEpoch, _ = stats.Mean(secs)
	s.MedianEpoch, _ = stats.Median(secs)
	s.P95Epoch, _ = stats.Percentile(secs, 95)

	last := r.Epochs[len(r.Epochs)-1]
	s.FinalTrainLoss = last.TrainLoss
	s.FinalValidAcc = last.ValidAcc

	for i := 1; i < len(r.Epochs); i++ {
		prev, cur := r.Epochs[i-1].TrainLoss, r.Epochs[i].TrainLoss
		if prev > 0 && cur >= spikeFactor*prev {
			s.LossSpikes = append(s.LossSpikes, r.Epochs[i].Epoch)
		}
	}
	return s
}

// IdenticalMetrics reports whether a and b recorded the same number of epochs
// with equal losses and accuracies. A NaN matches a NaN in the same epoch, so
// a diverged run still compares equal to its exact replay.
func IdenticalMetrics(a, b *model.RunResult) bool {
	if len(a.Epochs) != len(b.Epochs) {
		return false
	}
	for _, m := range metrics {
		if !floats.Same(a.Series(m), b.Series(m)) {
			return false
		}
	}
	return true
}

// Compare relates candidate to baseline.
func Compare(baseline, candidate *model.RunResult, spikeFactor float64) model.Comparison {
	c := model.Comparison{
		Baseline:         Summarize(baseline, spikeFactor),
		Candidate:        Summarize(candidate, spikeFactor),
		IdenticalMetrics: IdenticalMetrics(baseline, candidate),
	}
	if c.Baseline.Total > 0 {
		c.Slowdown = c.Candidate.Total / c.Baseline.Total
	}
	return c
}

// LogComparison reports c through the structured logger. Loss spikes are
// reported as warnings and left as they are.
func LogComparison(c model.Comparison) {
	for _, s := range []model.RunSummary{c.Baseline, c.Candidate} {
		output.Logger.Info("Run summary",
			"label", s.Label,
			"epochs", s.Epochs,
			"mean_epoch_s", fmt.Sprintf("%.3f", s.MeanEpoch),
			"median_epoch_s", fmt.Sprintf("%.3f", s.MedianEpoch),
			"p95_epoch_s", fmt.Sprintf("%.3f", s.P95Epoch),
			"total_min", fmt.Sprintf("%.2f", s.Total/60),
			"final_valid_acc", fmt.Sprintf("%.3f%%", s.FinalValidAcc),
		)
		if len(s.LossSpikes) > 0 {
			output.Logger.Warn("Loss spikes", "label", s.Label, "epochs", s.LossSpikes)
		}
	}
	output.Logger.Info("Comparison",
		"baseline", c.Baseline.Label,
		"candidate", c.Candidate.Label,
		"slowdown", fmt.Sprintf("%.3fx", c.Slowdown),
		"identical_metrics", c.IdenticalMetrics,
	)
}
