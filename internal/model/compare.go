/*
PURPOSE:
  Result types for comparing two runs.

REQUIREMENTS:
  User-specified:
  - Report epoch-time statistics and whether metrics match.

  Implementation-discovered:
  - Times are plain seconds so the CSV, JSON and XLSX outputs agree.

ARCHITECTURE INTEGRATION:
  - Filled by: internal/engine (Summarize, Compare)
  - Written by: internal/output (XLSX comparison sheet)

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Data only. No computation here.

USAGE:
  c := engine.Compare(base, det, 10)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/compare.go

MAINTENANCE:
  - Add a field here and in XLSXWriter.WriteComparison when a new statistic
    is reported.
*/

package model

// RunSummary condenses one RunResult for side-by-side comparison. Times are
// in seconds.
type RunSummary struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	Epochs         int     `json:"epochs"`
	MeanEpoch      float64 `json:"mean_epoch_s"`
	MedianEpoch    float64 `json:"median_epoch_s"`
	P95Epoch       float64 `json:"p95_epoch_s"`
	Total          float64 `json:"total_s"`
	FinalTrainLoss float64 `json:"final_train_loss"`
	FinalValidAcc  float64 `json:"final_valid_acc"`
	Fingerprint    string  `json:"fingerprint"`
	// LossSpikes lists epochs whose train loss jumped by at least the
	// configured factor over the previous epoch.
	LossSpikes []int `json:"loss_spikes,omitempty"`
}

// Comparison relates a candidate run to a baseline run.
type Comparison struct {
	Baseline  RunSummary `json:"baseline"`
	Candidate RunSummary `json:"candidate"`
	// Slowdown is candidate total time over baseline total time.
	Slowdown float64 `json:"slowdown"`
	// IdenticalMetrics reports bit-identical per-epoch loss and accuracy.
	IdenticalMetrics bool `json:"identical_metrics"`
}
