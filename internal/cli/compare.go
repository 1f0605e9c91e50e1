/*
PURPOSE:
  Defines the 'compare' subcommand.
  Compares saved runs without re-running them.

REQUIREMENTS:
  User-specified:
  - Compare per-epoch elapsed time of two runs.

  Implementation-discovered:
  - Runs may come from different files, so they are matched by label.

ARCHITECTURE INTEGRATION:
  - Calls: output.ReadJSONL, engine.Compare

ERROR HANDLING:
  - Unknown labels and spike factors <= 1 are rejected.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  detbench compare results/runs.jsonl

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/output/json.go
  - internal/engine/compare.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/engine"
	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/output"
)

var (
	baselineLabel  string
	candidateLabel string
	spikeFactor    float64
)

var compareCmd = &cobra.Command{
	Use:   "compare RUNS.jsonl [MORE.jsonl...]",
	Short: "Compare two saved runs",
	Long: `Loads runs from one or more JSON Lines files written by 'run' or 'train'
and compares the run labeled --candidate against the run labeled --baseline.
When a label occurs more than once the last occurrence wins.`,
	Example: `  detbench compare results/runs.jsonl
  detbench compare old/runs.jsonl new/runs.jsonl --candidate deterministic`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if spikeFactor <= 1 {
			return fmt.Errorf("--spike-factor must be greater than 1, got %g", spikeFactor)
		}
		byLabel := make(map[string]*model.RunResult)
		for _, path := range args {
			runs, err := output.ReadJSONL(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			for _, r := range runs {
				byLabel[r.Label] = r
			}
		}

		base, ok := byLabel[baselineLabel]
		if !ok {
			return fmt.Errorf("no run labeled %q", baselineLabel)
		}
		cand, ok := byLabel[candidateLabel]
		if !ok {
			return fmt.Errorf("no run labeled %q", candidateLabel)
		}

		c := engine.Compare(base, cand, spikeFactor)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-16s %8s %10s %10s %10s %10s %10s\n", "label", "epochs", "mean_s", "median_s", "p95_s", "total_min", "valid_acc")
		for _, s := range []model.RunSummary{c.Baseline, c.Candidate} {
			fmt.Fprintf(out, "%-16s %8d %10.3f %10.3f %10.3f %10.2f %9.3f%%\n",
				s.Label, s.Epochs, s.MeanEpoch, s.MedianEpoch, s.P95Epoch, s.Total/60, s.FinalValidAcc)
			if len(s.LossSpikes) > 0 {
				fmt.Fprintf(out, "  loss spikes at epochs %v\n", s.LossSpikes)
			}
		}
		fmt.Fprintf(out, "slowdown: %.3fx\nidentical metrics: %t\n", c.Slowdown, c.IdenticalMetrics)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVar(&baselineLabel, "baseline", engine.LabelBaseline, "label of the reference run")
	compareCmd.Flags().StringVar(&candidateLabel, "candidate", engine.LabelDeterministic, "label of the run to compare")
	compareCmd.Flags().Float64Var(&spikeFactor, "spike-factor", 10, "loss ratio over the previous epoch that counts as a spike")
}
