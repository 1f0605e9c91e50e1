/*
PURPOSE:
  Defines the 'run' and 'train' subcommands.
  'run' executes the full benchmark: baseline then deterministic.
  'train' executes one labeled run.

REQUIREMENTS:
  User-specified:
  - Run the benchmark with the same seed twice and compare.
  - specific flags for overrides.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.
  - A single run is useful when profiling one mode.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run(), internal/engine.RunOne()
  - Uses: internal/config, internal/output

ERROR HANDLING:
  - Returns error if config load fails or engine run fails.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate -> Engine.

USAGE:
  detbench run --epochs 50 --seed 123

SELF-HEALING INSTRUCTIONS:
  - If a flag seems ignored, check applyOverrides in flags.go.

RELATED FILES:
  - internal/cli/root.go
  - internal/cli/flags.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/engine"
	"github.com/daryltucker/detbench/internal/output"
)

var (
	deterministicFlag bool
	labelFlag         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the baseline and deterministic benchmark",
	Long: `Trains the classifier twice with the same seed and compares the runs.
The process follows a strict protocol:
1. Baseline: auto-tuned kernel selection (non-deterministic).
2. Deterministic: auto-tuning off, deterministic kernels, strict mode.
3. Comparison: mean/median/p95 epoch time, slowdown, metric identity.

Results are saved to epochs.csv, runs.jsonl and report.xlsx in the output directory.`,
	Example: `  # Run with defaults (uses detbench.yaml if present)
  detbench run

  # Short run on synthetic data with a shallow network
  detbench run --epochs 2 --layers 1,1 --data-dir ""

  # Bind the second accelerator and write results elsewhere
  detbench run --visible-devices 2 --device accel:1 -o ./benchmarks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, err = engine.New(cfg).Run(cmd.Context())
		return err
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a single labeled training run",
	Example: `  detbench train --deterministic --epochs 5
  detbench train --label tuned --class-histogram`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		label := labelFlag
		if label == "" {
			label = engine.LabelBaseline
			if deterministicFlag {
				label = engine.LabelDeterministic
			}
		}

		sinks, err := output.OpenSinks(cfg.OutputDir, cfg.XLSX)
		if err != nil {
			return err
		}
		defer func() {
			if err := sinks.Close(); err != nil {
				output.Logger.Error("Failed to close outputs", "error", err)
			}
		}()

		res, runErr := engine.New(cfg).RunOne(cmd.Context(), label, deterministicFlag)
		if res != nil {
			if err := sinks.WriteRun(res); err != nil {
				output.Logger.Error("Failed to write result", "error", err)
			}
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trainCmd)

	addRunFlags(runCmd)
	addRunFlags(trainCmd)
	trainCmd.Flags().BoolVar(&deterministicFlag, "deterministic", false, "enable deterministic mode before building the model")
	trainCmd.Flags().StringVar(&labelFlag, "label", "", "run label (default baseline or deterministic)")
}
