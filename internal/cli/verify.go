/*
PURPOSE:
  Defines the 'verify' subcommand.

REQUIREMENTS:
  User-specified:
  - Deterministic runs with the same seed reproduce each other.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Verify()

ERROR HANDLING:
  - Exits non-zero on the first mismatch.

IMPLEMENTATION RULES:
  - None.

USAGE:
  detbench verify --runs 3 --epochs 2

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/verify.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/engine"
	"github.com/daryltucker/detbench/internal/output"
)

var verifyRuns int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the deterministic run and check the results are bit-identical",
	Example: `  detbench verify --runs 3 --epochs 2 --layers 1,1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		n := cfg.VerifyRuns
		if cmd.Flags().Changed("runs") {
			n = verifyRuns
		}

		v, err := engine.New(cfg).Verify(cmd.Context(), n)
		if err != nil {
			return err
		}
		output.Logger.Info("Deterministic runs reproduced", "runs", len(v.Runs), "fingerprint", v.Runs[0].Fingerprint)
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d runs, fingerprint %s\n", len(v.Runs), v.Runs[0].Fingerprint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	addRunFlags(verifyCmd)
	verifyCmd.Flags().IntVar(&verifyRuns, "runs", 2, "number of deterministic replays")
}
