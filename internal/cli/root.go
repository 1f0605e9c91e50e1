/*
PURPOSE:
  Defines the root Cobra command for the detbench CLI.
  Handles global flags, logger setup and config loading.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config and --log-level.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Ctrl-C must stop a long benchmark between batches, so commands run
    under a signal-aware context.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/detbench/main.go
  - Calls: Child commands (run, train, verify, devices, compare)
  - Uses: internal/config, internal/output

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands, Root is usually empty or helps.
  - Precedence: flags > DETBENCH_* env > config file > defaults.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If --log-level has no effect, check PersistentPreRunE runs before RunE.
  - If imports fail, run `go mod tidy`.

RELATED FILES:
  - cmd/detbench/main.go
  - internal/cli/flags.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/config"
	"github.com/daryltucker/detbench/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile  string
	logLevel string
	logJSON  bool

	rootCmd = &cobra.Command{
		Use:   "detbench",
		Short: "Measure the runtime cost of deterministic training",
		Long: `detbench trains the same residual classifier twice with the same seed,
once with auto-tuned kernel selection and once in deterministic mode,
and reports per-epoch elapsed time and metrics side by side.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return output.Configure(os.Stdout, logLevel, logJSON)
		},
	}
)

// Execute executes the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads the config file and applies flag overrides from cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	applyOverrides(cmd, cfg)
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		if err := output.Configure(os.Stdout, cfg.LogLevel, logJSON || cfg.LogJSON); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./detbench.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured logs as JSON")
}
