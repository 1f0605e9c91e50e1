/*
PURPOSE:
  Provides a structured logger for detbench.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.
  - Level selectable from config or --log-level.

  Implementation-discovered:
  - JSON handler for non-interactive runs (--log-json).
  - Training progress lines are NOT logged here; they have a fixed format.

ARCHITECTURE INTEGRATION:
  - Used everywhere.
  - Configured by: internal/cli (root PersistentPreRunE)

ERROR HANDLING:
  - Configure rejects unknown level names.

IMPLEMENTATION RULES:
  - Use `log/slog` (Go 1.21+).

USAGE:
  output.Logger.Info("message", "key", "value")

SELF-HEALING INSTRUCTIONS:
  - Ensure Go 1.21+ is used.

RELATED FILES:
  - All.

MAINTENANCE:
  - Keep level names in sync with the --log-level help text.
*/

package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Configure replaces Logger with a text or JSON handler on w at level.
func Configure(w io.Writer, level string, json bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		SetLogger(slog.New(slog.NewJSONHandler(w, opts)))
	} else {
		SetLogger(slog.New(slog.NewTextHandler(w, opts)))
	}
	return nil
}
