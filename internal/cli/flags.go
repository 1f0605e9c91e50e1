/*
PURPOSE:
  Flags shared by the run, train, verify and devices commands.

REQUIREMENTS:
  Implementation-discovered:
  - Only flags the user actually set may override the config file.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli (loadConfig)

ERROR HANDLING:
  - N/A. Validation happens in config.Validate.

IMPLEMENTATION RULES:
  - Check cmd.Flags().Changed before copying a value.

USAGE:
  addRunFlags(runCmd)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/config/config.go

MAINTENANCE:
  - Add new config knobs here and in applyOverrides.
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/config"
)

// overrides holds the per-run flags shared by run, train and verify.
type overrides struct {
	seed           int64
	epochs         int
	batchSize      int
	workers        int
	interval       int
	device         string
	visibleDevices int
	dataDir        string
	outputDir      string
	layers         []int
	width          int
	grayscale      bool
	histogram      bool
}

var flagValues overrides

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64Var(&flagValues.seed, "seed", 0, "random seed shared by every run")
	f.IntVar(&flagValues.epochs, "epochs", 0, "number of training epochs")
	f.IntVar(&flagValues.batchSize, "batch-size", 0, "mini-batch size")
	f.IntVar(&flagValues.workers, "workers", 0, "batch assembly workers (0 = caller's goroutine)")
	f.IntVar(&flagValues.interval, "logging-interval", 0, "print training loss every N batches")
	f.StringVar(&flagValues.device, "device", "", "device selector: cpu, accel or accel:N")
	f.IntVar(&flagValues.visibleDevices, "visible-devices", 0, "number of visible accelerators")
	f.StringVar(&flagValues.dataDir, "data-dir", "", "directory with the CIFAR-10 binary batches")
	f.StringVarP(&flagValues.outputDir, "output-dir", "o", "", "output directory for results (CSV/JSONL/XLSX)")
	f.IntSliceVar(&flagValues.layers, "layers", nil, "blocks per stage (default 3,4,23,3)")
	f.IntVar(&flagValues.width, "width", 0, "hidden units per residual block")
	f.BoolVar(&flagValues.grayscale, "grayscale", false, "average the color channels")
	f.BoolVar(&flagValues.histogram, "class-histogram", false, "count validation predictions per class (fails under strict mode)")
}

// applyOverrides copies every flag the user set into cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string) bool {
		fl := f.Lookup(name)
		return fl != nil && fl.Changed
	}
	v := flagValues
	if set("seed") {
		cfg.Seed = v.seed
	}
	if set("epochs") {
		cfg.NumEpochs = v.epochs
	}
	if set("batch-size") {
		cfg.BatchSize = v.batchSize
	}
	if set("workers") {
		cfg.NumWorkers = v.workers
	}
	if set("logging-interval") {
		cfg.LoggingInterval = v.interval
	}
	if set("device") {
		cfg.Device = v.device
	}
	if set("visible-devices") {
		cfg.VisibleDevices = v.visibleDevices
	}
	if set("data-dir") {
		cfg.DataDir = v.dataDir
	}
	if set("output-dir") {
		cfg.OutputDir = v.outputDir
	}
	if set("layers") {
		cfg.Layers = v.layers
	}
	if set("width") {
		cfg.Width = v.width
	}
	if set("grayscale") {
		cfg.Grayscale = v.grayscale
	}
	if set("class-histogram") {
		cfg.ClassHistogram = v.histogram
	}
}
