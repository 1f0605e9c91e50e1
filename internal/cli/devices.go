/*
PURPOSE:
  Defines the 'devices' subcommand.
  Helps check device selection and which kernels each device offers.

REQUIREMENTS:
  User-specified:
  - List visible devices.

  Implementation-discovered:
  - Useful validation step before full run: shows which kernels the
    deterministic mode will exclude.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.NewBackend()

ERROR HANDLING:
  - Returns config errors; an unknown --device is reported like a run would.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  detbench devices --visible-devices 2

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/backend/backend.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daryltucker/detbench/internal/backend"
	"github.com/daryltucker/detbench/internal/engine"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List visible devices and their kernels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		b, _, err := engine.New(cfg).NewBackend()
		if err != nil {
			return err
		}
		selected, err := b.Device(cfg.Device)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, dev := range b.Devices() {
			marker := ""
			if dev == selected {
				marker = " (selected)"
			}
			fmt.Fprintf(w, "%s%s\tlanes=%d\tmemory=%s\n", dev, marker, dev.Lanes, memory(dev))
			for _, k := range b.Kernels(dev) {
				fmt.Fprintf(w, "  %s/%s\tdeterministic=%t\t\n", k.Op, k.Name, k.Deterministic)
			}
		}
		return w.Flush()
	},
}

func memory(dev backend.Device) string {
	if dev.MemoryLimit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%dMB", dev.MemoryLimit>>20)
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().IntVar(&flagValues.visibleDevices, "visible-devices", 0, "number of visible accelerators")
	devicesCmd.Flags().StringVar(&flagValues.device, "device", "", "device selector: cpu, accel or accel:N")
}
