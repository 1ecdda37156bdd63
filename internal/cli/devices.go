package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deviceRow is one line of the devices listing. Token marks devices that
// match the configured identity.
type deviceRow struct {
	Bus    string `json:"bus" yaml:"bus"`
	Device string `json:"device" yaml:"device"`
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Serial string `json:"serial,omitempty" yaml:"serial"`
	Token  string `json:"token,omitempty" yaml:"token"`
}

// eventRow reports a device arriving or leaving.
type eventRow struct {
	Event     string `json:"event" yaml:"event"`
	deviceRow `yaml:",inline"`
}

var devicesWatch bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List USB devices, marking the configured token",
	Long: `List USB devices with names from the USB ID database. The device
matching the configured vendor and product id is marked in the TOKEN
column. With --watch, arrivals and removals are reported until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := listDevices(cfg.Device)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
		if !devicesWatch {
			return nil
		}
		return watchDevices(cmd.Context(), cfg.Device, func(e eventRow) {
			if cfg.OutputFormat == "table" || cfg.OutputFormat == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s:%s %s %s %s\n",
					e.Event, e.Bus, e.Device, e.ID, e.Name, e.Token)
				return
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(e))
		})
	},
}

func init() {
	devicesCmd.Flags().BoolVarP(&devicesWatch, "watch", "w", false, "report devices arriving and leaving until interrupted")
	rootCmd.AddCommand(devicesCmd)
}
