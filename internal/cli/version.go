package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/protocol"
)

// version is set at build time via -ldflags "-X github.com/ardnew/usbcrypt/internal/cli.usbcryptVersion=x.y.z"
var usbcryptVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the usbcrypt version and opcode table",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "usbcrypt version %s\n", usbcryptVersion)

		version, err := protocol.ParseVersion(cfg.Protocol)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "protocol: %s\n", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
