package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blerpc",
		Short: "JSON-RPC over Bluetooth Low Energy",
		Long: `Talk JSON-RPC 2.0 to a peripheral exposing the blerpc GATT service:

- Scan for peripherals advertising the service
- Connect to an address, or auto-connect to the remembered or nearest device
- Call methods and print their results
- Watch the connection state machine

Requests are fragmented into writes of the configured size and responses are
reassembled from notifications.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	root.AddCommand(newScanCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newForgetCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
