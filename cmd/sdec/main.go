package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sdec",
		Short: "Inspect and decode snapshot replication packets",
		Long: `sdec works with the snapshot replication wire format.

Packets are self-describing down to the section level, so inspect works
on any capture. Full decoding needs the schema document both peers were
built from.

Examples:
  sdec inspect tick42.bin
  sdec inspect tick42.bin --json
  sdec decode tick42.bin --schema movement.json
  sdec hash movement.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		inspectCmd(),
		decodeCmd(),
		hashCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
