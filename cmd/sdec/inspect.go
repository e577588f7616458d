package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sdec-dev/sdec/pkg/codec"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func inspectCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "inspect <packet-file>",
		Short: "Print a packet's header and section table",
		Long: `Read a binary packet file and print its framing: header fields and the
section table with record counts.

Inspection needs no schema. The schema hash is printed for comparison
against 'sdec hash', not verified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0], jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the report as JSON")

	return cmd
}

func runInspect(w io.Writer, path string, jsonOut bool) error {
	pkt, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rep, err := codec.Inspect(pkt, wire.DefaultLimits())
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	if jsonOut {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	fmt.Fprintf(w, "Version:     %d\n", rep.Version)
	fmt.Fprintf(w, "Flags:       %s\n", rep.Flags)
	fmt.Fprintf(w, "Schema hash: %s\n", rep.SchemaHash)
	fmt.Fprintf(w, "Tick:        %d\n", rep.Tick)
	fmt.Fprintf(w, "Baseline:    %d\n", rep.BaselineTick)
	fmt.Fprintf(w, "Payload:     %d bytes\n", rep.PayloadLen)
	if len(rep.Sections) == 0 {
		fmt.Fprintln(w, "Sections:    none")
		return nil
	}
	fmt.Fprintln(w, "Sections:")
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, sec := range rep.Sections {
		records := "-"
		if sec.Records > 0 {
			records = fmt.Sprintf("%d records", sec.Records)
		}
		fmt.Fprintf(tw, "  %s\t%d bytes\t%s\n", sec.Name, sec.Bytes, records)
	}
	return tw.Flush()
}
