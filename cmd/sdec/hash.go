package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sdec-dev/sdec/pkg/schemadoc"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <schema-file>",
		Short: "Print the canonical hash of a schema document",
		Long: `Compute the schema hash embedded in every packet header. Two peers can
only exchange packets when their hashes match, so comparing the output
of this command is the quickest way to check that two schema documents
describe the same wire format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(cmd.OutOrStdout(), args[0])
		},
	}
}

func runHash(w io.Writer, path string) error {
	s, err := schemadoc.Load(path, wire.DefaultLimits())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%016x\n", s.Hash())
	return nil
}
