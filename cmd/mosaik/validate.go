package main

import (
	"fmt"

	"github.com/leofalp/mosaik/core/workflow"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.hcl>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			definition, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d edges\n", definition.Filename, len(definition.Nodes), len(definition.Edges))
			return nil
		},
	}
}
