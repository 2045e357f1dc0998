package main

import (
	"os"

	"github.com/leofalp/mosaik/internal/mcpserver"
	"github.com/spf13/cobra"
)

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp [file.hcl]",
		Short: "Serve the graph as MCP tools on stdio",
		Long: `Mcp exposes graph editing and runs as Model Context Protocol tools over
stdin and stdout. Logs go to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer a.close()

			var path string
			if len(args) == 1 {
				path = args[0]
			}
			if _, _, err := a.loadWorkflow(path); err != nil {
				return err
			}

			return mcpserver.New(a.engine, mcpserver.WithVersion(version)).ServeStdio()
		},
	}
}
