package main

import (
	"fmt"
	"os"

	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/core/workflow"
	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "export <file.hcl>",
		Short: "Run a workflow node and write its result as text or markdown",
		Args:  cobra.ExactArgs(1),
		RunE:  exportNode,
	}
	command.Flags().String("node", "", "Node to export")
	command.Flags().String("format", string(fileio.FormatMarkdown), "Export format: txt or md")
	command.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	_ = command.MarkFlagRequired("node")
	return command
}

func exportNode(cmd *cobra.Command, args []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	format, err := fileio.ParseFormat(formatName)
	if err != nil {
		return err
	}

	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	definition, ids, err := a.loadWorkflow(args[0])
	if err != nil {
		return err
	}

	nodeName, _ := cmd.Flags().GetString("node")
	snapshot, err := executeWorkflow(cmd.Context(), a, definition, ids, nodeName, false, newPrinter(cmd.ErrOrStderr(), workflow.Names(ids), false))
	if err != nil {
		return err
	}
	if snapshot.Outcome != graph.StatusSucceeded {
		return fmt.Errorf("run %s %s", snapshot.ID, snapshot.Outcome)
	}

	content, err := a.engine.ExportNode(ids[nodeName], format)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = cmd.OutOrStdout().Write(content)
		return err
	}
	if err := os.WriteFile(output, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
	return nil
}
