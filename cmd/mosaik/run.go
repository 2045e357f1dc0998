package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/core/workflow"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "run <file.hcl>",
		Short: "Run a workflow and print the outputs of its final nodes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflow,
	}
	command.Flags().String("node", "", "Run only this node, its descendants and the ancestors they need")
	command.Flags().Bool("force", false, "Execute every node in scope even when its output is fresh")
	command.Flags().Bool("stream", true, "Echo chat fragments while they arrive")
	command.Flags().Bool("raw", false, "Print outputs without markdown rendering")
	return command
}

func runWorkflow(cmd *cobra.Command, args []string) error {
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
	force, _ := cmd.Flags().GetBool("force")
	stream, _ := cmd.Flags().GetBool("stream")
	raw, _ := cmd.Flags().GetBool("raw")

	names := workflow.Names(ids)
	snapshot, err := executeWorkflow(cmd.Context(), a, definition, ids, nodeName, force, newPrinter(cmd.ErrOrStderr(), names, stream))
	if err != nil {
		return err
	}

	printResults(cmd.OutOrStdout(), a.engine.Store().Snapshot(), snapshot, names, raw)

	if snapshot.Outcome != graph.StatusSucceeded {
		return fmt.Errorf("run %s %s", snapshot.ID, snapshot.Outcome)
	}
	return nil
}

// executeWorkflow triggers a run and prints its events until it finishes.
// An interrupt cancels the run, which still reports its final state.
func executeWorkflow(ctx context.Context, a *app, definition *workflow.Workflow, ids map[string]graph.NodeID, nodeName string, force bool, printer *printer) (engine.RunSnapshot, error) {
	var start graph.NodeID
	if nodeName != "" {
		nodeID, ok := ids[nodeName]
		if !ok {
			return engine.RunSnapshot{}, fmt.Errorf("%w: %q in %s", workflow.ErrUnknownNode, nodeName, definition.Filename)
		}
		start = nodeID
	}

	var options []engine.TriggerOption
	if force {
		options = append(options, engine.WithForce())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	subscription := a.engine.Subscribe()
	defer subscription.Close()

	runID, err := a.engine.TriggerRun(ctx, start, options...)
	if err != nil {
		return engine.RunSnapshot{}, err
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.engine.CancelRun(runID)
		case <-finished:
		}
	}()

	for {
		event, err := subscription.Next(context.Background())
		if err != nil {
			if errors.Is(err, engine.ErrSinkClosed) || errors.Is(err, engine.ErrSubscriptionClosed) {
				break
			}
			return engine.RunSnapshot{}, err
		}
		if event.RunID != runID {
			continue
		}
		printer.print(event)
		if event.Type == engine.EventRunFinished {
			break
		}
	}

	return a.engine.Wait(context.Background(), runID)
}

// printResults writes the output of every node in the run that feeds no
// other node in it.
func printResults(out io.Writer, current *graph.Graph, snapshot engine.RunSnapshot, names map[graph.NodeID]string, raw bool) {
	for _, nodeID := range snapshot.Order {
		if feedsRun(current, snapshot, nodeID) {
			continue
		}
		state := snapshot.Nodes[nodeID]
		if state.Status != graph.StatusSucceeded || state.Output == "" {
			continue
		}

		name := names[nodeID]
		if name == "" {
			name = string(nodeID)
		}
		text := fmt.Sprintf("## %s\n\n%s\n", name, state.Output)
		if raw {
			fmt.Fprintln(out, text)
			continue
		}
		fmt.Fprintln(out, renderMarkdown(out, text))
	}
}

func feedsRun(current *graph.Graph, snapshot engine.RunSnapshot, nodeID graph.NodeID) bool {
	for _, downstreamID := range current.Downstream(nodeID) {
		if _, inRun := snapshot.Nodes[downstreamID]; inRun {
			return true
		}
	}
	return false
}
