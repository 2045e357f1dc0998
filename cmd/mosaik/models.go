package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/leofalp/mosaik/providers/ai"
	"github.com/spf13/cobra"
)

const listModelsTimeout = 10 * time.Second

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List the models each configured provider serves",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listModels,
	}
}

func listModels(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	var only string
	if len(args) == 1 {
		only = args[0]
		if _, ok := a.engine.Registry().Provider(only); !ok {
			return fmt.Errorf("%w: %q", ai.ErrUnknownProvider, only)
		}
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PROVIDER\tMODEL")
	for _, capability := range a.engine.Capabilities() {
		if only != "" && capability.ProviderID != only {
			continue
		}

		models := capability.Models
		provider, _ := a.engine.Registry().Provider(capability.ProviderID)
		if lister, ok := provider.(ai.ModelLister); ok {
			ctx, cancel := context.WithTimeout(cmd.Context(), listModelsTimeout)
			listed, err := lister.ListModels(ctx)
			cancel()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", capability.ProviderID, err)
			} else {
				models = listed
			}
		}

		if len(models) == 0 && capability.AnyModel {
			fmt.Fprintf(writer, "%s\t*\n", capability.ProviderID)
			continue
		}
		for _, model := range models {
			fmt.Fprintf(writer, "%s\t%s\n", capability.ProviderID, model)
		}
	}
	return writer.Flush()
}
