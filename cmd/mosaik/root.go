package main

import (
	"io"

	"github.com/leofalp/mosaik/core/config"
	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/core/workflow"
	"github.com/leofalp/mosaik/providers/observability"
	"github.com/leofalp/mosaik/providers/observability/promobs"
	"github.com/leofalp/mosaik/providers/observability/slogobs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mosaik",
		Short:         "Mosaik runs LLM workflows drawn as node graphs",
		Long:          `Mosaik executes graphs of text, chat, transform and file nodes described in HCL, streaming every node's progress as it runs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", config.DefaultPath, "Path to the mosaik.yaml configuration")

	root.AddCommand(
		newRunCommand(),
		newServeCommand(),
		newMCPCommand(),
		newModelsCommand(),
		newValidateCommand(),
		newExportCommand(),
	)
	return root
}

// app holds what every command builds from the configuration.
type app struct {
	cfg      *config.Config
	observer observability.Provider
	metrics  *prometheus.Registry
	engine   *engine.Engine
}

// newApp loads the configuration and builds the engine. Logs go to logs so
// stdout stays free for results and protocol traffic.
func newApp(cmd *cobra.Command, logs io.Writer) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logOptions := append([]slogobs.Option{slogobs.WithOutput(logs)}, cfg.LogOptions()...)
	var observer observability.Provider = slogobs.New(logOptions...)

	var metrics *prometheus.Registry
	if cfg.Metrics.Enabled {
		metrics = prometheus.NewRegistry()
		observer = promobs.New(metrics, observer)
	}

	options := append(cfg.EngineOptions(), engine.WithObserver(observer))
	mosaik := engine.New(graph.NewStore(), config.Registry(cfg), options...)

	return &app{cfg: cfg, observer: observer, metrics: metrics, engine: mosaik}, nil
}

// loadWorkflow applies the workflow at path, if any, to the app's store.
func (a *app) loadWorkflow(path string) (*workflow.Workflow, map[string]graph.NodeID, error) {
	if path == "" {
		return nil, map[string]graph.NodeID{}, nil
	}
	definition, err := workflow.Load(path)
	if err != nil {
		return nil, nil, err
	}
	ids, err := definition.Apply(a.engine.Store())
	if err != nil {
		return nil, nil, err
	}
	return definition, ids, nil
}

func (a *app) close() {
	a.engine.Close()
}
