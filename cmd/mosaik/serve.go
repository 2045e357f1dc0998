package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leofalp/mosaik/internal/server"
	"github.com/leofalp/mosaik/providers/observability"
	"github.com/leofalp/mosaik/providers/recorder/redisrec"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve [file.hcl]",
		Short: "Serve the graph API, optionally seeded from a workflow",
		Long: `Serve exposes the node graph over HTTP with a server-sent event stream.
Prometheus metrics are served on /metrics when metrics.enabled is set, and
runs are recorded to Redis when redis.addr is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: serve,
	}
	command.Flags().String("addr", "", "Listen address, overriding server.addr")
	return command
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr())
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	options := []server.Option{server.WithObserver(a.observer)}
	if a.metrics != nil {
		options = append(options, server.WithMetrics(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})))
	}

	if a.cfg.Redis.Addr != "" {
		recorder := redisrec.New(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB,
			redisrec.WithPrefix(a.cfg.Redis.Prefix),
			redisrec.WithMaxLen(a.cfg.Redis.MaxLen),
			redisrec.WithObserver(a.observer),
		)
		defer recorder.Close()

		if err := recorder.Ping(ctx); err != nil {
			return err
		}
		go func() {
			if err := recorder.Consume(ctx, a.engine.Subscribe()); err != nil && ctx.Err() == nil {
				a.observer.Error(context.Background(), "Run recorder stopped", observability.Error(err))
			}
		}()
		options = append(options, server.WithHistory(recorder))
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "mosaik %s listening on http://%s\n", version, addr)
	return server.New(a.engine, options...).ListenAndServe(ctx, addr)
}
