package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/worker"
	"github.com/ahrav/go-invoker/pkg/events"
)

const metricsShutdownTimeout = 5 * time.Second

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker hosting InvocationWorkflow and InvokeModel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			stack, err := worker.Build(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			logger := slog.Default().With("component", "worker")

			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
				Logger:    tlog.NewStructuredLogger(slog.Default()),
			})
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer c.Close()

			var metricsSrv *http.Server
			if stack.Gatherer != nil && cfg.Observability.MetricsAddr != "" {
				metricsSrv = serveMetrics(stack, cfg.Observability.MetricsAddr, logger)
			}

			w := sdkworker.New(c, cfg.Temporal.TaskQueue, sdkworker.Options{})
			worker.RegisterAll(w, stack.Orchestrator, invoke.OptionsFromConfig(cfg.Invoke), events.NewLogSink(slog.Default(), 0))

			logger.Info("worker starting",
				"task_queue", cfg.Temporal.TaskQueue,
				"namespace", cfg.Temporal.Namespace)
			runErr := w.Run(sdkworker.InterruptCh())

			if metricsSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
				defer cancel()
				if err := metricsSrv.Shutdown(ctx); err != nil {
					logger.Warn("metrics server shutdown failed", "error", err)
				}
			}
			return runErr
		},
	}
}

func serveMetrics(stack *worker.Stack, addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(stack.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = writeJSON(w, stack.Orchestrator.HealthReport())
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
