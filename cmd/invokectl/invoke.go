package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/llm/transport"
	"github.com/ahrav/go-invoker/internal/worker"
)

type invokeFlags struct {
	model      string
	payload    string
	prefer     string
	operation  string
	noFallback bool
	fresh      bool
	maxRetries int
}

// invokeReport is printed after every invocation.
type invokeReport struct {
	Result  *invoke.Result             `json:"result,omitempty"`
	Failure *llmerrors.InvocationError `json:"failure,omitempty"`
	Health  []health.Snapshot          `json:"health"`
}

func newInvokeCmd(root *rootOptions) *cobra.Command {
	f := &invokeFlags{}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a logical model or vendor binding",
		Long: `Invoke runs one logical invocation and prints the result or the
failure payload together with the vendor health report.

The payload is a JSON document, or @path to read it from a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInvoke(cmd, root, f)
		},
	}

	cmd.Flags().StringVar(&f.model, "model", "", "logical model name or vendor binding id")
	cmd.Flags().StringVar(&f.payload, "payload", "{}", "JSON payload or @file")
	cmd.Flags().StringVar(&f.prefer, "prefer", "", "binding id or vendor name to try first")
	cmd.Flags().StringVar(&f.operation, "operation", string(transport.OpInvoke), "operation label for logs and metrics")
	cmd.Flags().BoolVar(&f.noFallback, "no-fallback", false, "try a single vendor only")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "reset the model's vendor health first")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "additional vendors to try (config default when unset)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func runInvoke(cmd *cobra.Command, root *rootOptions, f *invokeFlags) error {
	payload, err := readPayload(f.payload)
	if err != nil {
		return err
	}

	cfg, err := root.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	stack, err := worker.Build(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()

	opts := invoke.OptionsFromConfig(cfg.Invoke)
	opts.PreferVendor = f.prefer
	opts.FreshStart = f.fresh
	opts.Operation = transport.OperationType(f.operation)
	if f.noFallback {
		opts.FallbackEnabled = false
	}
	if cmd.Flags().Changed("max-retries") {
		if f.maxRetries < 0 {
			return fmt.Errorf("--max-retries must be >= 0, got %d", f.maxRetries)
		}
		opts.MaxRetries = f.maxRetries
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, invokeErr := stack.Orchestrator.Invoke(ctx, f.model, payload, opts)

	report := invokeReport{Result: res, Health: stack.Orchestrator.HealthReport()}
	if invokeErr != nil {
		var invErr *llmerrors.InvocationError
		if !errors.As(invokeErr, &invErr) {
			return invokeErr
		}
		report.Failure = invErr
	}

	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Failure != nil {
		return fmt.Errorf("invocation failed: %s", report.Failure.Category)
	}
	return nil
}

// readPayload returns the literal JSON or the contents of @path.
func readPayload(arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		data, err = os.ReadFile(path) //nolint:gosec // operator-supplied payload path
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
