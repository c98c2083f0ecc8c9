package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-invoker/internal/llm/configuration"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "invokectl",
		Short: "Resilient multi-vendor model invocation",
		Long: `invokectl invokes logical models across their vendor bindings with
per-vendor retries, circuit breaking and failover.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (defaults are used when empty)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newInvokeCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newWorkerCmd(opts))
	return cmd
}

// loadConfig reads the config file, or the defaults when no path is given,
// and installs the process logger.
func (o *rootOptions) loadConfig(stderr io.Writer) (*configuration.Config, error) {
	var (
		cfg *configuration.Config
		err error
	)
	if o.configPath == "" {
		_ = godotenv.Load()
		cfg = configuration.DefaultConfig()
	} else {
		cfg, err = configuration.Load(o.configPath)
		if err != nil {
			return nil, err
		}
	}

	slog.SetDefault(newLogger(stderr, cfg.Observability, o.debug))
	return cfg, nil
}

func newLogger(w io.Writer, cfg configuration.ObservabilityConfig, debug bool) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if debug {
		level = slog.LevelDebug
	}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
