// Package worker is the composition root of the invocation layer. It builds
// the orchestrator and its collaborators from configuration and registers
// the Temporal workflow and activity.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/configuration"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/llm/ratelimit"
	"github.com/ahrav/go-invoker/internal/llm/resilience"
	"github.com/ahrav/go-invoker/internal/llm/retry"
	"github.com/ahrav/go-invoker/internal/llm/selector"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// Stack is a fully wired invocation layer.
type Stack struct {
	Config       *configuration.Config
	Catalog      *catalog.Memory
	Health       *health.Registry
	Coordinator  *retry.Coordinator
	Selector     *selector.Selector
	Orchestrator *invoke.Orchestrator
	// Limiter is nil when rate limiting is disabled.
	Limiter *ratelimit.Limiter
	// Gatherer exposes the registered metrics, nil when metrics are disabled.
	Gatherer prometheus.Gatherer

	redis *redis.Client
}

type buildOptions struct {
	caller     transport.Handler
	registry   *prometheus.Registry
	logger     *slog.Logger
	redis      *redis.Client
	httpClient *http.Client
}

// Option customizes Build.
type Option func(*buildOptions)

// WithCaller replaces the HTTP backend caller.
func WithCaller(h transport.Handler) Option {
	return func(o *buildOptions) { o.caller = h }
}

// WithPrometheusRegistry registers metrics with reg instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithLogger sets the base logger handed to each component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRedisClient uses client for the probe guard instead of dialing
// Config.Redis.Addr. The caller keeps ownership of client.
func WithRedisClient(client *redis.Client) Option {
	return func(o *buildOptions) { o.redis = client }
}

// WithHTTPClient sets the client used by the default caller.
func WithHTTPClient(client *http.Client) Option {
	return func(o *buildOptions) { o.httpClient = client }
}

// Build validates cfg and wires catalog, health registry, transport chain,
// selector, coordinator and orchestrator. A nil cfg uses DefaultConfig.
func Build(cfg *configuration.Config, opts ...Option) (*Stack, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cat, err := catalog.NewMemory(cfg.Bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	stack := &Stack{Config: cfg, Catalog: cat}

	var metrics resilience.Metrics = resilience.NewNoOpMetrics()
	if cfg.Observability.MetricsEnabled {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		metrics = resilience.NewPrometheusMetrics(reg)
		stack.Gatherer = reg
	}

	stack.Health = health.NewRegistry(health.WithLogger(o.logger.With("component", "health")))

	handler, limiter, err := buildCaller(cfg, o, metrics)
	if err != nil {
		return nil, err
	}
	stack.Limiter = limiter

	coordOpts := []retry.Option{
		retry.WithMetrics(metrics),
		retry.WithLogger(o.logger.With("component", "retry")),
	}
	if client := o.redis; client != nil || cfg.Redis.Addr != "" {
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			stack.redis = client
		}
		coordOpts = append(coordOpts, retry.WithProbeGuard(health.NewRedisProbeGuard(client), cfg.Redis.ProbeTimeout))
	}
	stack.Coordinator = retry.New(stack.Health, coordOpts...)

	strategy, err := selector.ParseStrategy(cfg.Selection.Strategy)
	if err != nil {
		return nil, stack.closeOnError(err)
	}
	stack.Selector = selector.New(cat, stack.Health, strategy, cfg.Retry.Cooldown, nil)

	stack.Orchestrator, err = invoke.New(cat, stack.Selector, stack.Coordinator, handler, cfg.Retry,
		invoke.WithMetrics(metrics),
		invoke.WithLogger(o.logger.With("component", "invoke")))
	if err != nil {
		return nil, stack.closeOnError(err)
	}

	o.logger.Info("invocation stack ready",
		"bindings", len(cfg.Bindings),
		"strategy", strategy.Name(),
		"rate_limit", cfg.RateLimit.Enabled,
		"probe_guard", o.redis != nil || cfg.Redis.Addr != "",
		"metrics", cfg.Observability.MetricsEnabled)
	return stack, nil
}

// buildCaller assembles the transport chain: logging, idempotency key,
// rate limit, then the backend caller.
func buildCaller(cfg *configuration.Config, o buildOptions, metrics resilience.Metrics) (transport.Handler, *ratelimit.Limiter, error) {
	caller := o.caller
	if caller == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		caller = transport.NewHTTPHandler(client)
	}

	middlewares := []transport.Middleware{
		resilience.NewLoggingMiddleware(cfg.Observability, o.logger.With("component", "caller"), metrics),
		transport.IdempotencyMiddleware(),
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var err error
		limiter, err = ratelimit.New(cfg.RateLimit, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build rate limiter: %w", err)
		}
		middlewares = append(middlewares, limiter.Middleware())
	}

	return transport.Chain(caller, middlewares...), limiter, nil
}

func (s *Stack) closeOnError(err error) error {
	return errors.Join(err, s.Close())
}

// Close releases the Redis client when Build created it.
func (s *Stack) Close() error {
	if s.redis == nil {
		return nil
	}
	err := s.redis.Close()
	s.redis = nil
	return err
}
