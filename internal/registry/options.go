package registry

import "github.com/rbx/ODC/types"

// Option configures a Registry with optional dependencies.
type Option func(*registryOptions)

type registryOptions struct {
	hooks   types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger
}

// WithHooks sets the lifecycle event hooks invoked on restore failure and
// partition shutdown.
func WithHooks(hooks types.Hooks) Option {
	return func(o *registryOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *registryOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(o *registryOptions) {
		o.logger = logger
	}
}
