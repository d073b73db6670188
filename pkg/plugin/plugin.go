package plugin

import "log/slog"

// Plugin is a delegated logic module shipped outside the node binary.
type Plugin interface {
	// Info returns the static metadata for the module.
	Info() Info
	// Configure lets the module inspect its configuration block before deployment.
	Configure(cfg map[string]any) error
	// Code returns the value installed in the VM registry. It must implement
	// vm.Logic, vm.Receiver or both.
	Code() any
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithLogger sets the logger used for deployment messages.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}
