package dispatch

// Config holds dispatcher configuration options.
type Config struct {
	// EnableMetrics enables per-action-type dispatch statistics collection.
	EnableMetrics bool

	// MaxDepth limits how deeply dispatches may nest (re-entrant Dispatch
	// calls and Context.Dispatch). Zero means no limit.
	MaxDepth int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableMetrics: false,
		MaxDepth:      0,
	}
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithMetrics enables dispatch statistics collection.
func WithMetrics() Option {
	return func(c *Config) {
		c.EnableMetrics = true
	}
}

// WithMaxDepth sets the maximum dispatch nesting depth.
func WithMaxDepth(depth int) Option {
	return func(c *Config) {
		if depth >= 0 {
			c.MaxDepth = depth
		}
	}
}
