package config

import (
	"fmt"

	"github.com/dshills/fluxkit/dispatch"
	"github.com/dshills/fluxkit/middleware"
)

// Build assembles a dispatcher from the configuration. The logger is only
// used when audit logging is enabled and may be nil. Script paths are
// resolved relative to the working directory. The returned cleanup releases
// the Lua states backing script middleware and must be called when the
// dispatcher is discarded; it is never nil on success.
func Build(cfg Config, logger middleware.Logger) (*dispatch.Dispatcher, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	opts := []dispatch.Option{}
	if cfg.Metrics {
		opts = append(opts, dispatch.WithMetrics())
	}
	if cfg.MaxDepth > 0 {
		opts = append(opts, dispatch.WithMaxDepth(cfg.MaxDepth))
	}

	d := dispatch.New(opts...)

	var scripts []*middleware.ScriptMiddleware
	cleanup := func() error {
		var firstErr error
		for _, sm := range scripts {
			if err := sm.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	fail := func(err error) (*dispatch.Dispatcher, func() error, error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.Audit {
		if err := d.Use(middleware.Audit(logger)); err != nil {
			return fail(err)
		}
	}
	if cfg.Tracing {
		if err := d.Use(middleware.Tracing()); err != nil {
			return fail(err)
		}
	}
	for _, path := range cfg.Scripts {
		sm, err := middleware.ScriptFile(path)
		if err != nil {
			return fail(fmt.Errorf("script %s: %w", path, err))
		}
		scripts = append(scripts, sm)
		if err := d.Use(sm.Middleware()); err != nil {
			return fail(err)
		}
	}

	return d, cleanup, nil
}
