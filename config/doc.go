// Package config provides file-based configuration for a fluxkit
// dispatcher: a TOML schema, a loader, a builder that assembles a
// dispatcher with the configured middleware, and a file watcher for live
// reload.
//
// A minimal config file:
//
//	metrics = true
//	audit = true
//	tracing = false
//	scripts = ["interceptors/veto.lua"]
//	max_depth = 64
//
// Loading and building:
//
//	cfg, err := config.Load("fluxkit.toml")
//	if err != nil {
//	    return err
//	}
//	d, cleanup, err := config.Build(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
package config
