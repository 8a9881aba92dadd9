// Package middleware provides ready-made middleware for the fluxkit
// dispatcher.
//
//   - Audit logs dispatch start, completion, and failure through a small
//     Logger interface supplied by the caller.
//   - Tracing opens an OpenTelemetry span around the downstream chain and
//     handler execution.
//   - Script runs a sandboxed Lua interceptor that can observe, veto, or
//     replace actions. It owns a Lua state; close it when the dispatcher is
//     discarded.
//
// Middleware compose with caller-supplied middleware in registration order:
//
//	d := dispatch.New()
//	d.Use(middleware.Audit(logger))
//	d.Use(middleware.Tracing())
//
//	sm, err := middleware.Script(source)
//	if err != nil {
//	    return err
//	}
//	defer sm.Close()
//	d.Use(sm.Middleware())
package middleware
