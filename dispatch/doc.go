// Package dispatch provides an in-process, flux-style action dispatcher.
//
// A Dispatcher broadcasts opaque action values to a set of registered
// handlers. Two capabilities are layered on top of plain broadcast:
//
//   - Handlers may declare run-before dependencies on other handlers while
//     they execute, via WaitFor. The dispatcher resolves these dependencies
//     on the fly and detects cyclical waits.
//   - An ordered chain of middleware may observe, transform, short-circuit,
//     or re-trigger a dispatch before any handler runs.
//
// # Handlers and Registration
//
// Anything implementing Handler can be registered; HandlerFunc adapts plain
// functions. Registration returns a stable RegistrationID usable with
// WaitFor and Unregister:
//
//	d := dispatch.New()
//	id, err := d.Register(store)       // store implements Handler
//	id2, err := d.RegisterFunc(func(ctx context.Context, action any) error {
//	    return nil
//	})
//
// Registering the same handler twice returns the existing id; the handler is
// invoked once per dispatch regardless.
//
// # Dispatching
//
// Dispatch runs every registered handler exactly once, in registration
// order, and returns when all of them have completed:
//
//	if err := d.Dispatch(ctx, AddTodo{Title: "write docs"}); err != nil {
//	    log.Fatal(err)
//	}
//
// Handlers run one at a time on the dispatching goroutine. There is no
// parallelism within a dispatch cycle; the engine provides ordering
// guarantees, not throughput.
//
// # Dependencies
//
// A handler that needs another handler's work to be finished first calls
// WaitFor with the target's registration id:
//
//	d.RegisterFunc(func(ctx context.Context, action any) error {
//	    if err := d.WaitFor(ctx, storeID); err != nil {
//	        return err
//	    }
//	    // storeID's handler has completed for this action
//	    return nil
//	})
//
// If the target has not started yet it is executed immediately, ahead of
// registration order. If the target is itself (directly or transitively)
// waiting on the caller, the dispatch fails with a DeadlockError and the
// whole cycle is aborted.
//
// # Middleware
//
// Middleware wraps handler execution in onion style. Each middleware
// receives a Context and decides how the dispatch proceeds:
//
//	d.Use(func(ctx context.Context, mc *dispatch.Context) error {
//	    // before
//	    err := mc.Next(ctx) // run downstream middleware and all handlers
//	    // after
//	    return err
//	}, dispatch.ForType[AddTodo]())
//
// Context.NextWith replaces the action seen by downstream stages.
// Context.Dispatch invokes handler execution immediately for a new action,
// bypassing the remaining middleware. A middleware that returns without
// calling either terminates the chain; nothing downstream runs.
//
// Middleware with a type filter is skipped entirely when the dispatched
// action's type does not match; it does not appear in the execution at all.
//
// # Errors
//
// Errors returned by handlers or middleware propagate unchanged to the
// Dispatch caller. The engine adds only its own contract failures: argument
// validation errors and DeadlockError. Handlers that completed before a
// failure keep their side effects; nothing is rolled back.
package dispatch
