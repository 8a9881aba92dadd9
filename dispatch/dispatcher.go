package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher is the single entry point for broadcasting actions to
// registered handlers through the middleware pipeline. It is safe for
// concurrent use; each Dispatch call runs its own independent cycle.
type Dispatcher struct {
	registry *Registry

	mu         sync.RWMutex
	middleware []*middlewareEntry

	// depth counts in-flight cycles, including nested ones, so an inner
	// cycle completing first cannot clear the dispatching indicator of an
	// outer cycle.
	depth atomic.Int32

	config  Config
	metrics *Metrics
}

// New creates a dispatcher with the given options.
func New(opts ...Option) *Dispatcher {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		registry: NewRegistry(),
		config:   cfg,
	}
	if cfg.EnableMetrics {
		d.metrics = NewMetrics()
	}
	return d
}

// Register adds a handler and returns its registration id. See
// Registry.Register for the de-duplication rules.
func (d *Dispatcher) Register(h Handler) (RegistrationID, error) {
	return d.registry.Register(h)
}

// RegisterFunc registers a plain function as a handler.
func (d *Dispatcher) RegisterFunc(fn HandlerFunc) (RegistrationID, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	return d.registry.Register(fn)
}

// Unregister removes the registration with the given id. It returns true if
// a registration was removed and false if the id is unknown.
func (d *Dispatcher) Unregister(id RegistrationID) (bool, error) {
	return d.registry.Unregister(id)
}

// UnregisterHandler removes a registration by handler identity.
func (d *Dispatcher) UnregisterHandler(h Handler) (bool, error) {
	return d.registry.UnregisterHandler(h)
}

// Registry returns the dispatcher's handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Use appends a middleware to the pipeline. Middleware execute in
// registration order; an optional ForType or ForFilter option restricts the
// actions the middleware participates in.
func (d *Dispatcher) Use(fn MiddlewareFunc, opts ...MiddlewareOption) error {
	if fn == nil {
		return ErrNilMiddleware
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e := &middlewareEntry{order: len(d.middleware), fn: fn}
	for _, opt := range opts {
		opt(e)
	}
	d.middleware = append(d.middleware, e)
	return nil
}

// IsDispatching reports whether any dispatch cycle is in flight.
func (d *Dispatcher) IsDispatching() bool {
	return d.depth.Load() > 0
}

// Dispatch broadcasts an action: it builds the middleware chain for the
// action, runs it to completion, and returns once every applicable handler
// has finished. Actions may be any value, including nil. Errors from
// handlers and middleware propagate unchanged; the dispatching indicator is
// cleared on every exit path.
func (d *Dispatcher) Dispatch(ctx context.Context, action any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()

	start := time.Now()
	err := d.runChain(ctx, action)
	if d.metrics != nil {
		d.metrics.Record(actionTypeName(action), time.Since(start), err)
	}
	return err
}

// WaitFor blocks until each referenced handler has completed within the
// current dispatch cycle, executing not-yet-started handlers immediately.
// It is callable only from inside a handler body of this dispatcher's
// current cycle; ids that are unknown, unregistered, or already done are
// treated as satisfied. A cyclical wait fails with a DeadlockError that
// aborts the whole dispatch.
func (d *Dispatcher) WaitFor(ctx context.Context, ids ...RegistrationID) error {
	c, ok := cycleFrom(ctx)
	if !ok || c.d != d {
		return ErrNotDispatching
	}
	if len(ids) == 0 {
		return ErrNoIDs
	}
	return c.waitFor(ctx, ids)
}

// WaitForHandlers resolves each handler to its registration id and waits
// for it like WaitFor. Handlers that are not registered are treated as
// satisfied; a nil handler in the list is an error naming its position.
// Func handlers cannot be resolved by identity (see Registry.Lookup) and
// must be waited on by id instead.
func (d *Dispatcher) WaitForHandlers(ctx context.Context, handlers ...Handler) error {
	c, ok := cycleFrom(ctx)
	if !ok || c.d != d {
		return ErrNotDispatching
	}
	if len(handlers) == 0 {
		return ErrNoHandlers
	}

	ids := make([]RegistrationID, 0, len(handlers))
	for i, h := range handlers {
		if isNilHandler(h) {
			return fmt.Errorf("wait-for handlers[%d]: %w", i, ErrNilHandler)
		}
		id, registered := d.registry.Lookup(h)
		if !registered {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	return c.waitFor(ctx, ids)
}

// runChain builds the filtered middleware chain for the action and drives
// it; chain exhaustion reaches the terminal stage (handler execution).
func (d *Dispatcher) runChain(ctx context.Context, action any) error {
	bc := d.buildChain(action)
	bc.active.Store(true)
	defer bc.active.Store(false)
	return bc.invokeFrom(ctx, 0, action)
}

// buildChain filters the fixed-order middleware list down to the entries
// whose filters accept the action entering the chain. Non-matching entries
// are skipped entirely.
func (d *Dispatcher) buildChain(action any) *builtChain {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]*middlewareEntry, 0, len(d.middleware))
	for _, e := range d.middleware {
		if e.accepts == nil || e.accepts(action) {
			entries = append(entries, e)
		}
	}
	return &builtChain{d: d, entries: entries}
}

// dispatchNested runs an independent cycle for Context.Dispatch, bypassing
// the middleware pipeline.
func (d *Dispatcher) dispatchNested(ctx context.Context, action any) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()

	if err := ctx.Err(); err != nil {
		return err
	}
	return newCycle(d, action).execute(ctx)
}

func (d *Dispatcher) enter() error {
	depth := d.depth.Add(1)
	if d.config.MaxDepth > 0 && int(depth) > d.config.MaxDepth {
		d.depth.Add(-1)
		return ErrDepthExceeded
	}
	return nil
}

func (d *Dispatcher) leave() {
	d.depth.Add(-1)
}
