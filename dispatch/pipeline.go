package dispatch

import (
	"context"
	"reflect"
	"sync/atomic"
)

// MiddlewareFunc is the body of a middleware. It receives the cancellation
// context threaded from Dispatch and a Context controlling how the chain
// proceeds. Returning without calling Next, NextWith, or Dispatch terminates
// the chain; nothing downstream (including handler execution) runs.
type MiddlewareFunc func(ctx context.Context, mc *Context) error

// middlewareEntry is one registered middleware with its action-type filter.
// Entries are immutable once registered and keep their insertion order for
// the dispatcher's lifetime.
type middlewareEntry struct {
	order   int
	accepts func(action any) bool
	fn      MiddlewareFunc
}

// MiddlewareOption configures a middleware registration.
type MiddlewareOption func(*middlewareEntry)

// ForFilter restricts a middleware to actions accepted by the predicate.
func ForFilter(accepts func(action any) bool) MiddlewareOption {
	return func(e *middlewareEntry) {
		if accepts != nil {
			e.accepts = accepts
		}
	}
}

// ForType restricts a middleware to actions whose runtime type is
// assignable to T. A nil action matches only when T can hold nil (pointer,
// interface, map, slice, chan, or func kinds).
func ForType[T any]() MiddlewareOption {
	return ForFilter(typeFilter[T]())
}

// typeFilter builds the accepts predicate for ForType.
func typeFilter[T any]() func(any) bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return func(action any) bool {
		if action == nil {
			return nilAssignable(t)
		}
		_, ok := action.(T)
		return ok
	}
}

// nilAssignable reports whether a nil action is compatible with t.
func nilAssignable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice,
		reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}

// builtChain is the per-dispatch subsequence of middleware whose filters
// accept the dispatched action. It is discarded when the dispatch unwinds;
// a Context retained past that point fails with ErrStaleContext.
type builtChain struct {
	d       *Dispatcher
	entries []*middlewareEntry
	active  atomic.Bool
}

// invokeFrom runs the chain starting at entry idx with the given action.
// Past the last entry it invokes the terminal stage: handler execution for
// the final action value.
func (bc *builtChain) invokeFrom(ctx context.Context, idx int, action any) error {
	if idx >= len(bc.entries) {
		return newCycle(bc.d, action).execute(ctx)
	}
	mc := &Context{chain: bc, index: idx, action: action}
	return bc.entries[idx].fn(ctx, mc)
}

// Context is the per-middleware execution context. Each middleware in a
// chain receives its own Context; the action it observes is fixed when the
// context is created and is not affected by its own NextWith call.
type Context struct {
	chain  *builtChain
	index  int
	action any
}

// Action returns the action value the current middleware should observe:
// whatever the nearest upstream caller passed in, or the originally
// dispatched action for the first middleware.
func (c *Context) Action() any {
	return c.action
}

// Next continues the chain with the same action value. It returns once the
// downstream portion of the chain, and ultimately handler execution, has
// completed. If this is the last entry, handler execution runs directly.
func (c *Context) Next(ctx context.Context) error {
	return c.next(ctx, c.action)
}

// NextWith continues the chain with a replacement action. Every downstream
// middleware and the terminal stage observe the new value; the calling
// middleware's own Action is unchanged.
func (c *Context) NextWith(ctx context.Context, action any) error {
	return c.next(ctx, action)
}

func (c *Context) next(ctx context.Context, action any) error {
	if !c.chain.active.Load() {
		return ErrStaleContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.chain.invokeFrom(ctx, c.index+1, action)
}

// Dispatch short-circuits the chain: it immediately runs handler execution
// for the given action, bypassing every remaining middleware, and returns
// once that cycle completes. The calling middleware's chain position is not
// advanced; if it never calls Next afterwards, the remaining middleware are
// simply never invoked for this dispatch.
func (c *Context) Dispatch(ctx context.Context, action any) error {
	if !c.chain.active.Load() {
		return ErrStaleContext
	}
	return c.chain.d.dispatchNested(ctx, action)
}
