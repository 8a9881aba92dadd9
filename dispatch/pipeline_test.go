package dispatch

import (
	"context"
	"errors"
	"testing"
)

func TestMiddleware_UseNil(t *testing.T) {
	d := New()
	if err := d.Use(nil); err != ErrNilMiddleware {
		t.Errorf("expected ErrNilMiddleware, got %v", err)
	}
}

func TestMiddleware_OnionExecutionOrder(t *testing.T) {
	d := New()
	var trace []string

	d.RegisterFunc(func(ctx context.Context, action any) error {
		trace = append(trace, "handler")
		return nil
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "m1-before")
		err := mc.Next(ctx)
		trace = append(trace, "m1-after")
		return err
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "m2-before")
		err := mc.Next(ctx)
		trace = append(trace, "m2-after")
		return err
	})

	if err := d.Dispatch(context.Background(), "go"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	assertOrder(t, trace, "m1-before", "m2-before", "handler", "m2-after", "m1-after")
}

func TestMiddleware_TypeFilterSkipsNonMatching(t *testing.T) {
	d := New()
	var trace []string

	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "any")
		return mc.Next(ctx)
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "int-only")
		return mc.Next(ctx)
	}, ForType[int]())
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "string-only")
		return mc.Next(ctx)
	}, ForType[string]())

	if err := d.Dispatch(context.Background(), "hello"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	// The int-only middleware is skipped entirely, not invoked.
	assertOrder(t, trace, "any", "string-only")

	trace = nil
	if err := d.Dispatch(context.Background(), 7); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	assertOrder(t, trace, "any", "int-only")
}

func TestMiddleware_NilActionTypeCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		accepts func(any) bool
		want    bool
	}{
		{"any", typeFilter[any](), true},
		{"pointer", typeFilter[*int](), true},
		{"map", typeFilter[map[string]int](), true},
		{"slice", typeFilter[[]byte](), true},
		{"plain int", typeFilter[int](), false},
		{"plain string", typeFilter[string](), false},
		{"struct", typeFilter[struct{}](), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.accepts(nil); got != tt.want {
				t.Errorf("accepts(nil) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMiddleware_TypeFilterMatchesInterfaces(t *testing.T) {
	accepts := typeFilter[error]()
	if !accepts(errors.New("x")) {
		t.Error("expected error value to match ForType[error]")
	}
	if accepts("not an error") {
		t.Error("expected string to not match ForType[error]")
	}
}

func TestMiddleware_ForFilterPredicate(t *testing.T) {
	d := New()
	var trace []string

	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "filtered")
		return mc.Next(ctx)
	}, ForFilter(func(action any) bool {
		s, ok := action.(string)
		return ok && s == "match"
	}))

	d.Dispatch(context.Background(), "match")
	d.Dispatch(context.Background(), "other")

	assertOrder(t, trace, "filtered")
}

func TestMiddleware_NextWithReplacesDownstreamAction(t *testing.T) {
	d := New()

	var handlerSaw any
	var downstreamSaw any
	var callerSaw any

	d.RegisterFunc(func(ctx context.Context, action any) error {
		handlerSaw = action
		return nil
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		err := mc.NextWith(ctx, "replaced")
		callerSaw = mc.Action() // unchanged by its own NextWith
		return err
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		downstreamSaw = mc.Action()
		return mc.Next(ctx)
	})

	if err := d.Dispatch(context.Background(), "original"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if callerSaw != "original" {
		t.Errorf("caller saw %v, want original", callerSaw)
	}
	if downstreamSaw != "replaced" {
		t.Errorf("downstream saw %v, want replaced", downstreamSaw)
	}
	if handlerSaw != "replaced" {
		t.Errorf("handler saw %v, want replaced", handlerSaw)
	}
}

func TestMiddleware_DispatchShortCircuits(t *testing.T) {
	d := New()
	var trace []string

	d.RegisterFunc(func(ctx context.Context, action any) error {
		trace = append(trace, "handler:"+action.(string))
		return nil
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "m1-before")
		if err := mc.Dispatch(ctx, "direct"); err != nil {
			return err
		}
		trace = append(trace, "m1-cleanup")
		return nil // never calls Next
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "m2")
		return mc.Next(ctx)
	})

	if err := d.Dispatch(context.Background(), "original"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	// m2 is never invoked; handler runs once with the short-circuit action,
	// and m1 continues its own body after Dispatch returns.
	assertOrder(t, trace, "m1-before", "handler:direct", "m1-cleanup")
}

func TestMiddleware_TerminatingWithoutNextStopsChain(t *testing.T) {
	d := New()
	var trace []string

	d.RegisterFunc(func(ctx context.Context, action any) error {
		trace = append(trace, "handler")
		return nil
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "gate")
		return nil // no Next, no Dispatch
	})
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "unreachable")
		return mc.Next(ctx)
	})

	if err := d.Dispatch(context.Background(), "go"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	assertOrder(t, trace, "gate")
}

func TestMiddleware_StaleContextRejected(t *testing.T) {
	d := New()

	var stale *Context
	d.Use(func(ctx context.Context, mc *Context) error {
		stale = mc
		return mc.Next(ctx)
	})

	if err := d.Dispatch(context.Background(), "go"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}

	if err := stale.Next(context.Background()); err != ErrStaleContext {
		t.Errorf("expected ErrStaleContext from Next, got %v", err)
	}
	if err := stale.Dispatch(context.Background(), "again"); err != ErrStaleContext {
		t.Errorf("expected ErrStaleContext from Dispatch, got %v", err)
	}
}

func TestMiddleware_ErrorPropagatesThroughChain(t *testing.T) {
	d := New()
	boom := errors.New("boom")

	d.RegisterFunc(func(ctx context.Context, action any) error {
		return boom
	})

	var sawErr error
	d.Use(func(ctx context.Context, mc *Context) error {
		sawErr = mc.Next(ctx)
		return sawErr
	})

	if err := d.Dispatch(context.Background(), "go"); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if !errors.Is(sawErr, boom) {
		t.Errorf("expected middleware to observe the handler error, got %v", sawErr)
	}
	if d.IsDispatching() {
		t.Error("expected IsDispatching() to be false after failure")
	}
}

func TestMiddleware_ChainRebuiltPerDispatch(t *testing.T) {
	d := New()
	var count int

	d.Use(func(ctx context.Context, mc *Context) error {
		count++
		return mc.Next(ctx)
	}, ForType[string]())

	d.Dispatch(context.Background(), "one")
	d.Dispatch(context.Background(), 2)
	d.Dispatch(context.Background(), "three")

	if count != 2 {
		t.Errorf("expected middleware to run for 2 of 3 dispatches, got %d", count)
	}
}

func TestMiddleware_NestedDispatchFromHandlerRunsPipeline(t *testing.T) {
	d := New()
	var trace []string

	type inner struct{}
	d.Use(func(ctx context.Context, mc *Context) error {
		trace = append(trace, "mw")
		return mc.Next(ctx)
	})
	d.RegisterFunc(func(ctx context.Context, action any) error {
		if _, nested := action.(inner); nested {
			trace = append(trace, "handler-inner")
			return nil
		}
		trace = append(trace, "handler-outer")
		return d.Dispatch(ctx, inner{})
	})

	if err := d.Dispatch(context.Background(), "outer"); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	// A re-entrant top-level dispatch builds its own chain.
	assertOrder(t, trace, "mw", "handler-outer", "mw", "handler-inner")
}
