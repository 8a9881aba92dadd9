package dispatch

import (
	"context"
	"fmt"
)

// runState tracks a handler's progress within one dispatch cycle.
// States are monotonic: pending -> running -> done, visited at most once.
type runState int

const (
	statePending runState = iota
	stateRunning
	stateDone
)

// String returns a human-readable state name.
func (s runState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateRunning:
		return "running"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// cycle holds the execution state for one dispatch of one action. A cycle is
// created when the terminal stage is entered and discarded when every
// handler is done or the dispatch aborts. Nested dispatches get their own
// cycle; state is never shared between cycles.
type cycle struct {
	d      *Dispatcher
	action any

	// Snapshot of the registry at terminal-stage entry.
	order    []RegistrationID
	handlers map[RegistrationID]Handler

	// Per-handler execution state.
	states map[RegistrationID]runState

	// waiting maps a running handler to the handler it is currently waiting
	// on, forming the chain used for deadlock tracing.
	waiting map[RegistrationID]RegistrationID

	// stack is the chain of currently executing handlers; the top entry is
	// the handler whose body has control.
	stack []RegistrationID

	// fatal is set when the cycle must abort regardless of what handler
	// bodies return (deadlock detection).
	fatal error
}

// cycleCtxKey carries the active cycle through context.Context so that
// WaitFor can find it without any dispatcher-global state.
type cycleCtxKey struct{}

func withCycle(ctx context.Context, c *cycle) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, c)
}

func cycleFrom(ctx context.Context) (*cycle, bool) {
	c, ok := ctx.Value(cycleCtxKey{}).(*cycle)
	return c, ok
}

// newCycle snapshots the registry and prepares execution state.
func newCycle(d *Dispatcher, action any) *cycle {
	order, handlers := d.registry.snapshot()
	states := make(map[RegistrationID]runState, len(order))
	for _, id := range order {
		states[id] = statePending
	}
	return &cycle{
		d:        d,
		action:   action,
		order:    order,
		handlers: handlers,
		states:   states,
		waiting:  make(map[RegistrationID]RegistrationID),
	}
}

// execute runs every handler exactly once in registration order, except
// where WaitFor pulls a handler forward. Handlers unregistered after the
// snapshot but before their turn are skipped.
func (c *cycle) execute(ctx context.Context) error {
	ctx = withCycle(ctx, c)

	for _, id := range c.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.states[id] != statePending {
			continue
		}
		if !c.d.registry.Has(id) {
			continue
		}
		if err := c.run(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// run executes a single pending handler to completion.
func (c *cycle) run(ctx context.Context, id RegistrationID) error {
	c.states[id] = stateRunning
	c.stack = append(c.stack, id)

	err := c.handlers[id].Handle(ctx, c.action)

	c.stack = c.stack[:len(c.stack)-1]
	if err != nil {
		return err
	}
	// A deadlock aborts the cycle even if the handler body discarded the
	// error returned by WaitFor.
	if c.fatal != nil {
		return c.fatal
	}
	c.states[id] = stateDone
	return nil
}

// current returns the handler whose body has control, if any.
func (c *cycle) current() (RegistrationID, bool) {
	if len(c.stack) == 0 {
		return "", false
	}
	return c.stack[len(c.stack)-1], true
}

// waitFor resolves each dependency in order, fully completing one before
// starting the next. Unknown or unregistered ids are treated as satisfied.
func (c *cycle) waitFor(ctx context.Context, ids []RegistrationID) error {
	caller, ok := c.current()
	if !ok {
		return ErrNotDispatching
	}

	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("wait-for ids[%d]: %w", i, ErrEmptyID)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		state, known := c.states[id]
		if !known {
			continue // never part of this cycle
		}

		switch state {
		case stateDone:
			continue
		case stateRunning:
			err := &DeadlockError{Chain: c.traceChain(caller, id)}
			c.fatal = err
			return err
		case statePending:
			if !c.d.registry.Has(id) {
				continue // unregistered mid-cycle, treated as satisfied
			}
			c.waiting[caller] = id
			err := c.run(ctx, id)
			delete(c.waiting, caller)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// traceChain reconstructs the waiting path from the blocked target back to
// the caller: caller -> target -> ... -> caller. The walk follows the
// waiting map, so rings of arbitrary length are traced in full.
func (c *cycle) traceChain(caller, target RegistrationID) []RegistrationID {
	if target == caller {
		return []RegistrationID{caller, caller}
	}

	chain := []RegistrationID{caller, target}
	seen := map[RegistrationID]bool{caller: true, target: true}

	for id := target; ; {
		next, ok := c.waiting[id]
		if !ok {
			break
		}
		chain = append(chain, next)
		if next == caller || seen[next] {
			return chain
		}
		seen[next] = true
		id = next
	}
	chain = append(chain, caller)
	return chain
}
