package dispatch

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// RegistrationID uniquely identifies a registered handler for the lifetime
// of its registration. Ids are never reused for a different handler.
type RegistrationID string

// Handler is the interface for action handlers.
type Handler interface {
	// Handle processes a dispatched action.
	// The action parameter is type-erased; handlers should type-assert.
	Handle(ctx context.Context, action any) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, action any) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, action any) error {
	return f(ctx, action)
}

// identityKey identifies a handler for de-duplication. Comparable dynamic
// types compare as interface values; handlers without a comparable identity
// (funcs, non-comparable structs) get a fresh sequence number per
// registration.
type identityKey struct {
	value any
	seq   uint64
}

// registration pairs an id with its handler.
type registration struct {
	id      RegistrationID
	handler Handler
	key     identityKey
}

// Registry owns the mapping from handler identity to registration id.
// It is thread-safe and may be mutated while a dispatch is in flight:
// handlers unregistered before their turn are skipped, handlers that have
// already run keep their completion state.
type Registry struct {
	mu    sync.RWMutex
	order []RegistrationID
	byID  map[RegistrationID]*registration
	byKey map[identityKey]RegistrationID
	seq   uint64
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[RegistrationID]*registration),
		byKey: make(map[identityKey]RegistrationID),
	}
}

// Register adds a handler and returns its registration id. Handlers with a
// comparable dynamic type (store pointers, struct values) de-duplicate by
// value: registering the same store twice returns the existing id. Func
// handlers and handlers with a non-comparable dynamic type have no stable
// identity in Go, so every Register call creates a fresh registration; in
// particular, two closures built from the same literal are distinct handlers
// and both run. Unregister such handlers by the returned id.
func (r *Registry) Register(h Handler) (RegistrationID, error) {
	if isNilHandler(h) {
		return "", ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key, unique := r.identity(h)
	if !unique {
		if id, ok := r.byKey[key]; ok {
			return id, nil
		}
	}

	id := RegistrationID(uuid.NewString())
	reg := &registration{id: id, handler: h, key: key}
	r.byID[id] = reg
	r.byKey[key] = id
	r.order = append(r.order, id)
	return id, nil
}

// Unregister removes the registration with the given id. It returns true if
// a registration was removed and false if the id is unknown or already
// removed. An empty id is an error.
func (r *Registry) Unregister(id RegistrationID) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return false, nil
	}

	delete(r.byID, id)
	delete(r.byKey, reg.key)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// UnregisterHandler resolves the handler's identity to a registration id and
// removes it. It returns false if no registration matches.
func (r *Registry) UnregisterHandler(h Handler) (bool, error) {
	if isNilHandler(h) {
		return false, ErrNilHandler
	}

	id, ok := r.Lookup(h)
	if !ok {
		return false, nil
	}
	return r.Unregister(id)
}

// Lookup returns the registration id for a handler, if registered. Only
// handlers with a comparable dynamic type can be resolved; func handlers
// always miss.
func (r *Registry) Lookup(h Handler) (RegistrationID, bool) {
	if isNilHandler(h) {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, unique := r.lookupIdentity(h)
	if unique {
		return "", false
	}
	id, ok := r.byKey[key]
	return id, ok
}

// Has returns true if the id is currently registered.
func (r *Registry) Has(id RegistrationID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshot returns the current registration order and handlers as copies,
// safe to iterate while the registry is mutated.
func (r *Registry) snapshot() ([]RegistrationID, map[RegistrationID]Handler) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make([]RegistrationID, len(r.order))
	copy(order, r.order)

	handlers := make(map[RegistrationID]Handler, len(r.byID))
	for id, reg := range r.byID {
		handlers[id] = reg.handler
	}
	return order, handlers
}

// identity computes the de-duplication key for a handler. The second return
// is true when the handler has no stable identity (non-comparable,
// non-func dynamic type); such handlers get a fresh key on every call.
// Callers must hold the write lock.
func (r *Registry) identity(h Handler) (identityKey, bool) {
	key, unique := r.lookupIdentity(h)
	if unique {
		r.seq++
		key.seq = r.seq
	}
	return key, unique
}

// lookupIdentity computes the identity key without consuming a sequence
// number. unique is true when the handler cannot be de-duplicated. Func
// values are never de-duplicated: Go func values are not comparable, and a
// code-pointer comparison would collapse distinct closures built from the
// same literal into one registration.
func (r *Registry) lookupIdentity(h Handler) (key identityKey, unique bool) {
	rv := reflect.ValueOf(h)
	if rv.Kind() != reflect.Func && rv.Type().Comparable() {
		return identityKey{value: h}, false
	}
	return identityKey{}, true
}

// isNilHandler reports whether h is nil or a typed nil (nil pointer or nil
// func wrapped in the Handler interface).
func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	rv := reflect.ValueOf(h)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
