package reef

import (
	"reflect"
	"sync"
)

// TypeMap is a type-erased map where the type is the key. It backs the
// Provide/Inject dependency-injection surface of the builder context:
// plug-ins stash their handles under their own static type, and user code
// fetches them back without string keys.
type TypeMap struct {
	mu sync.RWMutex
	m  map[reflect.Type]any
}

// NewTypeMap returns an empty map.
func NewTypeMap() *TypeMap {
	return &TypeMap{m: make(map[reflect.Type]any)}
}

func (tm *TypeMap) put(t reflect.Type, v any) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.m[t] = v
}

func (tm *TypeMap) get(t reflect.Type) (any, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	v, ok := tm.m[t]
	return v, ok
}

// Provide stores v in the context's type map, making it available to this
// component and all of its descendants via Inject. Providing the same type
// twice in one context overwrites the earlier value; a child providing a
// type shadows its ancestors.
//
// Example:
//
//	reef.Provide(ctx, db)                      // *sql.DB
//	reef.Provide(ctx, Config{BatchSize: 100})
func Provide[T any](c *Ctx, v T) {
	c.provides.put(reflect.TypeOf((*T)(nil)).Elem(), v)
}

// Inject fetches the nearest provided value of type T, walking from the
// current component up the parent chain. ok is false when no ancestor
// provided one.
//
// Example:
//
//	db, ok := reef.Inject[*sql.DB](ctx)
func Inject[T any](c *Ctx) (T, bool) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.provides.get(t); ok {
			return v.(T), true
		}
	}
	var zero T
	return zero, false
}
