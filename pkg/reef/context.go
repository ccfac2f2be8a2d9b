package reef

import (
	"context"
	"sync"

	"github.com/newbpydev/reef/pkg/reef/path"
)

// BuilderFunc is a component builder: user code that receives the
// component's context, runs logic, declares effects, and spawns children.
//
// Builders may block and may spawn goroutines of their own, but everything
// they declare must happen before they return — the engine reconciles once
// the whole tree of builders has finished.
type BuilderFunc func(c *Ctx) error

// Ctx is the per-component builder context: the API surface available
// while a builder runs.
//
// It carries the component's stable path, a link to its parent, the typed
// provide/inject map, and access to the build pass (memoization, effect
// declaration, child spawning). A Ctx is shared between the engine and the
// builder; its mutable state is guarded internally.
//
// A nil Ctx is valid for the memoization entry points and selects
// standalone mode (no persistence), which keeps unit tests of memoized
// functions free of engine setup.
type Ctx struct {
	pass   *pass
	parent *Ctx
	spath  path.StablePath

	provides *TypeMap
	fnCtx    *FnCallCtx

	mu        sync.Mutex
	childKeys map[string]struct{}
}

func newCtx(p *pass, parent *Ctx, spath path.StablePath) *Ctx {
	return &Ctx{
		pass:      p,
		parent:    parent,
		spath:     spath,
		provides:  NewTypeMap(),
		fnCtx:     NewFnCallCtx(),
		childKeys: make(map[string]struct{}),
	}
}

// Context returns the build's context.Context. It is canceled when the
// pass is canceled or any builder fails.
func (c *Ctx) Context() context.Context {
	if c == nil || c.pass == nil {
		return context.Background()
	}
	return c.pass.ctx
}

// StatePath returns the component's stable path. The root component's path
// is empty.
func (c *Ctx) StatePath() path.StablePath { return c.spath }

// App returns the app this build pass belongs to.
func (c *Ctx) App() *App { return c.pass.app }

// Environment returns the app's environment.
func (c *Ctx) Environment() *Environment { return c.pass.app.env }

// Component spawns a child component under the given stable key and
// schedules its builder. Children of one parent may run concurrently,
// bounded by the environment's parallelism limit; sibling order is
// unspecified.
//
// The key accepts anything path.KeyOf does: strings, integers, UUIDs,
// byte slices, fingerprints, or []any slices of these.
//
// Spawning two siblings with the same key is a client error. Builder
// failures surface from App.Update, not from Component.
//
// Example:
//
//	for _, f := range files {
//	    if err := ctx.Component(f.Name, buildFile(f)); err != nil {
//	        return err
//	    }
//	}
func (c *Ctx) Component(key any, builder BuilderFunc) error {
	k, err := path.KeyOf(key)
	if err != nil {
		return err
	}
	if err := c.pass.ctx.Err(); err != nil {
		return err
	}

	encoded := string(k.Encode())
	c.mu.Lock()
	if _, dup := c.childKeys[encoded]; dup {
		c.mu.Unlock()
		return &DuplicateChildError{Parent: c.spath, Key: k}
	}
	c.childKeys[encoded] = struct{}{}
	c.mu.Unlock()

	childPath := c.spath.Concat(k)
	child := newCtx(c.pass, c, childPath)
	c.pass.recordChild(c.spath, k)

	c.pass.grp.Go(func() error {
		if err := c.pass.sem.Acquire(c.pass.ctx, 1); err != nil {
			return err
		}
		defer c.pass.sem.Release(1)
		return builder(child)
	})
	return nil
}

// joinFnCall merges a finished function call's recorded logic fingerprints
// into this component's own call context, so that memoizing an enclosing
// call sees the nested dependencies.
func (c *Ctx) joinFnCall(fc *FnCallCtx) {
	if c == nil || fc == nil {
		return
	}
	c.fnCtx.RecordAll(fc.LogicFps())
}
