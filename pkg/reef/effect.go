package reef

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
	"github.com/newbpydev/reef/pkg/reef/path"
)

// The effect surface is generic at the API boundary and type-erased
// inside. A Provider binds a Reconciler's five semantic types (key,
// declaration, state, action, sink) to an EffectPath; Declare records the
// desired state; reconciliation after the build diffs declared against
// stored state and delivers batched actions, one Apply per sink per pass.

// Sink is the constraint for action destinations. A sink value is both the
// delivery endpoint and the batch key: all actions reconciled to equal
// sinks within one pass are delivered in a single Apply call, in the order
// their effect paths were reconciled.
//
// Implementations should expect Apply to be called at most once per pass
// and must make actions idempotent — the engine may re-deliver a batch
// after a crash, and retries a transiently failed delivery once.
type Sink[A any] interface {
	comparable
	Apply(ctx context.Context, actions []A) error
}

// CompatFlags qualifies a reconcile decision, mainly for container-like
// effects (tables hosting rows).
type CompatFlags struct {
	// Irreversible marks actions that cannot be rolled back (e.g.
	// dropping a column).
	Irreversible bool
	// Destructive marks actions that invalidate every child effect under
	// this one.
	Destructive bool
}

// ReconcileOutput is what a reconciler decides for one effect: the state
// to record durably, the action to deliver, and the sink to deliver it to.
type ReconcileOutput[S, A any, SK Sink[A]] struct {
	State  S
	Action A
	Sink   SK
	Compat CompatFlags
}

// Reconciler drives one kind of external state toward its declarations.
//
// Reconcile receives the effect's logical key, the desired declaration
// (nil when the effect is no longer declared and should converge to
// absent), the possible previous states read from the store (usually one;
// several only when older data carries ambiguity), and whether there is
// any durable evidence a previous state existed.
//
// A nil output means the external world already matches: nothing is
// delivered and the stored state is left as it is (or stays absent).
// Reconcile must be deterministic in its inputs.
type Reconciler[K, D, S, A any, SK Sink[A]] interface {
	Reconcile(key K, desired *D, prevStates []S, prevMayBeMissing bool) (*ReconcileOutput[S, A, SK], error)
}

// ReconcileFunc adapts a plain function to the Reconciler interface. Using
// a function literal also lets the compiler infer every type parameter at
// the NewProvider call site, which it cannot do from a struct's method set.
//
// Example:
//
//	provider, err := reef.NewProvider(env, "rows",
//	    reef.ReconcileFunc[RowKey, RowDecl, RowState, RowAction, RowSink](
//	        func(key RowKey, desired *RowDecl, prev []RowState, missing bool) (
//	            *reef.ReconcileOutput[RowState, RowAction, RowSink], error) {
//	            ...
//	        }))
type ReconcileFunc[K, D, S, A any, SK Sink[A]] func(
	key K, desired *D, prevStates []S, prevMayBeMissing bool,
) (*ReconcileOutput[S, A, SK], error)

// Reconcile implements Reconciler by calling the function.
func (f ReconcileFunc[K, D, S, A, SK]) Reconcile(
	key K, desired *D, prevStates []S, prevMayBeMissing bool,
) (*ReconcileOutput[S, A, SK], error) {
	return f(key, desired, prevStates, prevMayBeMissing)
}

// ChildReconcilerProvider is an optional extension: a reconciler whose
// effects host sub-effects (a table hosting rows) implements it to supply
// the child reconciler for a given parent key. Declare then returns a
// child provider scoped under the declared effect's path, and orphaned
// children remain reconcilable even when the parent itself is orphaned.
type ChildReconcilerProvider[K, D, S, A any, SK Sink[A]] interface {
	ChildReconciler(key K) Reconciler[K, D, S, A, SK]
}

// Provider binds a reconciler to a position in the effect-path space.
// Root providers are created with NewProvider; child providers are
// returned by Declare for reconcilers that host children.
type Provider[K, D, S, A any, SK Sink[A]] struct {
	env   *Environment
	name  string
	epath path.EffectPath
	rcl   Reconciler[K, D, S, A, SK]
}

// NewProvider registers a root effect provider under the given name. The
// name is fingerprinted into the first element of every effect path
// declared through this provider, so renaming a provider orphans its
// effects. Registering two providers with the same name is a client error.
func NewProvider[K, D, S, A any, SK Sink[A]](
	env *Environment, name string, rcl Reconciler[K, D, S, A, SK],
) (*Provider[K, D, S, A, SK], error) {
	fp, err := fingerprint.Of("provider/" + name)
	if err != nil {
		return nil, err
	}
	p := &Provider[K, D, S, A, SK]{
		env:   env,
		name:  name,
		epath: path.NewEffectPath(fp, nil),
		rcl:   rcl,
	}
	if err := env.registerProvider(eraseProvider(p), false); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the provider's registered name (child providers derive
// theirs from the parent).
func (p *Provider[K, D, S, A, SK]) Name() string { return p.name }

// EffectPath returns the provider's position in the effect-path space.
func (p *Provider[K, D, S, A, SK]) EffectPath() path.EffectPath { return p.epath }

// Declare records the desired state of one effect in the current build
// pass. The effect's identity is provider path plus the fingerprint of its
// key; declaring the same identity twice in one pass is a client error.
//
// When the provider's reconciler hosts children (ChildReconcilerProvider),
// the returned child provider declares sub-effects under this effect's
// path; otherwise the first result is nil.
//
// Example:
//
//	_, err := reef.Declare(ctx, tableProvider, "documents", tableSpec)
func Declare[K, D, S, A any, SK Sink[A]](
	c *Ctx, p *Provider[K, D, S, A, SK], key K, decl D,
) (*Provider[K, D, S, A, SK], error) {
	if c == nil || c.pass == nil {
		return nil, fmt.Errorf("%w: Declare outside a build pass", ErrClient)
	}
	keyBytes, err := fingerprint.Canonical(key)
	if err != nil {
		return nil, err
	}
	ep := p.epath.Concat(fingerprint.OfBytes(keyBytes))

	rcl := p.rcl
	d := &declaredEffect{
		epath:    ep,
		owner:    c.spath,
		keyBytes: keyBytes,
		provider: p.name,
		reconcile: func(prev [][]byte, prevMayBeMissing bool) (*erasedOutput, error) {
			desired := decl
			return runReconcile(rcl, key, &desired, prev, prevMayBeMissing)
		},
	}
	if err := c.pass.addDeclared(d); err != nil {
		return nil, err
	}

	child := p.childProvider(key, ep)
	if child != nil {
		if err := p.env.registerProvider(eraseProvider(child), true); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// childProvider materializes the child provider for key, or nil when the
// reconciler hosts no children.
func (p *Provider[K, D, S, A, SK]) childProvider(key K, ep path.EffectPath) *Provider[K, D, S, A, SK] {
	crp, ok := any(p.rcl).(ChildReconcilerProvider[K, D, S, A, SK])
	if !ok {
		return nil
	}
	rcl := crp.ChildReconciler(key)
	if rcl == nil {
		return nil
	}
	last, _ := ep.Last()
	return &Provider[K, D, S, A, SK]{
		env:   p.env,
		name:  fmt.Sprintf("%s/#%s", p.name, last.String()[:8]),
		epath: ep,
		rcl:   rcl,
	}
}

// declaredEffect is the erased record of one Declare call, alive from the
// call site until reconciliation consumes it.
type declaredEffect struct {
	epath     path.EffectPath
	owner     path.StablePath
	keyBytes  []byte
	provider  string
	reconcile func(prevStates [][]byte, prevMayBeMissing bool) (*erasedOutput, error)
}

// erasedOutput is a ReconcileOutput with the type parameters stripped:
// the state is already serialized, the sink has become an opaque comparable
// batch key, and apply converts a gathered batch back to the typed form.
type erasedOutput struct {
	stateBytes []byte
	sink       any
	action     any
	apply      func(ctx context.Context, actions []any) error
	compat     CompatFlags
}

// erasedProvider is a Provider with the type parameters stripped, kept in
// the environment registry so orphaned effects can be reconciled without
// their declaring code running in this pass.
type erasedProvider struct {
	epath           path.EffectPath
	name            string
	reconcileOrphan func(keyBytes []byte, prevStates [][]byte) (*erasedOutput, error)
}

func eraseProvider[K, D, S, A any, SK Sink[A]](p *Provider[K, D, S, A, SK]) *erasedProvider {
	return &erasedProvider{
		epath: p.epath,
		name:  p.name,
		reconcileOrphan: func(keyBytes []byte, prev [][]byte) (*erasedOutput, error) {
			var key K
			if err := msgpack.Unmarshal(keyBytes, &key); err != nil {
				return nil, invariantf("orphaned effect key under %s does not decode: %v", p.name, err)
			}
			out, err := runReconcile(p.rcl, key, nil, prev, len(prev) == 0)
			if err != nil {
				return nil, err
			}
			// An orphaned container still needs its child provider
			// registered, so descendants sorted after it can reconcile.
			ep := p.epath.Concat(fingerprint.OfBytes(keyBytes))
			if child := p.childProvider(key, ep); child != nil {
				if err := p.env.registerProvider(eraseProvider(child), true); err != nil {
					return nil, err
				}
			}
			return out, nil
		},
	}
}

// runReconcile decodes the previous states, invokes the typed reconciler,
// and erases the output.
func runReconcile[K, D, S, A any, SK Sink[A]](
	rcl Reconciler[K, D, S, A, SK], key K, desired *D, prevRaw [][]byte, prevMayBeMissing bool,
) (*erasedOutput, error) {
	prev := make([]S, 0, len(prevRaw))
	for _, raw := range prevRaw {
		var s S
		if err := msgpack.Unmarshal(raw, &s); err != nil {
			return nil, invariantf("stored effect state does not decode: %v", err)
		}
		prev = append(prev, s)
	}
	out, err := rcl.Reconcile(key, desired, prev, prevMayBeMissing)
	if err != nil || out == nil {
		return nil, err
	}
	stateBytes, err := fingerprint.Canonical(out.State)
	if err != nil {
		return nil, err
	}
	sink := out.Sink
	return &erasedOutput{
		stateBytes: stateBytes,
		sink:       sink,
		action:     out.Action,
		apply: func(ctx context.Context, actions []any) error {
			typed := make([]A, len(actions))
			for i, a := range actions {
				typed[i] = a.(A)
			}
			return sink.Apply(ctx, typed)
		},
		compat: out.Compat,
	}, nil
}
