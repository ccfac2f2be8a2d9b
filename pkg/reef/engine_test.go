package reef_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbpydev/reef/pkg/reef"
	"github.com/newbpydev/reef/pkg/reef/observability"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// rkey / rdecl / rstate / raction are the semantic types of the test
// reconciler: a target that upserts integer values under string IDs.
type rkey struct {
	ID string `msgpack:"id"`
}

type rdecl struct {
	V int `msgpack:"v"`
}

type rstate struct {
	V int `msgpack:"v"`
}

type raction struct {
	Kind string
	ID   string
	V    int
}

// reconcileCall captures one Reconcile invocation for assertions.
type reconcileCall struct {
	key     rkey
	desired *rdecl
	prev    []rstate
	missing bool
}

// recorder collects reconcile calls and delivered batches.
type recorder struct {
	mu      sync.Mutex
	calls   []reconcileCall
	applies [][]raction
}

func (r *recorder) recordCall(c reconcileCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) recordApply(actions []raction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies = append(r.applies, append([]raction(nil), actions...))
}

func (r *recorder) callsSnapshot() []reconcileCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reconcileCall(nil), r.calls...)
}

func (r *recorder) appliesSnapshot() [][]raction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]raction, len(r.applies))
	copy(out, r.applies)
	return out
}

// rsink batches by (name, recorder) equality.
type rsink struct {
	name string
	rec  *recorder
}

func (s rsink) Apply(_ context.Context, actions []raction) error {
	s.rec.recordApply(actions)
	return nil
}

// rrcl upserts when the declared value differs from every possible
// previous state, deletes orphans, and does nothing when converged.
type rrcl struct {
	rec      *recorder
	sinkName string
}

func (r rrcl) Reconcile(
	key rkey, desired *rdecl, prev []rstate, missing bool,
) (*reef.ReconcileOutput[rstate, raction, rsink], error) {
	r.rec.recordCall(reconcileCall{key: key, desired: desired, prev: prev, missing: missing})
	sink := rsink{name: r.sinkName, rec: r.rec}
	if desired == nil {
		return &reef.ReconcileOutput[rstate, raction, rsink]{
			Action: raction{Kind: "delete", ID: key.ID},
			Sink:   sink,
		}, nil
	}
	for _, p := range prev {
		if p.V == desired.V {
			return nil, nil
		}
	}
	return &reef.ReconcileOutput[rstate, raction, rsink]{
		State:  rstate{V: desired.V},
		Action: raction{Kind: "upsert", ID: key.ID, V: desired.V},
		Sink:   sink,
	}, nil
}

func newTestEnv(t *testing.T) *reef.Environment {
	t.Helper()
	env, err := reef.NewEnvironment(reef.Settings{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func newTestProvider(t *testing.T, env *reef.Environment, name string, rec *recorder) *reef.Provider[rkey, rdecl, rstate, raction, rsink] {
	t.Helper()
	p, err := reef.NewProvider[rkey, rdecl, rstate, raction, rsink](
		env, name, rrcl{rec: rec, sinkName: name})
	require.NoError(t, err)
	return p
}

func countEffectEntries(t *testing.T, env *reef.Environment, app string) int {
	t.Helper()
	n := 0
	err := env.Store().View(app, func(r store.Reader) error {
		return r.Scan(store.PrefixEffect(), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	require.NoError(t, err)
	return n
}

// TestUpdate_FreshBuild tests the first pass against an empty store: one
// reconcile with no previous state, one apply, one stored effect entry.
func TestUpdate_FreshBuild(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	app, err := reef.NewApp("fresh", env, func(c *reef.Ctx) error {
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 1})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))

	calls := rec.callsSnapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, rkey{ID: "k"}, calls[0].key)
	require.NotNil(t, calls[0].desired)
	assert.Equal(t, 1, calls[0].desired.V)
	assert.Empty(t, calls[0].prev)
	assert.True(t, calls[0].missing)

	applies := rec.appliesSnapshot()
	require.Len(t, applies, 1)
	require.Len(t, applies[0], 1)
	assert.Equal(t, raction{Kind: "upsert", ID: "k", V: 1}, applies[0][0])

	assert.Equal(t, 1, countEffectEntries(t, env, "fresh"))
}

// TestUpdate_NoopRebuild tests cache-hit idempotence: a second pass with
// unchanged declarations issues zero applies.
func TestUpdate_NoopRebuild(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	app, err := reef.NewApp("noop", env, func(c *reef.Ctx) error {
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 1})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	require.NoError(t, app.Update(context.Background()))

	applies := rec.appliesSnapshot()
	assert.Len(t, applies, 1, "second pass must not deliver anything")

	calls := rec.callsSnapshot()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].missing)
	require.Len(t, calls[1].prev, 1)
	assert.Equal(t, 1, calls[1].prev[0].V)
}

// TestUpdate_ChangedDecl tests that a mutated declaration re-applies with
// the previous state visible to the reconciler.
func TestUpdate_ChangedDecl(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	v := 1
	app, err := reef.NewApp("changed", env, func(c *reef.Ctx) error {
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: v})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	v = 2
	require.NoError(t, app.Update(context.Background()))

	applies := rec.appliesSnapshot()
	require.Len(t, applies, 2)
	assert.Equal(t, raction{Kind: "upsert", ID: "k", V: 2}, applies[1][0])

	calls := rec.callsSnapshot()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].prev, 1)
	assert.Equal(t, 1, calls[1].prev[0].V)
}

// TestUpdate_EffectRemoved tests orphan cleanup: an effect declared in
// pass N and absent in pass N+1 reconciles exactly once with a nil
// declaration and disappears from the store.
func TestUpdate_EffectRemoved(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	keep := []string{"a", "b"}
	app, err := reef.NewApp("orphans", env, func(c *reef.Ctx) error {
		for _, id := range keep {
			if _, err := reef.Declare(c, provider, rkey{ID: id}, rdecl{V: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	keep = []string{"a"}
	require.NoError(t, app.Update(context.Background()))

	var orphanCalls []reconcileCall
	for _, call := range rec.callsSnapshot() {
		if call.desired == nil {
			orphanCalls = append(orphanCalls, call)
		}
	}
	require.Len(t, orphanCalls, 1, "exactly one desired=nil reconcile")
	assert.Equal(t, "b", orphanCalls[0].key.ID)
	require.Len(t, orphanCalls[0].prev, 1)

	var deletes []raction
	for _, batch := range rec.appliesSnapshot() {
		for _, a := range batch {
			if a.Kind == "delete" {
				deletes = append(deletes, a)
			}
		}
	}
	require.Len(t, deletes, 1)
	assert.Equal(t, "b", deletes[0].ID)

	assert.Equal(t, 1, countEffectEntries(t, env, "orphans"), "orphaned entry must be gone")

	// A third pass is quiet: the orphan does not come back.
	require.NoError(t, app.Update(context.Background()))
	assert.Len(t, rec.appliesSnapshot(), 2)
}

// TestUpdate_BatchingPerSink tests that the number of Apply calls equals
// the number of distinct sinks, not the number of actions.
func TestUpdate_BatchingPerSink(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	left := newTestProvider(t, env, "left", rec)
	right := newTestProvider(t, env, "right", rec)

	app, err := reef.NewApp("batching", env, func(c *reef.Ctx) error {
		for _, id := range []string{"a", "b", "c"} {
			if _, err := reef.Declare(c, left, rkey{ID: id}, rdecl{V: 1}); err != nil {
				return err
			}
		}
		for _, id := range []string{"x", "y"} {
			if _, err := reef.Declare(c, right, rkey{ID: id}, rdecl{V: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))

	applies := rec.appliesSnapshot()
	require.Len(t, applies, 2, "one apply per distinct sink")
	sizes := map[int]int{}
	for _, batch := range applies {
		sizes[len(batch)]++
	}
	assert.Equal(t, map[int]int{3: 1, 2: 1}, sizes)
}

// TestApp_NameExclusivity tests that a live app name cannot be registered
// twice and that closing releases it.
func TestApp_NameExclusivity(t *testing.T) {
	env := newTestEnv(t)
	noop := func(c *reef.Ctx) error { return nil }

	app1, err := reef.NewApp("exclusive", env, noop)
	require.NoError(t, err)

	_, err = reef.NewApp("exclusive", env, noop)
	require.Error(t, err)
	assert.ErrorIs(t, err, reef.ErrAppNameTaken)
	assert.ErrorIs(t, err, reef.ErrClient)

	require.NoError(t, app1.Close())

	app2, err := reef.NewApp("exclusive", env, noop)
	require.NoError(t, err)
	require.NoError(t, app2.Close())
}

// TestUpdate_DuplicateEffectPath tests that declaring the same effect
// identity twice in one pass is a client error.
func TestUpdate_DuplicateEffectPath(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	app, err := reef.NewApp("dup-effect", env, func(c *reef.Ctx) error {
		if _, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 1}); err != nil {
			return err
		}
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 2})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	err = app.Update(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reef.ErrDuplicateEffect)
	assert.Empty(t, rec.appliesSnapshot(), "failed pass must not reach any sink")
}

// TestCtx_DuplicateChildKey tests sibling key collisions.
func TestCtx_DuplicateChildKey(t *testing.T) {
	env := newTestEnv(t)
	noop := func(c *reef.Ctx) error { return nil }

	app, err := reef.NewApp("dup-child", env, func(c *reef.Ctx) error {
		if err := c.Component("twin", noop); err != nil {
			return err
		}
		return c.Component("twin", noop)
	})
	require.NoError(t, err)
	defer app.Close()

	err = app.Update(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reef.ErrDuplicateChild)
}

// TestUpdate_Cancelled tests that a canceled pass leaves the store as the
// last committed pass did.
func TestUpdate_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	app, err := reef.NewApp("cancelled", env, func(c *reef.Ctx) error {
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 1})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = app.Update(ctx)
	require.Error(t, err)

	assert.Empty(t, rec.appliesSnapshot())
	assert.Equal(t, 0, countEffectEntries(t, env, "cancelled"))
}

// TestProvideInject_WalksParentChain tests typed DI across the component
// tree, including shadowing.
func TestProvideInject_WalksParentChain(t *testing.T) {
	env := newTestEnv(t)

	type dbHandle struct{ dsn string }

	var fromChild, fromGrandchild dbHandle
	var missingOK bool

	app, err := reef.NewApp("di", env, func(c *reef.Ctx) error {
		reef.Provide(c, dbHandle{dsn: "root"})
		return c.Component("mid", func(c *reef.Ctx) error {
			got, ok := reef.Inject[dbHandle](c)
			if !ok {
				t.Error("child failed to inject")
			}
			fromChild = got

			reef.Provide(c, dbHandle{dsn: "mid"}) // shadow
			return c.Component("leaf", func(c *reef.Ctx) error {
				got, ok := reef.Inject[dbHandle](c)
				if !ok {
					t.Error("grandchild failed to inject")
				}
				fromGrandchild = got

				_, ok = reef.Inject[*testing.T](c)
				missingOK = !ok
				return nil
			})
		})
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, "root", fromChild.dsn)
	assert.Equal(t, "mid", fromGrandchild.dsn, "nearest provider wins")
	assert.True(t, missingOK, "missing type must report ok=false")
}

// TestUpdate_RecordsBreadcrumbs tests that a build pass leaves a trail for
// error reports: pass milestones and sink deliveries become breadcrumbs.
func TestUpdate_RecordsBreadcrumbs(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	app, err := reef.NewApp("trail", env, func(c *reef.Ctx) error {
		_, err := reef.Declare(c, provider, rkey{ID: "k"}, rdecl{V: 1})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	observability.ClearBreadcrumbs()
	t.Cleanup(observability.ClearBreadcrumbs)
	require.NoError(t, app.Update(context.Background()))

	messages := map[string]bool{}
	for _, bc := range observability.GetBreadcrumbs() {
		messages[bc.Category+"/"+bc.Message] = true
	}
	assert.True(t, messages["pass/pass started"])
	assert.True(t, messages["pass/pass committed"])
	assert.True(t, messages["sink/batch delivered"])
}

// TestUpdate_ConcurrentChildren tests that many sibling builders all run
// and their effects all land.
func TestUpdate_ConcurrentChildren(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	provider := newTestProvider(t, env, "rows", rec)

	const n = 16
	app, err := reef.NewApp("fanout", env, func(c *reef.Ctx) error {
		for i := 0; i < n; i++ {
			id := string(rune('a' + i))
			if err := c.Component(i, func(c *reef.Ctx) error {
				_, err := reef.Declare(c, provider, rkey{ID: id}, rdecl{V: i})
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))

	applies := rec.appliesSnapshot()
	require.Len(t, applies, 1, "one sink, one apply")
	assert.Len(t, applies[0], n)
	assert.Equal(t, n, countEffectEntries(t, env, "fanout"))
}
