package reef_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbpydev/reef/pkg/reef"
	"github.com/newbpydev/reef/pkg/reef/fingerprint"
)

// TestCached_Standalone tests that memoization without a build pass
// degrades to direct execution, never an error.
func TestCached_Standalone(t *testing.T) {
	var runs atomic.Int32
	compute := func(fc *reef.FnCallCtx) (int, error) {
		runs.Add(1)
		return 7, nil
	}

	got, err := reef.Cached(nil, "key", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = reef.Cached(nil, "key", compute)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(2), runs.Load(), "standalone mode never caches")
}

// TestCached_ConcurrentSingleResolver tests the at-most-one-resolver
// property: many builders memoize the same key concurrently, the thunk
// runs once, and everyone receives the same result.
func TestCached_ConcurrentSingleResolver(t *testing.T) {
	env := newTestEnv(t)

	var runs atomic.Int32
	results := make([]int, 8)

	app, err := reef.NewApp("memo-concurrent", env, func(c *reef.Ctx) error {
		for i := 0; i < len(results); i++ {
			if err := c.Component(i, func(c *reef.Ctx) error {
				got, err := reef.Cached(c, 42, func(fc *reef.FnCallCtx) (int, error) {
					runs.Add(1)
					return 1234, nil
				})
				if err != nil {
					return err
				}
				results[i] = got
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))

	assert.Equal(t, int32(1), runs.Load(), "exactly one resolver must execute")
	for i, got := range results {
		assert.Equal(t, 1234, got, "caller %d", i)
	}
}

// TestCached_HitAcrossPasses tests durability: the second pass reuses the
// entry committed by the first.
func TestCached_HitAcrossPasses(t *testing.T) {
	env := newTestEnv(t)

	var runs atomic.Int32
	app, err := reef.NewApp("memo-durable", env, func(c *reef.Ctx) error {
		got, err := reef.Cached(c, "doc-1", func(fc *reef.FnCallCtx) (string, error) {
			runs.Add(1)
			return "rendered", nil
		})
		if err != nil {
			return err
		}
		assert.Equal(t, "rendered", got)
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(1), runs.Load(), "second pass must hit the durable cache")
}

// TestCached_LogicChange tests logic-set gating: dropping a recorded logic
// fingerprint from the current set turns the next lookup into a miss.
func TestCached_LogicChange(t *testing.T) {
	env := newTestEnv(t)

	logicFp := fingerprint.OfBytes([]byte(t.Name()))
	reef.RegisterLogic(logicFp)
	t.Cleanup(func() { reef.UnregisterLogic(logicFp) })

	var runs atomic.Int32
	app, err := reef.NewApp("memo-logic", env, func(c *reef.Ctx) error {
		_, err := reef.Cached(c, "input", func(fc *reef.FnCallCtx) (int, error) {
			fc.RecordLogic(logicFp)
			return int(runs.Add(1)), nil
		})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(1), runs.Load(), "logic unchanged: hit")

	reef.UnregisterLogic(logicFp)
	reef.RegisterLogic(logicFp) // current again for the re-resolve
	reef.UnregisterLogic(logicFp)

	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(2), runs.Load(), "stale logic: entry re-resolved")

	// The rewritten entry recorded the (still unregistered) fingerprint,
	// so the next pass misses again.
	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(3), runs.Load())
}

// TestCached_FailedResolverElectsNext tests all-or-nothing resolution: a
// failing resolver writes nothing, and the next caller is elected.
func TestCached_FailedResolverElectsNext(t *testing.T) {
	env := newTestEnv(t)

	boom := errors.New("flaky compute")
	var runs atomic.Int32
	shouldFail := true

	app, err := reef.NewApp("memo-retry", env, func(c *reef.Ctx) error {
		_, err := reef.Cached(c, "k", func(fc *reef.FnCallCtx) (int, error) {
			runs.Add(1)
			if shouldFail {
				return 0, boom
			}
			return 5, nil
		})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	err = app.Update(context.Background())
	require.ErrorIs(t, err, boom, "user errors propagate")

	shouldFail = false
	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(2), runs.Load(), "the failure wrote no entry")
}

// TestReserveMemoization_OutsidePass tests that the low-level API rejects
// contexts that are not part of a build.
func TestReserveMemoization_OutsidePass(t *testing.T) {
	_, err := reef.ReserveMemoization(nil, fingerprint.OfBytes([]byte("x")))
	assert.ErrorIs(t, err, reef.ErrClient)
}

// TestMemoGuard_DisabledEntry tests the third guard state: an entry marked
// non-reusable makes every later lookup execute fresh without writing.
func TestMemoGuard_DisabledEntry(t *testing.T) {
	env := newTestEnv(t)

	key := "side-effectful"
	fp, err := fingerprint.Of(key)
	require.NoError(t, err)

	disable := true
	var runs atomic.Int32
	app, err := reef.NewApp("memo-disabled", env, func(c *reef.Ctx) error {
		if disable {
			guard, err := reef.ReserveMemoization(c, fp)
			if err != nil {
				return err
			}
			if guard.State() != reef.MemoPending {
				guard.Release()
				return errors.New("first reservation must be pending")
			}
			return guard.ResolveDisabled()
		}
		_, err := reef.Cached(c, key, func(fc *reef.FnCallCtx) (int, error) {
			return int(runs.Add(1)), nil
		})
		return err
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))

	disable = false
	require.NoError(t, app.Update(context.Background()))
	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(2), runs.Load(), "disabled entries execute fresh every pass")
}

// TestCached_DistinctKeysDistinctEntries tests that different keys do not
// share cache rows.
func TestCached_DistinctKeysDistinctEntries(t *testing.T) {
	env := newTestEnv(t)

	var runs atomic.Int32
	app, err := reef.NewApp("memo-keys", env, func(c *reef.Ctx) error {
		for _, k := range []int{1, 2, 3} {
			got, err := reef.Cached(c, k, func(fc *reef.FnCallCtx) (int, error) {
				runs.Add(1)
				return k * 10, nil
			})
			if err != nil {
				return err
			}
			assert.Equal(t, k*10, got)
		}
		return nil
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(3), runs.Load())

	require.NoError(t, app.Update(context.Background()))
	assert.Equal(t, int32(3), runs.Load(), "all three keys hit on the rebuild")
}
