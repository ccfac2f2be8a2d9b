package reef

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// Memoization engine.
//
// A memoized call is identified by the fingerprint of its serialized key.
// Reserving that fingerprint yields a guard in one of three states:
//
//   - MemoHit: a durable entry exists, is reusable, and every logic
//     fingerprint it recorded is still in the current logic set. The
//     caller decodes the stored result and skips execution.
//   - MemoDisabled: an entry exists but memoization is switched off for
//     it. The caller executes fresh and writes nothing.
//   - MemoPending: this caller is the elected resolver. It must execute
//     and then Resolve exactly once, or Release the guard so the next
//     waiter is elected.
//
// While a Pending guard is outstanding, every other reserve call for the
// same fingerprint suspends on a per-fingerprint lock — there is no
// polling, and at most one execution per fingerprint is in flight. A
// resolver writes through the pass's staged transaction, so a crash during
// resolution loses only the in-flight call.

// MemoGuardState enumerates the three guard states.
type MemoGuardState int

const (
	// MemoPending elects the holder as resolver.
	MemoPending MemoGuardState = iota
	// MemoHit means the stored result may be used.
	MemoHit
	// MemoDisabled means an entry exists but must not be reused.
	MemoDisabled
)

// memoLockTable holds one cooperative lock per in-flight fingerprint.
// Entries are reference-counted and removed when the last holder leaves,
// so the table stays proportional to concurrency, not history.
type memoLockTable struct {
	mu sync.Mutex
	m  map[fingerprint.Fingerprint]*fpLock
}

type fpLock struct {
	ch   chan struct{}
	refs int
}

func newMemoLockTable() *memoLockTable {
	return &memoLockTable{m: make(map[fingerprint.Fingerprint]*fpLock)}
}

func (t *memoLockTable) acquire(ctx context.Context, fp fingerprint.Fingerprint) (*fpLock, error) {
	t.mu.Lock()
	l, ok := t.m[fp]
	if !ok {
		l = &fpLock{ch: make(chan struct{}, 1)}
		t.m[fp] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return l, nil
	case <-ctx.Done():
		t.unref(fp, l)
		return nil, ctx.Err()
	}
}

func (t *memoLockTable) release(fp fingerprint.Fingerprint, l *fpLock) {
	<-l.ch
	t.unref(fp, l)
}

func (t *memoLockTable) unref(fp fingerprint.Fingerprint, l *fpLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.m, fp)
	}
}

// FnCallCtx collects the logic fingerprints a function call transitively
// depended on, so that resolving a memo entry records them for later
// logic-set gating.
type FnCallCtx struct {
	mu  sync.Mutex
	fps []fingerprint.Fingerprint
}

// NewFnCallCtx returns an empty call context.
func NewFnCallCtx() *FnCallCtx { return &FnCallCtx{} }

// RecordLogic notes one logic fingerprint as a dependency of this call.
func (fc *FnCallCtx) RecordLogic(fp fingerprint.Fingerprint) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fps = append(fc.fps, fp)
}

// RecordAll notes several logic fingerprints at once.
func (fc *FnCallCtx) RecordAll(fps []fingerprint.Fingerprint) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fps = append(fc.fps, fps...)
}

// LogicFps returns the recorded fingerprints.
func (fc *FnCallCtx) LogicFps() []fingerprint.Fingerprint {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]fingerprint.Fingerprint(nil), fc.fps...)
}

// MemoGuard is the handle returned by ReserveMemoization.
type MemoGuard struct {
	state MemoGuardState
	fp    fingerprint.Fingerprint
	entry *store.MemoEntryValue // hit only

	pass *pass
	lock *fpLock

	mu   sync.Mutex
	done bool
}

// State returns the guard state.
func (g *MemoGuard) State() MemoGuardState { return g.state }

// Cached decodes the stored result into out. Valid only for MemoHit.
func (g *MemoGuard) Cached(out any) error {
	if g.state != MemoHit {
		return fmt.Errorf("%w: Cached on a non-hit memo guard", ErrClient)
	}
	return msgpack.Unmarshal(g.entry.Ret, out)
}

// CachedLogicFps returns the logic fingerprints recorded with the stored
// result. Valid only for MemoHit.
func (g *MemoGuard) CachedLogicFps() []fingerprint.Fingerprint {
	if g.state != MemoHit {
		return nil
	}
	fps := make([]fingerprint.Fingerprint, 0, len(g.entry.LogicFps))
	for _, raw := range g.entry.LogicFps {
		fp, err := fingerprint.FromBytes(raw)
		if err != nil {
			continue // tolerated: a malformed record just fails gating later
		}
		fps = append(fps, fp)
	}
	return fps
}

// Resolve stores the result and the call's logic dependencies, then wakes
// the waiters, which will observe a hit. Valid only for MemoPending, at
// most once.
func (g *MemoGuard) Resolve(fc *FnCallCtx, ret any) error {
	if g.state != MemoPending {
		return fmt.Errorf("%w: Resolve on a non-pending memo guard", ErrClient)
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return ErrGuardResolved
	}
	g.done = true
	g.mu.Unlock()

	defer g.pass.locks.release(g.fp, g.lock)

	retBytes, err := fingerprint.Canonical(ret)
	if err != nil {
		return err
	}
	var logicRaw [][]byte
	if fc != nil {
		for _, fp := range fc.LogicFps() {
			logicRaw = append(logicRaw, fp.Bytes())
		}
	}
	raw, err := msgpack.Marshal(&store.MemoEntryValue{
		Ret:      retBytes,
		LogicFps: logicRaw,
		Reusable: true,
	})
	if err != nil {
		return err
	}
	if err := g.pass.txn.Put(store.MemoKey(g.fp.Bytes()).Encode(), raw); err != nil {
		return storageErr(err)
	}
	return nil
}

// ResolveDisabled records that this call must not be memoized: a durable
// entry is written with the reusable flag cleared, so every future lookup
// at this fingerprint executes fresh instead of waiting on a resolver.
// Valid only for MemoPending, at most once (also counting Resolve).
func (g *MemoGuard) ResolveDisabled() error {
	if g.state != MemoPending {
		return fmt.Errorf("%w: ResolveDisabled on a non-pending memo guard", ErrClient)
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return ErrGuardResolved
	}
	g.done = true
	g.mu.Unlock()

	defer g.pass.locks.release(g.fp, g.lock)

	raw, err := msgpack.Marshal(&store.MemoEntryValue{Reusable: false})
	if err != nil {
		return err
	}
	if err := g.pass.txn.Put(store.MemoKey(g.fp.Bytes()).Encode(), raw); err != nil {
		return storageErr(err)
	}
	return nil
}

// Release frees the fingerprint lock without writing anything, electing
// the next waiter as resolver. A no-op after Resolve and for non-pending
// guards, so it is safe to defer unconditionally.
func (g *MemoGuard) Release() {
	if g.state != MemoPending {
		return
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.mu.Unlock()
	g.pass.locks.release(g.fp, g.lock)
}

// ReserveMemoization looks up fp in the durable cache and returns a guard.
// It suspends while another caller holds the pending guard for the same
// fingerprint. The component context must belong to a running build pass;
// for standalone execution use Cached, which bypasses reservation.
func ReserveMemoization(c *Ctx, fp fingerprint.Fingerprint) (*MemoGuard, error) {
	if c == nil || c.pass == nil {
		return nil, fmt.Errorf("%w: ReserveMemoization outside a build pass", ErrClient)
	}
	p := c.pass

	lock, err := p.locks.acquire(p.ctx, fp)
	if err != nil {
		return nil, err
	}

	raw, found, err := p.txn.Get(store.MemoKey(fp.Bytes()).Encode())
	if err != nil {
		p.locks.release(fp, lock)
		return nil, storageErr(err)
	}
	if found {
		var entry store.MemoEntryValue
		if err := msgpack.Unmarshal(raw, &entry); err != nil {
			p.locks.release(fp, lock)
			return nil, invariantf("memo entry does not decode: %v", err)
		}
		if !entry.Reusable {
			p.locks.release(fp, lock)
			return &MemoGuard{state: MemoDisabled, fp: fp}, nil
		}
		if logicStillCurrent(entry.LogicFps) {
			p.locks.release(fp, lock)
			return &MemoGuard{state: MemoHit, fp: fp, entry: &entry}, nil
		}
		// The logic that produced this entry is gone: treat as pending so
		// the elected resolver overwrites it under the current logic set.
	}
	return &MemoGuard{state: MemoPending, fp: fp, pass: p, lock: lock}, nil
}

func logicStillCurrent(raw [][]byte) bool {
	fps := make([]fingerprint.Fingerprint, 0, len(raw))
	for _, b := range raw {
		fp, err := fingerprint.FromBytes(b)
		if err != nil {
			return false
		}
		fps = append(fps, fp)
	}
	return allLogicRegistered(fps)
}

// Cached executes fn with durable memoization: if key hasn't changed since
// the last run (and the recorded logic is still current), the cached
// result is returned without executing fn.
//
// The key is canonically serialized and fingerprinted; the result is
// MessagePack-encoded for storage, so both must be msgpack-serializable.
// Concurrent calls with the same key elect exactly one resolver; everyone
// else suspends and then shares the resolved result.
//
// With a nil context (or one not attached to a build pass) Cached falls
// back to standalone mode and simply executes fn — nested calls made
// without a context degrade per-call, they never error.
//
// Example:
//
//	html, err := reef.Cached(ctx, file, func(fc *reef.FnCallCtx) (string, error) {
//	    return renderMarkdown(file.Path)
//	})
func Cached[K any, T any](c *Ctx, key K, fn func(fc *FnCallCtx) (T, error)) (T, error) {
	var zero T
	if c == nil || c.pass == nil {
		return fn(NewFnCallCtx())
	}

	fp, err := fingerprint.Of(key)
	if err != nil {
		return zero, err
	}
	guard, err := ReserveMemoization(c, fp)
	if err != nil {
		return zero, err
	}
	metrics := c.pass.app.env.metrics

	switch guard.State() {
	case MemoHit:
		metrics.RecordMemoHit()
		var out T
		if err := guard.Cached(&out); err != nil {
			return zero, invariantf("cached result does not decode: %v", err)
		}
		c.fnCtx.RecordAll(guard.CachedLogicFps())
		return out, nil

	case MemoDisabled:
		metrics.RecordMemoDisabled()
		return fn(NewFnCallCtx())

	default: // MemoPending
		metrics.RecordMemoMiss()
		defer guard.Release()
		fc := NewFnCallCtx()
		ret, err := fn(fc)
		if err != nil {
			return zero, err // Release elects the next caller
		}
		if err := guard.Resolve(fc, ret); err != nil {
			return zero, err
		}
		c.joinFnCall(fc)
		return ret, nil
	}
}
