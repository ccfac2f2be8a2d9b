package reef

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/newbpydev/reef/pkg/reef/observability"
	"github.com/newbpydev/reef/pkg/reef/path"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// commitEffects is the back half of a build pass: diff the declared
// effects against the stored ones, deliver batched actions, refresh the
// component tree records, and commit everything atomically.
//
// The walk visits the union of declared and stored effect paths in
// ascending byte order, which puts every container before its children and
// makes the reconcile sequence deterministic per build. Stored paths with
// no declaration are orphans: they are reconciled with a nil declaration
// and removed. Orphan reconciliation is never skipped.
func (p *pass) commitEffects(ctx context.Context) error {
	p.mu.Lock()
	declared := p.declared
	p.declared = make(map[string]*declaredEffect)
	children := p.children
	p.mu.Unlock()

	env := p.app.env

	// Stored effects, keyed like the declared map by the encoded effect
	// path without the leading tag byte.
	stored := make(map[string]store.EffectEntryValue)
	err := p.txn.Scan(store.PrefixEffect(), func(k, v []byte) error {
		var val store.EffectEntryValue
		if err := msgpack.Unmarshal(v, &val); err != nil {
			return invariantf("stored effect entry does not decode: %v", err)
		}
		stored[string(k[1:])] = val
		return nil
	})
	if err != nil {
		return err
	}

	epKeys := make([]string, 0, len(declared)+len(stored))
	for k := range declared {
		epKeys = append(epKeys, k)
	}
	for k := range stored {
		if _, dup := declared[k]; !dup {
			epKeys = append(epKeys, k)
		}
	}
	sort.Strings(epKeys)

	type sinkBatch struct {
		apply   func(ctx context.Context, actions []any) error
		actions []any
	}
	var sinkOrder []any
	batches := make(map[any]*sinkBatch)
	enqueue := func(out *erasedOutput) {
		b, ok := batches[out.sink]
		if !ok {
			b = &sinkBatch{apply: out.apply}
			batches[out.sink] = b
			sinkOrder = append(sinkOrder, out.sink)
		}
		b.actions = append(b.actions, out.action)
	}

	effectInfo := make(map[string][][]byte) // owner path encoding -> effect paths
	orphans := 0

	for _, epKey := range epKeys {
		rawKey := append([]byte{byte(store.TagEffect)}, epKey...)
		if d, ok := declared[epKey]; ok {
			var prev [][]byte
			prevMayBeMissing := true
			if st, found := stored[epKey]; found {
				prev = st.States
				prevMayBeMissing = false
			}
			out, err := d.reconcile(prev, prevMayBeMissing)
			if err != nil {
				return err
			}
			env.metrics.RecordEffectReconciled(false, out != nil)
			ownerKey := string(d.owner.Encode())
			effectInfo[ownerKey] = append(effectInfo[ownerKey], []byte(epKey))
			if out == nil {
				continue // already converged; stored state stands
			}
			val := store.EffectEntryValue{Key: d.keyBytes, States: [][]byte{out.stateBytes}}
			raw, err := msgpack.Marshal(&val)
			if err != nil {
				return err
			}
			if err := p.txn.Put(rawKey, raw); err != nil {
				return storageErr(err)
			}
			enqueue(out)
			continue
		}

		// Orphan: stored but not declared this pass.
		st := stored[epKey]
		ep, err := path.DecodeEffectPath([]byte(epKey))
		if err != nil {
			return invariantf("stored effect key does not decode: %v", err)
		}
		prov, ok := env.lookupProvider(ep.Provider())
		if !ok {
			err := invariantf("no provider registered for orphaned effect %s", ep)
			observability.Report(err, &observability.ErrorContext{
				App: p.app.name, EffectPath: ep, Operation: "reconcile.orphan",
			})
			return err
		}
		out, err := prov.reconcileOrphan(st.Key, st.States)
		if err != nil {
			return err
		}
		env.metrics.RecordEffectReconciled(true, out != nil)
		orphans++
		if err := p.txn.Delete(rawKey); err != nil {
			return storageErr(err)
		}
		if out != nil {
			enqueue(out)
		}
	}

	if orphans > 0 {
		env.logger.Info("orphaned effects reconciled",
			zap.String("app", p.app.name), zap.Int("count", orphans))
		observability.RecordBreadcrumb("reconcile", "orphaned effects reconciled", map[string]interface{}{
			"app": p.app.name, "count": orphans,
		})
	}

	// Deliver batches: at most one Apply per sink per pass, actions in
	// reconcile order. One failing sink does not starve the others —
	// actions are idempotent, so delivering what we can and failing the
	// pass leaves less for the retry. In-flight deliveries run to
	// completion even under cancellation; new batches stop.
	var applyErrs error
	for _, sk := range sinkOrder {
		if err := ctx.Err(); err != nil {
			return multierr.Append(applyErrs, err)
		}
		b := batches[sk]
		start := time.Now()
		err := applyWithRetry(context.WithoutCancel(ctx), b.apply, b.actions)
		env.metrics.RecordSinkApply(len(b.actions), time.Since(start), err)
		observability.RecordBreadcrumb("sink", "batch delivered", map[string]interface{}{
			"app": p.app.name, "actions": len(b.actions), "ok": err == nil,
		})
		if err != nil {
			observability.Report(err, &observability.ErrorContext{
				App: p.app.name, Operation: "sink.apply",
				Extra: map[string]any{"actions": len(b.actions)},
			})
			env.logger.Error("sink apply failed",
				zap.String("app", p.app.name),
				zap.Int("actions", len(b.actions)), zap.Error(err))
			applyErrs = multierr.Append(applyErrs, err)
		}
	}
	if applyErrs != nil {
		return applyErrs
	}

	if err := p.writeTreeRecords(children, effectInfo); err != nil {
		return err
	}
	if err := p.txn.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

// applyWithRetry delivers one batch, retrying once on failure. Actions are
// idempotent by contract, so a duplicate delivery is safe; any richer
// retry policy belongs to the sink itself.
func applyWithRetry(ctx context.Context, apply func(context.Context, []any) error, actions []any) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	return backoff.Retry(func() error {
		return apply(ctx, actions)
	}, bo)
}

// writeTreeRecords refreshes the durable picture of the component tree:
// child-existence records and per-component metadata for everything built
// this pass, plus removal of state entries whose component disappeared.
func (p *pass) writeTreeRecords(children []childRecord, effectInfo map[string][][]byte) error {
	now := time.Now().Unix()

	current := make(map[string]struct{}, len(children)+1)
	current[string(path.Root().Encode())] = struct{}{}
	for _, cr := range children {
		current[string(cr.parent.Concat(cr.key).Encode())] = struct{}{}
	}

	// Drop state entries of components that no longer exist.
	var stale [][]byte
	err := p.txn.Scan(store.PrefixState(), func(k, _ []byte) error {
		ek, err := store.DecodeEntryKey(k)
		if err != nil {
			return invariantf("stored state key does not decode: %v", err)
		}
		owner := ek.Path
		if ek.Kind == store.StateChildExistence {
			owner = ek.Path.Concat(ek.Child)
		}
		if _, ok := current[string(owner.Encode())]; !ok {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := p.txn.Delete(k); err != nil {
			return storageErr(err)
		}
	}

	for _, cr := range children {
		raw, err := msgpack.Marshal(&store.ChildExistenceValue{NodeType: store.NodeComponent})
		if err != nil {
			return err
		}
		if err := p.txn.Put(store.ChildExistenceKey(cr.parent, cr.key).Encode(), raw); err != nil {
			return storageErr(err)
		}
	}

	meta, err := msgpack.Marshal(&store.MetadataValue{Pass: p.seq, BuiltAt: now})
	if err != nil {
		return err
	}
	writeMeta := func(sp path.StablePath) error {
		if err := p.txn.Put(store.MetadataKey(sp).Encode(), meta); err != nil {
			return storageErr(err)
		}
		info, err := msgpack.Marshal(&store.EffectInfoValue{
			Version: p.seq,
			Paths:   effectInfo[string(sp.Encode())],
		})
		if err != nil {
			return err
		}
		if err := p.txn.Put(store.EffectInfoKey(sp).Encode(), info); err != nil {
			return storageErr(err)
		}
		return nil
	}
	if err := writeMeta(path.Root()); err != nil {
		return err
	}
	for _, cr := range children {
		if err := writeMeta(cr.parent.Concat(cr.key)); err != nil {
			return err
		}
	}
	return nil
}
