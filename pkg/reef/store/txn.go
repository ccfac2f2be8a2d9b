package store

import (
	"errors"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrPassClosed is returned when a pass transaction is used after Commit
// or Rollback.
var ErrPassClosed = errors.New("store: pass transaction already closed")

// PassTxn is the write side of one build pass: a stable read snapshot taken
// when the pass begins, plus an in-memory staged write-set. Reads observe
// the staged writes layered over the snapshot. Nothing reaches disk until
// Commit, which applies the whole set in a single bbolt write transaction.
//
// PassTxn is safe for concurrent use by the builders of one pass.
type PassTxn struct {
	store *Store
	app   string

	rtx    *bolt.Tx
	bucket *bolt.Bucket // nil when the app has never been written

	mu     sync.Mutex
	puts   map[string][]byte
	dels   map[string]struct{}
	closed bool
}

// BeginPass opens a snapshot over the named app and an empty write-set.
// Exactly one of Commit or Rollback must be called.
func (s *Store) BeginPass(app string) (*PassTxn, error) {
	rtx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &PassTxn{
		store:  s,
		app:    app,
		rtx:    rtx,
		bucket: rtx.Bucket([]byte(app)),
		puts:   make(map[string][]byte),
		dels:   make(map[string]struct{}),
	}, nil
}

// App returns the app name this pass writes to.
func (t *PassTxn) App() string { return t.app }

// Get returns the value at key, observing staged writes first.
func (t *PassTxn) Get(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false, ErrPassClosed
	}
	if v, ok := t.puts[string(key)]; ok {
		out := append([]byte(nil), v...)
		t.mu.Unlock()
		return out, true, nil
	}
	if _, ok := t.dels[string(key)]; ok {
		t.mu.Unlock()
		return nil, false, nil
	}
	t.mu.Unlock()

	if t.bucket == nil {
		return nil, false, nil
	}
	v := t.bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put stages a write.
func (t *PassTxn) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrPassClosed
	}
	delete(t.dels, string(key))
	t.puts[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete stages a deletion.
func (t *PassTxn) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrPassClosed
	}
	delete(t.puts, string(key))
	t.dels[string(key)] = struct{}{}
	return nil
}

// Scan visits entries with the given prefix in ascending byte order,
// merging staged writes over the snapshot. Staged deletions hide snapshot
// entries; staged puts override them.
func (t *PassTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrPassClosed
	}
	// Copy the overlay so fn can issue further writes without deadlock.
	type kv struct {
		k string
		v []byte
	}
	var staged []kv
	for k, v := range t.puts {
		if hasPrefix([]byte(k), prefix) {
			staged = append(staged, kv{k, v})
		}
	}
	dels := make(map[string]struct{}, len(t.dels))
	for k := range t.dels {
		dels[k] = struct{}{}
	}
	overridden := make(map[string]struct{}, len(staged))
	for _, e := range staged {
		overridden[e.k] = struct{}{}
	}
	t.mu.Unlock()

	sort.Slice(staged, func(i, j int) bool { return staged[i].k < staged[j].k })

	// Two-way merge between the snapshot cursor and the sorted overlay.
	next := 0
	emitStagedBefore := func(limit []byte) error {
		for next < len(staged) && (limit == nil || staged[next].k < string(limit)) {
			e := staged[next]
			next++
			if err := fn([]byte(e.k), append([]byte(nil), e.v...)); err != nil {
				return err
			}
		}
		return nil
	}

	if t.bucket != nil {
		c := t.bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if err := emitStagedBefore(k); err != nil {
				return err
			}
			if _, ok := dels[string(k)]; ok {
				continue
			}
			if _, ok := overridden[string(k)]; ok {
				continue // emitted from the overlay at its sort position
			}
			if err := fn(append([]byte(nil), k...), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
	}
	return emitStagedBefore(nil)
}

// Commit atomically applies the staged write-set and releases the snapshot.
func (t *PassTxn) Commit() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrPassClosed
	}
	t.closed = true
	puts := t.puts
	dels := t.dels
	t.mu.Unlock()

	if err := t.rtx.Rollback(); err != nil {
		return err
	}
	err := t.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(t.app))
		if err != nil {
			return err
		}
		for k := range dels {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range puts {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.store.logger.Debug("pass committed",
		zap.String("app", t.app),
		zap.Int("puts", len(puts)),
		zap.Int("deletes", len(dels)))
	return nil
}

// Rollback discards the staged writes and releases the snapshot. Calling
// Rollback after Commit is a no-op.
func (t *PassTxn) Rollback() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.rtx.Rollback()
}

// StagedSize reports the staged write-set size, used by pass logging.
func (t *PassTxn) StagedSize() (puts, dels int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.puts), len(t.dels)
}
