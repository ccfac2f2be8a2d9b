// Package store is the embedded durable state layer: a single bbolt
// environment holding one named bucket per app, addressed through the typed
// key schema in schema.go.
//
// bbolt gives the LMDB semantics the engine relies on: a single writer,
// MVCC snapshot readers, and named sub-databases. A build pass reads from
// one snapshot for its whole duration and stages writes in memory; the
// staged set is committed atomically in a single write transaction, so a
// crashed pass is externally indistinguishable from one that never ran.
//
// An empty bucket is equivalent to an absent one: clearing a bucket deletes
// the app, and deleting the environment directory is a full reset.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// DataFileName is the bbolt file created inside the environment directory.
const DataFileName = "data.db"

// Store is a process-exclusive handle to one environment directory.
type Store struct {
	db     *bolt.DB
	dir    string
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates the environment directory if needed and opens its data file.
// The file lock makes the handle exclusive across processes.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	db, err := bolt.Open(filepath.Join(dir, DataFileName), 0o600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	s.db = db
	s.logger.Debug("store opened", zap.String("dir", dir))
	return s, nil
}

// Dir returns the environment directory.
func (s *Store) Dir() string { return s.dir }

// Close releases the data file.
func (s *Store) Close() error {
	s.logger.Debug("store closed", zap.String("dir", s.dir))
	return s.db.Close()
}

// Reader is a read view over one app's namespace.
type Reader interface {
	// Get returns a copy of the value at key, or found=false.
	Get(key []byte) (value []byte, found bool, err error)
	// Scan visits entries with the given prefix in ascending byte order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// View runs fn against a read snapshot of the named app. An app that was
// never written appears empty.
func (s *Store) View(app string, fn func(Reader) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&snapshotReader{bucket: tx.Bucket([]byte(app))})
	})
}

// snapshotReader reads from one bucket of an open read transaction.
// A nil bucket behaves as empty.
type snapshotReader struct {
	bucket *bolt.Bucket
}

func (r *snapshotReader) Get(key []byte) ([]byte, bool, error) {
	if r.bucket == nil {
		return nil, false, nil
	}
	v := r.bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (r *snapshotReader) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if r.bucket == nil {
		return nil
	}
	c := r.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(append([]byte(nil), k...), append([]byte(nil), v...)); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ListApps returns the names of all non-empty buckets in ascending order.
func (s *Store) ListApps() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			k, _ := b.Cursor().First()
			if k != nil {
				names = append(names, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DeleteApp removes one app's bucket. Deleting an absent app is a no-op.
func (s *Store) DeleteApp(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
