package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
	"github.com/newbpydev/reef/pkg/reef/path"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestEntryKey_RoundTrip tests the typed key codec both ways.
func TestEntryKey_RoundTrip(t *testing.T) {
	p := path.PathOf(path.String("files"), path.Int(1))
	fp := fingerprint.OfBytes([]byte("k"))
	ep := path.NewEffectPath(fp, nil).Concat(fingerprint.OfBytes([]byte("x")))

	tests := []struct {
		name string
		key  EntryKey
	}{
		{"metadata", MetadataKey(p)},
		{"metadata root", MetadataKey(path.Root())},
		{"effect info", EffectInfoKey(p)},
		{"child existence", ChildExistenceKey(p, path.String("leaf"))},
		{"effect", EffectKey(ep)},
		{"memo", MemoKey(fp.Bytes())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.key.Encode()
			back, err := DecodeEntryKey(enc)
			require.NoError(t, err)
			assert.Equal(t, tt.key.Tag, back.Tag)
			assert.True(t, bytes.Equal(enc, back.Encode()), "re-encoding differs")
		})
	}
}

// TestEntryKey_TagsPartitionScans tests that the three tags never overlap
// under prefix scans.
func TestEntryKey_TagsPartitionScans(t *testing.T) {
	p := path.PathOf(path.String("x"))
	fp := fingerprint.OfBytes([]byte("f"))
	ep := path.NewEffectPath(fp, nil)

	state := MetadataKey(p).Encode()
	effect := EffectKey(ep).Encode()
	memo := MemoKey(fp.Bytes()).Encode()

	assert.True(t, bytes.HasPrefix(state, PrefixState()))
	assert.False(t, bytes.HasPrefix(state, PrefixEffect()))
	assert.True(t, bytes.HasPrefix(effect, PrefixEffect()))
	assert.False(t, bytes.HasPrefix(memo, PrefixEffect()))
	assert.True(t, bytes.HasPrefix(EffectKey(ep.Concat(fp)).Encode(), PrefixEffectUnder(ep)))
}

// TestDecodeEntryKey_Malformed tests schema violations.
func TestDecodeEntryKey_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{9}},
		{"state without kind", append([]byte{byte(TagState)}, path.Root().Encode()...)},
		{"state bad kind", append(append([]byte{byte(TagState)}, path.Root().Encode()...), 99)},
		{"effect bad length", []byte{byte(TagEffect), 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEntryKey(tt.data)
			assert.ErrorIs(t, err, ErrBadKeyShape)
		})
	}
}

// TestStore_ViewOfAbsentAppIsEmpty tests that a never-written app reads as
// empty rather than erroring.
func TestStore_ViewOfAbsentAppIsEmpty(t *testing.T) {
	s := openTestStore(t)
	err := s.View("ghost", func(r Reader) error {
		_, found, err := r.Get([]byte("k"))
		require.NoError(t, err)
		assert.False(t, found)
		return r.Scan(nil, func(_, _ []byte) error {
			t.Fatal("scan of absent app yielded an entry")
			return nil
		})
	})
	require.NoError(t, err)
}

// TestPassTxn_OverlaySemantics tests that staged writes are visible to the
// pass and invisible to snapshots until commit.
func TestPassTxn_OverlaySemantics(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("a"), []byte("1")))

	v, found, err := txn.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found, "pass must see its own staged writes")
	assert.Equal(t, []byte("1"), v)

	// Not visible outside before commit.
	err = s.View("app", func(r Reader) error {
		_, found, err := r.Get([]byte("a"))
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, txn.Commit())

	err = s.View("app", func(r Reader) error {
		v, found, err := r.Get([]byte("a"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)
}

// TestPassTxn_RollbackDiscards tests that rollback leaves the store
// untouched.
func TestPassTxn_RollbackDiscards(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	require.NoError(t, txn.Rollback())

	names, err := s.ListApps()
	require.NoError(t, err)
	assert.Empty(t, names, "rolled-back pass must not create the app")

	_, _, err = txn.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrPassClosed)
}

// TestPassTxn_DeleteShadowsSnapshot tests staged deletions.
func TestPassTxn_DeleteShadowsSnapshot(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("a"), []byte("1")))
	require.NoError(t, txn.Put([]byte("b"), []byte("2")))
	require.NoError(t, txn.Commit())

	txn, err = s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Delete([]byte("a")))

	_, found, err := txn.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, found, "staged deletion must hide the snapshot value")

	var keys []string
	require.NoError(t, txn.Scan(nil, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, txn.Commit())

	err = s.View("app", func(r Reader) error {
		_, found, err := r.Get([]byte("a"))
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

// TestPassTxn_ScanMergesInOrder tests that merged scans interleave staged
// and snapshot entries in byte order.
func TestPassTxn_ScanMergesInOrder(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("b"), []byte("old-b")))
	require.NoError(t, txn.Put([]byte("d"), []byte("old-d")))
	require.NoError(t, txn.Commit())

	txn, err = s.BeginPass("app")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("a"), []byte("new-a")))
	require.NoError(t, txn.Put([]byte("c"), []byte("new-c")))
	require.NoError(t, txn.Put([]byte("d"), []byte("new-d"))) // override
	require.NoError(t, txn.Put([]byte("e"), []byte("new-e")))

	var keys []string
	vals := map[string]string{}
	require.NoError(t, txn.Scan(nil, func(k, v []byte) error {
		keys = append(keys, string(k))
		vals[string(k)] = string(v)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	assert.Equal(t, "new-d", vals["d"], "staged put must override the snapshot")
	require.NoError(t, txn.Rollback())
}

// TestStore_ListApps tests the non-empty-bucket rule.
func TestStore_ListApps(t *testing.T) {
	s := openTestStore(t)

	names, err := s.ListApps()
	require.NoError(t, err)
	assert.Empty(t, names)

	txn, err := s.BeginPass("alpha")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	require.NoError(t, txn.Commit())

	names, err = s.ListApps()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	// Clearing the app's only key makes it disappear from the listing.
	txn, err = s.BeginPass("alpha")
	require.NoError(t, err)
	require.NoError(t, txn.Delete([]byte("k")))
	require.NoError(t, txn.Commit())

	names, err = s.ListApps()
	require.NoError(t, err)
	assert.Empty(t, names, "an empty bucket is equivalent to an absent one")
}

// TestStore_DeleteApp tests single-app reset.
func TestStore_DeleteApp(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginPass("doomed")
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	require.NoError(t, txn.Commit())

	require.NoError(t, s.DeleteApp("doomed"))
	require.NoError(t, s.DeleteApp("doomed"), "deleting an absent app is a no-op")

	names, err := s.ListApps()
	require.NoError(t, err)
	assert.Empty(t, names)
}
