package bbolt

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/storage"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "store.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newKey(t *testing.T) []byte {
	t.Helper()
	k, err := util.NewAESKey()
	require.NoError(t, err)
	return k
}

func TestBBoltStore(t *testing.T) {
	s, err := NewStore(newTestDB(t), "", newKey(t))
	require.NoError(t, err)
	ctx := t.Context()

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "channel", []byte(`{"id":"c1"}`)))
		got, err := s.Get(ctx, "channel")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"c1"}`, string(got))
	})

	t.Run("ValueIsSealedOnDisk", func(t *testing.T) {
		var raw []byte
		require.NoError(t, s.db.View(func(tx *bbolt.Tx) error {
			raw = util.CopyBytes(tx.Bucket([]byte(DefaultBucket)).Get([]byte("channel")))
			return nil
		}))
		assert.NotContains(t, string(raw), "c1")
		var env storage.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "aes256gcm", env.Scheme)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "channel"))
		_, err := s.Get(ctx, "channel")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestBBoltStore_SwappedValueFails(t *testing.T) {
	db := newTestDB(t)
	s, err := NewStore(db, "b", newKey(t))
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "a", []byte("alpha")))
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("b"))
		return b.Put([]byte("z"), util.CopyBytes(b.Get([]byte("a"))))
	}))
	_, err = s.Get(ctx, "z")
	assert.Error(t, err)
}

func TestBBoltStore_WrongKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := NewStoreFromFile(path, "", newKey(t), nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(t.Context(), "k", []byte("v")))
	require.NoError(t, s.Close())

	s2, err := NewStoreFromFile(path, "", newKey(t), nil)
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.Get(t.Context(), "k")
	assert.Error(t, err)
}

func TestNewStore_RejectsShortKey(t *testing.T) {
	_, err := NewStore(newTestDB(t), "", []byte("short"))
	assert.Error(t, err)
}
