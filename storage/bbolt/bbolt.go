// Package bbolt provides a BBolt-backed secure store. Every value is sealed
// with an AES-256-GCM envelope bound to its bucket and key.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	icrypto "github.com/jmcleod/ironlink/internal/crypto"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/storage"
)

// DefaultBucket is used when NewStore is given an empty bucket name.
const DefaultBucket = "ironlink"

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db     *bbolt.DB
	bucket string
	key    []byte
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store over db. wrappingKey must be 32 bytes; the
// sealing key is derived from it per bucket.
func NewStore(db *bbolt.DB, bucket string, wrappingKey []byte) (*Store, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be %d bytes", util.AESKeySize)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	key, err := icrypto.DeriveStoreKey(wrappingKey, bucket)
	if err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &Store{db: db, bucket: bucket, key: key}, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path, bucket string, wrappingKey []byte, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewStore(db, bucket, wrappingKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close wipes the sealing key and closes the underlying BBolt database.
func (s *Store) Close() error {
	util.WipeBytes(s.key)
	return s.db.Close()
}

func (s *Store) aad(key string) []byte {
	return icrypto.AADStoreItem(s.bucket, key, 1)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(s.bucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		raw = util.CopyBytes(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var env storage.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope for %s: %w", key, err)
	}
	plain, err := storage.OpenRecord(s.key, &env, s.aad(key))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return plain, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := storage.SealRecord(s.key, value, s.aad(key))
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(s.bucket)).Put([]byte(key), data)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.bucket))
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}
