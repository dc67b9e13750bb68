// Package storage provides the secure-storage contract used to persist
// channel and session state between runs.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("not found")

// Store is an asynchronous key/value store. Encryption at rest is the
// implementation's concern.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetItem loads key and decodes it as JSON into a T. ok is false when the
// key does not exist.
func GetItem[T any](ctx context.Context, s Store, key string) (v T, ok bool, err error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, true, nil
}

// SetItem encodes v as JSON and stores it under key.
func SetItem[T any](ctx context.Context, s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// RemoveItem deletes key. Removing a missing key is not an error.
func RemoveItem(ctx context.Context, s Store, key string) error {
	if err := s.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
