package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// PasswordHash is a stored Argon2id verifier.
type PasswordHash struct {
	Params Argon2idParams `json:"params"`
	Salt   []byte         `json:"salt"`
	Key    []byte         `json:"key"`
}

func DeriveArgon2idKey(password string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	if params.Time < 1 || params.Parallelism < 1 {
		return nil, fmt.Errorf("argon2id time and parallelism must be at least 1")
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

// HashPassword derives a verifier with a fresh 16-byte salt.
func HashPassword(password string, params Argon2idParams) (PasswordHash, error) {
	salt, err := RandomBytes(16)
	if err != nil {
		return PasswordHash{}, err
	}
	key, err := DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return PasswordHash{}, err
	}
	return PasswordHash{Params: params, Salt: salt, Key: key}, nil
}

// VerifyPassword compares in constant time.
func VerifyPassword(password string, h PasswordHash) (bool, error) {
	key, err := DeriveArgon2idKey(password, h.Salt, h.Params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, h.Key) == 1, nil
}
