package crypto

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironlink/internal/util"
)

const keyAlgorithm = "A256GCM"

// SymmetricKey is a 256-bit AES key held in a memguard Enclave. The raw
// bytes are only decrypted into locked memory for the duration of a
// seal or open call. It never prints its value.
type SymmetricKey struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewSymmetricKey copies raw into a new enclave. The caller keeps ownership
// of raw and should wipe it.
func NewSymmetricKey(raw []byte) (*SymmetricKey, error) {
	if len(raw) != util.AESKeySize {
		return nil, fmt.Errorf("%w: symmetric key is %d bytes, want %d", ErrInvalidKey, len(raw), util.AESKeySize)
	}
	// NewEnclave wipes its input, so hand it a copy.
	return &SymmetricKey{enclave: memguard.NewEnclave(util.CopyBytes(raw))}, nil
}

func (k *SymmetricKey) use(fn func(raw []byte) error) error {
	if k == nil {
		return ErrKeyDestroyed
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.enclave == nil {
		return ErrKeyDestroyed
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy drops the enclave; the key cannot be used afterwards.
func (k *SymmetricKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}

// Equal compares two keys in constant time.
func (k *SymmetricKey) Equal(other *SymmetricKey) bool {
	var a, b []byte
	if err := k.use(func(raw []byte) error { a = util.CopyBytes(raw); return nil }); err != nil {
		return false
	}
	defer util.WipeBytes(a)
	if err := other.use(func(raw []byte) error { b = util.CopyBytes(raw); return nil }); err != nil {
		return false
	}
	defer util.WipeBytes(b)
	return subtle.ConstantTimeCompare(a, b) == 1
}

func (k *SymmetricKey) String() string { return "[redacted]" }

func (k *SymmetricKey) GoString() string { return "crypto.SymmetricKey{[redacted]}" }

func (k *SymmetricKey) LogValue() slog.Value { return slog.StringValue("[redacted]") }

// ExportKey returns a copy of the raw key bytes for persistence. Callers
// must hand the result to an encrypting store and wipe it afterwards.
func ExportKey(k *SymmetricKey) ([]byte, error) {
	var out []byte
	err := k.use(func(raw []byte) error {
		out = util.CopyBytes(raw)
		return nil
	})
	return out, err
}

// ImportKey is the inverse of ExportKey.
func ImportKey(raw []byte) (*SymmetricKey, error) {
	return NewSymmetricKey(raw)
}

type jsonKey struct {
	Algorithm string `json:"alg"`
	Bytes     []byte `json:"k"`
}

func (k *SymmetricKey) MarshalJSON() ([]byte, error) {
	raw, err := ExportKey(k)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)
	return json.Marshal(&jsonKey{Algorithm: keyAlgorithm, Bytes: raw})
}

func (k *SymmetricKey) UnmarshalJSON(b []byte) error {
	var jk jsonKey
	if err := json.Unmarshal(b, &jk); err != nil {
		return fmt.Errorf("unmarshaling key JSON: %w", err)
	}
	defer util.WipeBytes(jk.Bytes)
	if jk.Algorithm != keyAlgorithm {
		return fmt.Errorf("%w: algorithm %q", ErrInvalidKey, jk.Algorithm)
	}
	imported, err := ImportKey(jk.Bytes)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.enclave = imported.enclave
	k.mu.Unlock()
	return nil
}
