package crypto

import "errors"

var (
	// ErrDecryptionFailed indicates an authentication tag did not verify or
	// the sealed message was malformed. It is a hard authentication failure.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidKey indicates key material of the wrong size, curve or encoding.
	ErrInvalidKey = errors.New("invalid key material")
	// ErrKeyDestroyed is returned when a destroyed SymmetricKey is used.
	ErrKeyDestroyed = errors.New("key destroyed")
)
