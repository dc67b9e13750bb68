// Package pki manages the node's long-term identity: RSA signing keys, the
// self-signed certificate presented during identification, and signature
// verification for the responder side.
package pki

import (
	"crypto"
	"errors"
)

// KeyStore abstracts private-key operations so the node identity can live in
// memory, on disk, or in external hardware without changing calling code.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined.
type KeyStore interface {
	// GenerateKey creates a new signing key and returns an opaque identifier.
	GenerateKey() (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key in PEM-encoded PKCS8 format.
	ExportPEM(keyID string) (string, error)

	// ImportPEM loads a PEM-encoded private key into the store and returns
	// its key ID.
	ImportPEM(pemData string) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

var (
	// ErrKeyNotFound is returned when the referenced key ID does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrInvalidSignature is returned by VerifySignature on mismatch.
	ErrInvalidSignature = errors.New("invalid signature")
)
