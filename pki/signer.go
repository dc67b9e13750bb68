package pki

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Signer signs challenge data with a node key using RSASSA-PKCS1-v1_5 over
// SHA-256.
type Signer struct {
	key crypto.Signer
}

// NewSigner wraps a crypto.Signer.
func NewSigner(key crypto.Signer) *Signer {
	return &Signer{key: key}
}

// SignerFromStore returns a Signer for keyID in ks.
func SignerFromStore(ks KeyStore, keyID string) (*Signer, error) {
	key, err := ks.Signer(keyID)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// Public returns the signer's public key.
func (s *Signer) Public() crypto.PublicKey {
	return s.key.Public()
}

// Sign hashes data and signs the digest. ctx is checked before signing so a
// hardware-backed key is not asked to sign for a canceled caller.
func (s *Signer) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// VerifySignature checks an RSASSA-PKCS1-v1_5 SHA-256 signature over data.
func VerifySignature(pub crypto.PublicKey, data, sig []byte) error {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: unsupported public key type %T", ErrInvalidSignature, pub)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
