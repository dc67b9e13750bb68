// Package crypto holds every key-material and ciphertext operation used by the
// secure channel: ephemeral P-384 key agreement, HKDF-SHA256 key derivation and
// AES-256-GCM with detached tags. It has no protocol awareness.
package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// SharedSecretSize is the raw P-384 ECDH output length.
const SharedSecretSize = 48

// EphemeralKeyPair is a single-use P-384 key agreement key.
type EphemeralKeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateEphemeralKeyPair creates a fresh P-384 key pair.
func GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating P-384 key: %w", err)
	}
	return &EphemeralKeyPair{private: priv}, nil
}

// PublicKey returns the ECDH public key.
func (kp *EphemeralKeyPair) PublicKey() *ecdh.PublicKey {
	return kp.private.PublicKey()
}

// PublicKeySPKI returns the public key as DER-encoded SubjectPublicKeyInfo.
func (kp *EphemeralKeyPair) PublicKeySPKI() ([]byte, error) {
	return MarshalPublicKeySPKI(kp.private.PublicKey())
}

// SharedSecret runs ECDH against peer and returns the 48-byte raw secret.
func (kp *EphemeralKeyPair) SharedSecret(peer *ecdh.PublicKey) ([]byte, error) {
	if peer == nil || peer.Curve() != ecdh.P384() {
		return nil, fmt.Errorf("%w: peer key is not P-384", ErrInvalidKey)
	}
	secret, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", ErrInvalidKey, err)
	}
	return secret, nil
}

// MarshalPublicKeySPKI encodes a P-384 public key as SPKI DER.
func MarshalPublicKeySPKI(pub *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling SPKI: %v", ErrInvalidKey, err)
	}
	return der, nil
}

// ParsePublicKeySPKI decodes SPKI DER and insists on a P-384 EC key.
func ParsePublicKeySPKI(der []byte) (*ecdh.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing SPKI: %v", ErrInvalidKey, err)
	}
	switch pub := parsed.(type) {
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P384() {
			return nil, fmt.Errorf("%w: curve %s, want P-384", ErrInvalidKey, pub.Curve.Params().Name)
		}
		return pub.ECDH()
	case *ecdh.PublicKey:
		if pub.Curve() != ecdh.P384() {
			return nil, fmt.Errorf("%w: want P-384", ErrInvalidKey)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected key type %T", ErrInvalidKey, parsed)
	}
}
