package crypto

import (
	"crypto/ecdh"
	"fmt"

	"github.com/jmcleod/ironlink/internal/util"
)

const (
	// HKDFInfo namespaces channel key derivation. Bump the version suffix
	// together with the protocol version.
	HKDFInfo = "IronLink-Channel-v1.0"

	ClientNonceSize = 32
	ServerNonceSize = 16
)

// DeriveSymmetricKey agrees a secret with peer and derives the 256-bit
// channel key from it.
func DeriveSymmetricKey(local *EphemeralKeyPair, peer *ecdh.PublicKey, clientNonce, serverNonce []byte) (*SymmetricKey, error) {
	secret, err := local.SharedSecret(peer)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(secret)

	raw, err := DeriveKey(secret, clientNonce, serverNonce, []byte(HKDFInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)

	return NewSymmetricKey(raw)
}

// DeriveKey is the HKDF-SHA256 step shared by both peers:
// salt = clientNonce ‖ serverNonce, output length 32.
func DeriveKey(sharedSecret, clientNonce, serverNonce, info []byte) ([]byte, error) {
	if len(sharedSecret) != SharedSecretSize {
		return nil, fmt.Errorf("%w: shared secret is %d bytes, want %d", ErrInvalidKey, len(sharedSecret), SharedSecretSize)
	}
	if len(clientNonce) != ClientNonceSize {
		return nil, fmt.Errorf("%w: client nonce is %d bytes, want %d", ErrInvalidKey, len(clientNonce), ClientNonceSize)
	}
	if len(serverNonce) != ServerNonceSize {
		return nil, fmt.Errorf("%w: server nonce is %d bytes, want %d", ErrInvalidKey, len(serverNonce), ServerNonceSize)
	}
	salt := util.Concat(clientNonce, serverNonce)
	return util.HKDF(sharedSecret, salt, info, util.AESKeySize)
}
