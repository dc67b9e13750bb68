package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
	GCMTagSize   = 16
)

// ErrGCMOpen is returned when a GCM authentication tag does not verify.
var ErrGCMOpen = errors.New("gcm: message authentication failed")

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealGCM encrypts plainText with a fresh random 96-bit nonce and returns the
// nonce, the ciphertext and the detached 128-bit tag as separate buffers.
func SealGCM(plainText, rawKey, aad []byte) (nonce, cipherText, tag []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, GCMNonceSize)
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plainText, aad)
	split := len(sealed) - GCMTagSize
	cipherText = CopyBytes(sealed[:split])
	tag = CopyBytes(sealed[split:])

	return nonce, cipherText, tag, nil
}

// OpenGCM reverses SealGCM. A tag mismatch yields ErrGCMOpen.
func OpenGCM(nonce, cipherText, tag, rawKey, aad []byte) ([]byte, error) {
	if len(nonce) != GCMNonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrGCMOpen, len(nonce), GCMNonceSize)
	}
	if len(tag) != GCMTagSize {
		return nil, fmt.Errorf("%w: tag is %d bytes, want %d", ErrGCMOpen, len(tag), GCMTagSize)
	}

	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrGCMOpen
	}
	return plainText, nil
}

// EncryptAESWithAAD returns nonce || ciphertext || tag.
func EncryptAESWithAAD(plainText, rawKey, aad []byte) ([]byte, error) {
	nonce, cipherText, tag, err := SealGCM(plainText, rawKey, aad)
	if err != nil {
		return nil, err
	}
	return Concat(nonce, cipherText, tag), nil
}

// DecryptAESWithAAD opens a buffer produced by EncryptAESWithAAD.
func DecryptAESWithAAD(cipherText, rawKey, aad []byte) ([]byte, error) {
	if len(cipherText) < GCMNonceSize+GCMTagSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce and tag")
	}
	nonce := cipherText[:GCMNonceSize]
	body := cipherText[GCMNonceSize : len(cipherText)-GCMTagSize]
	tag := cipherText[len(cipherText)-GCMTagSize:]
	return OpenGCM(nonce, body, tag, rawKey, aad)
}

func NewAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}
