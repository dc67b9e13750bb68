package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"
)

// RSAKeyBits is the modulus size of generated node keys.
const RSAKeyBits = 2048

// SoftwareKeyStore holds RSA private keys in memory. Keys are identified by
// an opaque string generated at creation time.
//
// Keys in this store are ephemeral; callers persist them with
// ExportPEM/ImportPEM.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
	rand io.Reader
	seq  int
}

var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*rsa.PrivateKey),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) add(priv *rsa.PrivateKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("sw-%d", s.seq)
	s.keys[id] = priv
	return id
}

func (s *SoftwareKeyStore) get(keyID string) (*rsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	priv, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return priv, nil
}

// GenerateKey creates a new RSA-2048 key pair.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := rsa.GenerateKey(s.rand, RSAKeyBits)
	if err != nil {
		return "", fmt.Errorf("generating RSA-%d key: %w", RSAKeyBits, err)
	}
	return s.add(priv), nil
}

// Signer returns the *rsa.PrivateKey (which implements crypto.Signer).
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	return s.get(keyID)
}

// ExportPEM encodes the private key as PKCS8 "PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) (string, error) {
	priv, err := s.get(keyID)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ImportPEM parses an RSA private key in PKCS8 or PKCS1 PEM and stores it.
func (s *SoftwareKeyStore) ImportPEM(pemData string) (string, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	var priv *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		priv = k
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		k, ok := key.(*rsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("%w: not an RSA key", ErrInvalidPEM)
		}
		priv = k
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	return s.add(priv), nil
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}
