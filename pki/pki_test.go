package pki_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironlink/pki"
)

func newSigner(t *testing.T) (*pki.SoftwareKeyStore, string, *pki.Signer) {
	t.Helper()
	ks := pki.NewSoftwareKeyStore()
	id, err := ks.GenerateKey()
	require.NoError(t, err)
	s, err := pki.SignerFromStore(ks, id)
	require.NoError(t, err)
	return ks, id, s
}

func TestSoftwareKeyStore_RSA2048(t *testing.T) {
	ks, id, _ := newSigner(t)
	key, err := ks.Signer(id)
	require.NoError(t, err)
	rsaKey, ok := key.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, pki.RSAKeyBits, rsaKey.N.BitLen())
}

func TestSoftwareKeyStore_ExportImport(t *testing.T) {
	ks, id, s := newSigner(t)
	pemData, err := ks.ExportPEM(id)
	require.NoError(t, err)
	assert.Contains(t, pemData, "BEGIN PRIVATE KEY")

	other := pki.NewSoftwareKeyStore()
	id2, err := other.ImportPEM(pemData)
	require.NoError(t, err)
	s2, err := pki.SignerFromStore(other, id2)
	require.NoError(t, err)
	assert.True(t, s.Public().(*rsa.PublicKey).Equal(s2.Public()))
}

func TestSoftwareKeyStore_ImportPKCS1(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	_, err = pki.NewSoftwareKeyStore().ImportPEM(string(pemData))
	assert.NoError(t, err)
}

func TestSoftwareKeyStore_ImportRejects(t *testing.T) {
	ks := pki.NewSoftwareKeyStore()

	_, err := ks.ImportPEM("not pem")
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)

	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(ec)
	require.NoError(t, err)
	_, err = ks.ImportPEM(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestSoftwareKeyStore_Delete(t *testing.T) {
	ks, id, _ := newSigner(t)
	require.NoError(t, ks.Delete(id))
	_, err := ks.Signer(id)
	assert.ErrorIs(t, err, pki.ErrKeyNotFound)
	_, err = ks.ExportPEM(id)
	assert.ErrorIs(t, err, pki.ErrKeyNotFound)
}

func TestSignVerify(t *testing.T) {
	_, _, s := newSigner(t)
	data := []byte("challenge||channel||node||2026-01-01T00:00:00.000Z")

	sig, err := s.Sign(t.Context(), data)
	require.NoError(t, err)
	assert.Len(t, sig, 256)
	require.NoError(t, pki.VerifySignature(s.Public(), data, sig))

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 1
	assert.ErrorIs(t, pki.VerifySignature(s.Public(), tampered, sig), pki.ErrInvalidSignature)

	ec, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.ErrorIs(t, pki.VerifySignature(ec.Public(), data, sig), pki.ErrInvalidSignature)
}

func TestSign_CanceledContext(t *testing.T) {
	_, _, s := newSigner(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.Sign(ctx, []byte("x"))
	assert.Error(t, err)
}

func TestNodeCertificate(t *testing.T) {
	ks, id, s := newSigner(t)
	key, err := ks.Signer(id)
	require.NoError(t, err)

	certPEM, err := pki.NodeCertificate(key, "node-7", 0)
	require.NoError(t, err)

	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cert.Subject.CommonName)
	assert.True(t, s.Public().(*rsa.PublicKey).Equal(cert.PublicKey))
	assert.Len(t, pki.Fingerprint(cert), 64)
	// Self-signed leaf; CheckSignatureFrom would require a CA parent.
	assert.False(t, cert.IsCA)
	assert.NoError(t, cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature))
}

func TestParseCertificatePEM_Invalid(t *testing.T) {
	_, err := pki.ParseCertificatePEM("-----BEGIN FOO-----\nAAAA\n-----END FOO-----\n")
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}
