package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestKeyAgreement_BothPeersDeriveSameKey(t *testing.T) {
	client, err := GenerateEphemeralKeyPair()
	require.NoError(t, err)
	server, err := GenerateEphemeralKeyPair()
	require.NoError(t, err)

	// Round-trip the public keys through SPKI like the wire does.
	clientDER, err := client.PublicKeySPKI()
	require.NoError(t, err)
	serverDER, err := server.PublicKeySPKI()
	require.NoError(t, err)
	clientPub, err := ParsePublicKeySPKI(clientDER)
	require.NoError(t, err)
	serverPub, err := ParsePublicKeySPKI(serverDER)
	require.NoError(t, err)

	cn, sn := fill(ClientNonceSize, 0xC1), fill(ServerNonceSize, 0x5E)

	kc, err := DeriveSymmetricKey(client, serverPub, cn, sn)
	require.NoError(t, err)
	ks, err := DeriveSymmetricKey(server, clientPub, cn, sn)
	require.NoError(t, err)
	assert.True(t, kc.Equal(ks), "peers derived different keys")

	secret, err := client.SharedSecret(serverPub)
	require.NoError(t, err)
	assert.Len(t, secret, SharedSecretSize)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := fill(SharedSecretSize, 0x01)
	cn, sn := fill(ClientNonceSize, 0x02), fill(ServerNonceSize, 0x03)

	k1, err := DeriveKey(secret, cn, sn, []byte(HKDFInfo))
	require.NoError(t, err)
	k2, err := DeriveKey(secret, cn, sn, []byte(HKDFInfo))
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
}

// Recomputes the derivation with x/crypto/hkdf directly, the way an
// independent peer implementation would, and pins the salt order.
func TestDeriveKey_MatchesIndependentHKDF(t *testing.T) {
	secret := fill(SharedSecretSize, 0xAB)
	cn, sn := fill(ClientNonceSize, 0x11), fill(ServerNonceSize, 0x22)

	got, err := DeriveKey(secret, cn, sn, []byte(HKDFInfo))
	require.NoError(t, err)

	salt := append(append([]byte{}, cn...), sn...)
	require.Len(t, salt, 48)
	want := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(HKDFInfo)), want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	swapped := append(append([]byte{}, sn...), cn...)
	diverged := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, secret, swapped, []byte(HKDFInfo)), diverged)
	require.NoError(t, err)
	assert.NotEqual(t, diverged, got, "salt order must be clientNonce || serverNonce")

	other, err := DeriveKey(secret, cn, sn, []byte("IronLink-Channel-v2.0"))
	require.NoError(t, err)
	assert.NotEqual(t, other, got, "info string must namespace the derivation")
}

// DeriveKey's output is bound to every input: changing any byte of the
// secret or either nonce changes the key.
func TestDeriveKey_InputSensitivity(t *testing.T) {
	secret := fill(SharedSecretSize, 1)
	cn, sn := fill(ClientNonceSize, 2), fill(ServerNonceSize, 3)
	info := []byte(HKDFInfo)
	base, err := DeriveKey(secret, cn, sn, info)
	require.NoError(t, err)
	assert.Len(t, base, 32)

	for name, mutate := range map[string][]byte{"secret": secret, "client nonce": cn, "server nonce": sn} {
		mutate[0] ^= 0xff
		got, err := DeriveKey(secret, cn, sn, info)
		require.NoError(t, err)
		assert.NotEqual(t, base, got, name)
		mutate[0] ^= 0xff
	}
	again, err := DeriveKey(secret, cn, sn, info)
	require.NoError(t, err)
	assert.Equal(t, base, again, "derivation is deterministic")
}

func TestDeriveKey_RejectsWrongLengths(t *testing.T) {
	secret := fill(SharedSecretSize, 1)
	cn, sn := fill(ClientNonceSize, 2), fill(ServerNonceSize, 3)
	info := []byte(HKDFInfo)

	_, err := DeriveKey(secret[:32], cn, sn, info)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DeriveKey(secret, cn[:16], sn, info)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DeriveKey(secret, cn, fill(32, 3), info)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func newTestKey(t *testing.T) *SymmetricKey {
	t.Helper()
	k, err := NewSymmetricKey(fill(32, 0x42))
	require.NoError(t, err)
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := newTestKey(t)
	payloads := [][]byte{nil, []byte("x"), []byte(`{"hello":"world"}`), fill(4096, 0x7F)}

	for i, p := range payloads {
		t.Run(fmt.Sprintf("payload-%d", i), func(t *testing.T) {
			sealed, err := Encrypt(p, key)
			require.NoError(t, err)
			assert.Len(t, sealed.IV, 12)
			assert.Len(t, sealed.AuthTag, 16)
			assert.Len(t, sealed.Ciphertext, len(p))

			got, err := Decrypt(sealed, key)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(p, got))
		})
	}
}

func TestDecrypt_TamperingFails(t *testing.T) {
	key := newTestKey(t)
	plain := []byte("attack at dawn")

	fields := map[string]func(s *Sealed) []byte{
		"ciphertext": func(s *Sealed) []byte { return s.Ciphertext },
		"iv":         func(s *Sealed) []byte { return s.IV },
		"authTag":    func(s *Sealed) []byte { return s.AuthTag },
	}
	for name, field := range fields {
		t.Run(name, func(t *testing.T) {
			sealed, err := Encrypt(plain, key)
			require.NoError(t, err)
			buf := field(sealed)
			for i := range buf {
				orig := buf[i]
				buf[i] ^= 0x80
				got, err := Decrypt(sealed, key)
				assert.ErrorIs(t, err, ErrDecryptionFailed, "byte %d", i)
				assert.Nil(t, got)
				buf[i] = orig
			}
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		sealed, err := Encrypt(plain, key)
		require.NoError(t, err)
		other, err := NewSymmetricKey(fill(32, 0x43))
		require.NoError(t, err)
		_, err = Decrypt(sealed, other)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated tag", func(t *testing.T) {
		sealed, err := Encrypt(plain, key)
		require.NoError(t, err)
		sealed.AuthTag = sealed.AuthTag[:8]
		_, err = Decrypt(sealed, key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestSymmetricKey_ExportImport(t *testing.T) {
	key := newTestKey(t)

	raw, err := ExportKey(key)
	require.NoError(t, err)
	assert.Equal(t, fill(32, 0x42), raw)

	imported, err := ImportKey(raw)
	require.NoError(t, err)
	assert.True(t, key.Equal(imported))

	_, err = ImportKey(raw[:16])
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSymmetricKey_JSON(t *testing.T) {
	key := newTestKey(t)

	b, err := json.Marshal(key)
	require.NoError(t, err)

	var decoded SymmetricKey
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, key.Equal(&decoded))

	assert.Error(t, json.Unmarshal([]byte(`{"alg":"A128GCM","k":"AAAA"}`), &decoded))
}

func TestSymmetricKey_NeverPrints(t *testing.T) {
	key := newTestKey(t)
	assert.Equal(t, "[redacted]", key.String())
	assert.Equal(t, "[redacted]", fmt.Sprint(key))
	assert.NotContains(t, fmt.Sprintf("%#v", key), "BBBB")
	assert.Equal(t, "[redacted]", key.LogValue().String())
}

func TestSymmetricKey_Destroy(t *testing.T) {
	key := newTestKey(t)
	key.Destroy()

	_, err := Encrypt([]byte("x"), key)
	assert.ErrorIs(t, err, ErrKeyDestroyed)
	_, err = ExportKey(key)
	assert.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestParsePublicKeySPKI_RejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeySPKI([]byte("not der"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
