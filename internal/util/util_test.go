package util

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpenDetached", func(t *testing.T) {
		nonce, cipherText, tag, err := SealGCM(plainText, key, aad)
		if err != nil {
			t.Fatalf("SealGCM failed: %v", err)
		}
		if len(nonce) != GCMNonceSize || len(tag) != GCMTagSize || len(cipherText) != len(plainText) {
			t.Fatalf("unexpected sizes: nonce=%d ct=%d tag=%d", len(nonce), len(cipherText), len(tag))
		}

		decrypted, err := OpenGCM(nonce, cipherText, tag, key, aad)
		if err != nil {
			t.Fatalf("OpenGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("FreshNoncePerCall", func(t *testing.T) {
		n1, _, _, _ := SealGCM(plainText, key, nil)
		n2, _, _, _ := SealGCM(plainText, key, nil)
		if bytes.Equal(n1, n2) {
			t.Error("nonces must differ between calls")
		}
	})

	t.Run("TamperTag", func(t *testing.T) {
		nonce, cipherText, tag, _ := SealGCM(plainText, key, aad)
		tag[0] ^= 0x01
		_, err := OpenGCM(nonce, cipherText, tag, key, aad)
		if !errors.Is(err, ErrGCMOpen) {
			t.Errorf("expected ErrGCMOpen, got %v", err)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[GCMNonceSize] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestHKDF_RFC5869(t *testing.T) {
	tests := []struct {
		name, ikm, salt, info, okm string
		length                     int
	}{
		{
			name:   "TC1",
			ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			salt:   "000102030405060708090a0b0c",
			info:   "f0f1f2f3f4f5f6f7f8f9",
			length: 42,
			okm:    "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
		},
		{
			name:   "TC3",
			ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			length: 42,
			okm:    "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ikm, _ := hex.DecodeString(tc.ikm)
			salt, _ := hex.DecodeString(tc.salt)
			info, _ := hex.DecodeString(tc.info)
			got, err := HKDF(ikm, salt, info, tc.length)
			if err != nil {
				t.Fatalf("HKDF failed: %v", err)
			}
			if hex.EncodeToString(got) != tc.okm {
				t.Errorf("okm mismatch:\n got  %x\n want %s", got, tc.okm)
			}
		})
	}

	t.Run("RejectBadLength", func(t *testing.T) {
		if _, err := HKDF([]byte("s"), nil, nil, 0); err == nil {
			t.Error("expected error for zero length")
		}
	})
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}

	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	if got := Concat([]byte("ab"), nil, []byte("c")); string(got) != "abc" {
		t.Errorf("Concat = %q", got)
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Error("WipeBytes did not zero the slice")
	}
}

func TestEncoding(t *testing.T) {
	encoded := B64Encode([]byte("test string"))
	decoded, err := B64Decode(encoded)
	if err != nil {
		t.Fatalf("B64Decode failed: %v", err)
	}
	if string(decoded) != "test string" {
		t.Errorf("expected round trip, got %s", decoded)
	}

	if got := Normalize("  café "); got != "café" {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize("ａdmin"); got != "admin" {
		t.Errorf("Normalize fullwidth = %q", got)
	}
}

func TestPasswordHash(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32}

	h, err := HashPassword("correct horse battery staple", params)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok, err := VerifyPassword("correct horse battery staple", h)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword = %v, %v", ok, err)
	}

	ok, _ = VerifyPassword("wrong", h)
	if ok {
		t.Error("expected mismatch for wrong password")
	}

	if _, err := DeriveArgon2idKey("x", h.Salt, Argon2idParams{Time: 1, Parallelism: 1, KeyLen: 16}); err == nil {
		t.Error("expected error for 16-byte key length")
	}
}

func TestRandomBytes(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b2, _ := RandomBytes(32)
	if len(b1) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(b1))
	}
	if bytes.Equal(b1, b2) {
		t.Error("RandomBytes should produce different outputs")
	}
}
