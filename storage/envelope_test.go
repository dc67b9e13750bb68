package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironlink/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	plain := []byte("top secret")
	aad := []byte("context")

	env, err := SealRecord(key, plain, aad)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Len(t, env.Nonce, util.GCMNonceSize)

	got, err := OpenRecord(key, env, aad)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("wrong context"))
		assert.Error(t, err)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, _ := util.NewAESKey()
		_, err := OpenRecord(other, env, aad)
		assert.Error(t, err)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		bad := *env
		bad.Ver = 99
		_, err := OpenRecord(key, &bad, aad)
		assert.ErrorContains(t, err, "version")
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		bad := *env
		bad.Scheme = "rot13"
		_, err := OpenRecord(key, &bad, aad)
		assert.ErrorContains(t, err, "scheme")
	})

	t.Run("ShortNonce", func(t *testing.T) {
		bad := *env
		bad.Nonce = env.Nonce[:4]
		_, err := OpenRecord(key, &bad, aad)
		assert.Error(t, err)
	})
}
