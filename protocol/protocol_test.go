package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironlink/crypto"
)

func TestIdentifyStatus_NumericOneIsAuthorized(t *testing.T) {
	var resp IdentifyResponse
	require.NoError(t, json.Unmarshal([]byte(`{"isKnown":true,"status":1,"registrationId":"reg-1"}`), &resp))
	assert.Equal(t, StatusAuthorized, resp.Status)
	assert.True(t, resp.Status == StatusAuthorized)
}

func TestIdentifyStatus_StringFormIsRejected(t *testing.T) {
	var resp IdentifyResponse
	err := json.Unmarshal([]byte(`{"isKnown":true,"status":"Authorized","registrationId":"reg-1"}`), &resp)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.NotEqual(t, StatusAuthorized, resp.Status)

	err = json.Unmarshal([]byte(`{"status":"1"}`), &resp)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestIdentifyStatus_UnknownValuesAreRejected(t *testing.T) {
	for _, raw := range []string{`4`, `-1`, `1.5`, `true`, `null`} {
		var s IdentifyStatus
		err := s.UnmarshalJSON([]byte(raw))
		if raw == `null` {
			// encoding/json treats null as a no-op for ints.
			assert.NoError(t, err)
			assert.Equal(t, StatusUnknown, s)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidStatus, raw)
	}
}

func TestIdentifyStatus_MarshalsAsInteger(t *testing.T) {
	b, err := json.Marshal(IdentifyResponse{IsKnown: true, Status: StatusPending})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isKnown":true,"status":2}`, string(b))

	_, err = json.Marshal(IdentifyStatus(9))
	assert.Error(t, err)
	assert.Equal(t, "Revoked", StatusRevoked.String())
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 14, 9, 30, 15, 123456789, time.FixedZone("X", 3600))
	s := FormatTimestamp(ts)
	assert.Equal(t, "2026-10-14T08:30:15.123Z", s)

	parsed, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts.Truncate(time.Millisecond)))

	parsed, err = ParseTimestamp("2026-10-14T10:30:15+02:00")
	require.NoError(t, err)
	assert.Equal(t, 8, parsed.Hour())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func testKey(t *testing.T, b byte) *crypto.SymmetricKey {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	k, err := crypto.NewSymmetricKey(raw)
	require.NoError(t, err)
	return k
}

func TestEnvelope_JSONRoundTrip(t *testing.T) {
	key := testKey(t, 7)

	body, err := SealJSON(ChallengeRequest{ChannelID: "c1", NodeID: "n1", Timestamp: "t"}, key)
	require.NoError(t, err)

	var env map[string]string
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Contains(t, env, "encryptedData")
	assert.Contains(t, env, "iv")
	assert.Contains(t, env, "authTag")

	var out ChallengeRequest
	require.NoError(t, OpenJSON(body, key, &out))
	assert.Equal(t, "c1", out.ChannelID)
}

func TestEnvelope_FailuresAreDecryptionFailed(t *testing.T) {
	key := testKey(t, 7)

	t.Run("error body is not an envelope", func(t *testing.T) {
		err := OpenJSON([]byte(`[1,2,3]`), key, nil)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("bad iv length", func(t *testing.T) {
		env, err := SealEnvelope([]byte("p"), key)
		require.NoError(t, err)
		env.IV = "AAAA"
		_, err = OpenEnvelope(env, key)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("bad base64", func(t *testing.T) {
		env, err := SealEnvelope([]byte("p"), key)
		require.NoError(t, err)
		env.EncryptedData = "!!"
		_, err = OpenEnvelope(env, key)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("other key", func(t *testing.T) {
		body, err := SealJSON(map[string]int{"a": 1}, key)
		require.NoError(t, err)
		err = OpenJSON(body, testKey(t, 8), nil)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})
}

func TestDefaultEndpoints(t *testing.T) {
	e := DefaultEndpoints()
	for _, p := range []string{e.ChannelOpen, e.NodeIdentify, e.NodeChallenge, e.NodeAuthenticate,
		e.UserLogin, e.UserRefreshToken, e.SessionRenew, e.SessionRevoke} {
		assert.NotEmpty(t, p)
	}
}

func TestSignedData_ConcatenatesInOrder(t *testing.T) {
	got := SignedData("chal", "ch-1", "node-1", "2024-01-02T03:04:05.000Z")
	assert.Equal(t, "chalch-1node-1"+"2024-01-02T03:04:05.000Z", string(got))
}
