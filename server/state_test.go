package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/internal/util"
)

func newTestChannel(t *testing.T, id string, expiresAt time.Time) *serverChannel {
	t.Helper()
	raw, err := util.NewAESKey()
	require.NoError(t, err)
	key, err := crypto.NewSymmetricKey(raw)
	require.NoError(t, err)
	return &serverChannel{id: id, key: key, expiresAt: expiresAt}
}

func TestState_EvictionDropsKeyAndSessions(t *testing.T) {
	st, err := newState(1)
	require.NoError(t, err)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	a := newTestChannel(t, "chan-a", now.Add(time.Hour))
	st.addChannel(a)
	st.addSession(&nodeSession{token: "tok-a", nodeID: "node-1", channelID: a.id, expiresAt: now.Add(time.Hour)}, now)
	_, ok := st.session("tok-a", a.id, now)
	require.True(t, ok)

	// Capacity one: adding b evicts a.
	b := newTestChannel(t, "chan-b", now.Add(time.Hour))
	st.addChannel(b)
	st.addSession(&nodeSession{token: "tok-b", nodeID: "node-1", channelID: b.id, expiresAt: now.Add(time.Hour)}, now)

	_, ok = st.channel(a.id, now)
	assert.False(t, ok)
	_, ok = st.session("tok-a", a.id, now)
	assert.False(t, ok, "sessions of an evicted channel are gone")
	_, err = crypto.ExportKey(a.key)
	assert.ErrorIs(t, err, crypto.ErrKeyDestroyed)

	_, ok = st.session("tok-b", b.id, now)
	assert.True(t, ok)
}

func TestState_ExpiredChannelDropsSessions(t *testing.T) {
	st, err := newState(8)
	require.NoError(t, err)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	c := newTestChannel(t, "chan-a", now.Add(time.Minute))
	st.addChannel(c)
	st.addSession(&nodeSession{token: "tok-a", channelID: c.id, expiresAt: now.Add(time.Hour)}, now)

	later := now.Add(2 * time.Minute)
	_, ok := st.channel(c.id, later)
	assert.False(t, ok)
	st.mu.Lock()
	_, kept := st.sessions["tok-a"]
	st.mu.Unlock()
	assert.False(t, kept)
}
