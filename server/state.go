package server

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jmcleod/ironlink/crypto"
)

// serverChannel is the responder's half of an open channel.
type serverChannel struct {
	id        string
	key       *crypto.SymmetricKey
	expiresAt time.Time

	mu sync.Mutex
	// identified is the node that passed Phase 2 on this channel.
	identified string
}

func (c *serverChannel) identifiedNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identified
}

func (c *serverChannel) setIdentified(nodeID string) {
	c.mu.Lock()
	c.identified = nodeID
	c.mu.Unlock()
}

type nodeSession struct {
	token        string
	nodeID       string
	channelID    string
	capabilities []string
	expiresAt    time.Time
}

type pendingChallenge struct {
	channelID string
	nodeID    string
	expiresAt time.Time
}

// state holds everything the responder creates at runtime. Channels,
// challenges and client nonces are bounded LRU caches; evicting a channel
// destroys its key and its sessions.
type state struct {
	channels   *lru.Cache
	challenges *lru.Cache
	nonces     *lru.Cache

	// challengeMu makes take-and-remove of a challenge atomic.
	challengeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*nodeSession
}

func newState(capacity int) (*state, error) {
	st := &state{sessions: make(map[string]*nodeSession)}
	// Called outside the cache lock; st.mu is never held while the channel
	// cache is touched.
	channels, err := lru.NewWithEvict(capacity, func(_, v any) {
		c := v.(*serverChannel)
		c.key.Destroy()
		st.dropChannelSessions(c.id)
	})
	if err != nil {
		return nil, err
	}
	challenges, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	nonces, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	st.channels, st.challenges, st.nonces = channels, challenges, nonces
	return st, nil
}

// rememberNonce records a client nonce and reports whether it was new.
func (st *state) rememberNonce(nonce string, now time.Time) bool {
	seen, _ := st.nonces.ContainsOrAdd(nonce, now)
	return !seen
}

func (st *state) addChannel(c *serverChannel) {
	st.channels.Add(c.id, c)
}

// channel returns a live channel. Expired channels are dropped.
func (st *state) channel(id string, now time.Time) (*serverChannel, bool) {
	v, ok := st.channels.Get(id)
	if !ok {
		return nil, false
	}
	c := v.(*serverChannel)
	if !now.Before(c.expiresAt) {
		st.channels.Remove(id)
		return nil, false
	}
	return c, true
}

func (st *state) addChallenge(data string, p pendingChallenge) {
	st.challenges.Add(data, p)
}

// takeChallenge removes and returns a challenge. A challenge is usable once.
func (st *state) takeChallenge(data string, now time.Time) (pendingChallenge, bool) {
	st.challengeMu.Lock()
	defer st.challengeMu.Unlock()
	v, ok := st.challenges.Peek(data)
	if !ok {
		return pendingChallenge{}, false
	}
	st.challenges.Remove(data)
	p := v.(pendingChallenge)
	if !now.Before(p.expiresAt) {
		return pendingChallenge{}, false
	}
	return p, true
}

func (st *state) addSession(s *nodeSession, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for tok, old := range st.sessions {
		if !now.Before(old.expiresAt) {
			delete(st.sessions, tok)
		}
	}
	st.sessions[s.token] = s
}

// session returns a copy of a live session bound to channelID.
func (st *state) session(token, channelID string, now time.Time) (nodeSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[token]
	if !ok || s.channelID != channelID {
		return nodeSession{}, false
	}
	if !now.Before(s.expiresAt) {
		delete(st.sessions, token)
		return nodeSession{}, false
	}
	cp := *s
	cp.capabilities = slices.Clone(s.capabilities)
	return cp, true
}

func (st *state) extendSession(token string, expiresAt time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[token]; ok {
		s.expiresAt = expiresAt
	}
}

func (st *state) revokeSession(token, channelID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[token]
	if !ok || s.channelID != channelID {
		return false
	}
	delete(st.sessions, token)
	return true
}

func (st *state) dropChannelSessions(channelID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for tok, s := range st.sessions {
		if s.channelID == channelID {
			delete(st.sessions, tok)
		}
	}
}

// dropChannel forgets a channel and, through eviction, its sessions. Used
// by tests to simulate a responder restart.
func (st *state) dropChannel(id string) {
	st.channels.Remove(id)
}
