package handshake

import (
	"errors"
	"time"

	"github.com/jmcleod/ironlink/channel"
	"github.com/jmcleod/ironlink/session"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("orchestrator closed")

// State is the orchestrator's position in the handshake.
type State int

const (
	StateIdle State = iota
	StateChannelReady
	StateSessionReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChannelReady:
		return "channel_ready"
	case StateSessionReady:
		return "session_ready"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// Handle is the channel and node session a caller may use. Callers that
// joined the same handshake receive the same pointers.
type Handle struct {
	Channel *channel.State
	Session *session.NodeSession
}

// Status is a read-only snapshot of the orchestrator.
type Status struct {
	State            State
	ChannelID        string
	ChannelExpiresAt time.Time
	NodeID           string
	SessionExpiresAt time.Time
	Capabilities     []string
	LastError        error
}
