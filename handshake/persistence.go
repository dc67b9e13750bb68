package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/jmcleod/ironlink/channel"
	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/session"
	"github.com/jmcleod/ironlink/storage"
)

// Persistence durably saves channel and session state so a restarted client
// can resume without a full handshake.
type Persistence interface {
	PersistChannel(ctx context.Context, ch *channel.State) error
	PersistSession(ctx context.Context, s *session.NodeSession) error
	// Load returns whatever was saved; either value may be nil.
	Load(ctx context.Context) (*channel.State, *session.NodeSession, error)
	Clear(ctx context.Context) error
}

// Storage keys used by StorePersistence.
const (
	KeyChannel = "ironlink.channel"
	KeySession = "ironlink.session"
)

type channelRecord struct {
	ID        string               `json:"id"`
	Key       *crypto.SymmetricKey `json:"key"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

type sessionRecord struct {
	NodeID         string    `json:"nodeId"`
	RegistrationID string    `json:"registrationId"`
	Token          string    `json:"token"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ChannelID      string    `json:"channelId"`
}

// StorePersistence keeps state in a storage.Store. The store is responsible
// for encryption at rest.
type StorePersistence struct {
	store storage.Store
}

var _ Persistence = (*StorePersistence)(nil)

// NewStorePersistence returns a Persistence over s.
func NewStorePersistence(s storage.Store) *StorePersistence {
	return &StorePersistence{store: s}
}

// PersistChannel saves ch and drops any saved session, which belonged to the
// previous channel.
func (p *StorePersistence) PersistChannel(ctx context.Context, ch *channel.State) error {
	if err := storage.RemoveItem(ctx, p.store, KeySession); err != nil {
		return err
	}
	return storage.SetItem(ctx, p.store, KeyChannel, channelRecord{ID: ch.ID, Key: ch.Key, ExpiresAt: ch.ExpiresAt})
}

func (p *StorePersistence) PersistSession(ctx context.Context, s *session.NodeSession) error {
	return storage.SetItem(ctx, p.store, KeySession, sessionRecord{
		NodeID:         s.NodeID,
		RegistrationID: s.RegistrationID,
		Token:          s.Token,
		Capabilities:   s.Capabilities,
		ExpiresAt:      s.ExpiresAt,
		ChannelID:      s.ChannelID,
	})
}

func (p *StorePersistence) Load(ctx context.Context) (*channel.State, *session.NodeSession, error) {
	cr, ok, err := storage.GetItem[channelRecord](ctx, p.store, KeyChannel)
	if err != nil || !ok {
		return nil, nil, err
	}
	ch := &channel.State{ID: cr.ID, Key: cr.Key, ExpiresAt: cr.ExpiresAt}

	sr, ok, err := storage.GetItem[sessionRecord](ctx, p.store, KeySession)
	if err != nil || !ok {
		return ch, nil, err
	}
	return ch, &session.NodeSession{
		NodeID:         sr.NodeID,
		RegistrationID: sr.RegistrationID,
		Token:          sr.Token,
		Capabilities:   sr.Capabilities,
		ExpiresAt:      sr.ExpiresAt,
		ChannelID:      sr.ChannelID,
	}, nil
}

func (p *StorePersistence) Clear(ctx context.Context) error {
	return errors.Join(
		storage.RemoveItem(ctx, p.store, KeySession),
		storage.RemoveItem(ctx, p.store, KeyChannel),
	)
}
