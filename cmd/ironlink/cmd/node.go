package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironlink/channel"
	"github.com/jmcleod/ironlink/handshake"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/pki"
	"github.com/jmcleod/ironlink/session"
	"github.com/jmcleod/ironlink/storage"
	bboltstorage "github.com/jmcleod/ironlink/storage/bbolt"
	"github.com/jmcleod/ironlink/transport"
	"github.com/jmcleod/ironlink/usersession"
)

// Files kept in the data directory.
const (
	keyFileName     = "node.key"
	certFileName    = "node.crt"
	storeFileName   = "ironlink.db"
	wrapKeyFileName = "store.key"

	userTokenKey = "ironlink.user"
)

// writeNodeKey generates an RSA node key and a self-signed certificate for
// id and writes both to dir.
func writeNodeKey(dir, id string, validity time.Duration, force bool) (certPath string, err error) {
	if id == "" {
		return "", errors.New("--node-id is required")
	}
	keyPath := filepath.Join(dir, keyFileName)
	certPath = filepath.Join(dir, certFileName)
	if !force {
		if _, err := os.Stat(keyPath); err == nil {
			return "", fmt.Errorf("%s already exists; use --force to replace it", keyPath)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	ks := pki.NewSoftwareKeyStore()
	keyID, err := ks.GenerateKey()
	if err != nil {
		return "", err
	}
	key, err := ks.Signer(keyID)
	if err != nil {
		return "", err
	}
	certPEM, err := pki.NodeCertificate(key, id, validity)
	if err != nil {
		return "", err
	}
	keyPEM, err := ks.ExportPEM(keyID)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(keyPath, []byte(keyPEM), 0o600); err != nil {
		return "", fmt.Errorf("writing node key: %w", err)
	}
	if err := os.WriteFile(certPath, []byte(certPEM), 0o644); err != nil {
		return "", fmt.Errorf("writing node certificate: %w", err)
	}
	return certPath, nil
}

// loadIdentity reads the node key and certificate from dir. An empty id
// is taken from the certificate's common name.
func loadIdentity(dir, id string) (session.Identity, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFileName))
	if err != nil {
		return session.Identity{}, fmt.Errorf("reading node key (run keygen first): %w", err)
	}
	defer util.WipeBytes(keyPEM)
	certPEM, err := os.ReadFile(filepath.Join(dir, certFileName))
	if err != nil {
		return session.Identity{}, fmt.Errorf("reading node certificate: %w", err)
	}
	cert, err := pki.ParseCertificatePEM(string(certPEM))
	if err != nil {
		return session.Identity{}, err
	}
	if id == "" {
		id = cert.Subject.CommonName
	}
	if id != cert.Subject.CommonName {
		return session.Identity{}, fmt.Errorf("certificate is for node %q, not %q", cert.Subject.CommonName, id)
	}

	ks := pki.NewSoftwareKeyStore()
	keyID, err := ks.ImportPEM(string(keyPEM))
	if err != nil {
		return session.Identity{}, err
	}
	signer, err := pki.SignerFromStore(ks, keyID)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{NodeID: id, CertificatePEM: string(certPEM), Signer: signer}, nil
}

// loadWrappingKey returns the 32-byte key sealing the local store,
// creating it on first use.
func loadWrappingKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, wrapKeyFileName)
	key, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if key, err = util.NewAESKey(); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, fmt.Errorf("writing store key: %w", err)
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store key: %w", err)
	}
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("%s must hold %d bytes", path, util.AESKeySize)
	}
	return key, nil
}

// client is the node side stack: transport, handshake, user session and
// the sealed local store they persist to.
type client struct {
	store *bboltstorage.Store
	orch  *handshake.Orchestrator
	users *usersession.Service
}

func openClient(ctx context.Context, logger *slog.Logger) (*client, error) {
	identity, err := loadIdentity(dataDir, nodeID)
	if err != nil {
		return nil, err
	}
	wrap, err := loadWrappingKey(dataDir)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrap)
	store, err := bboltstorage.NewStoreFromFile(filepath.Join(dataDir, storeFileName), bboltstorage.DefaultBucket, wrap,
		&bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	tc := transport.NewHTTP(serverURL, nil)
	orch := handshake.New(tc,
		channel.NewEstablisher(tc, channel.WithLogger(logger)),
		session.NewNegotiator(tc, identity, session.WithLogger(logger)),
		handshake.WithLogger(logger),
		handshake.WithPersistence(handshake.NewStorePersistence(store)),
	)
	users := usersession.New(orch,
		usersession.WithLogger(logger),
		usersession.WithOnChange(func(t *usersession.Token) {
			var err error
			if t == nil {
				err = storage.RemoveItem(context.Background(), store, userTokenKey)
			} else {
				err = storage.SetItem(context.Background(), store, userTokenKey, *t)
			}
			if err != nil {
				logger.Warn("saving user token failed", "error", err)
			}
		}),
	)

	c := &client{store: store, orch: orch, users: users}
	if err := c.restore(ctx); err != nil {
		logger.Debug("no saved user token restored", "error", err)
	}
	return c, nil
}

// restore reinstalls a saved user token. Expired tokens are dropped.
func (c *client) restore(ctx context.Context) error {
	t, ok, err := storage.GetItem[usersession.Token](ctx, c.store, userTokenKey)
	if err != nil || !ok {
		return err
	}
	if err := c.users.Restore(t); err != nil {
		storage.RemoveItem(ctx, c.store, userTokenKey)
		return err
	}
	return nil
}

func (c *client) Close() {
	c.users.Close()
	c.orch.Close()
	c.store.Close()
}
