package server

import (
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/internal/uuid"
	"github.com/jmcleod/ironlink/pki"
	"github.com/jmcleod/ironlink/protocol"
)

var (
	ErrNodeExists = errors.New("node already registered")
	ErrUserExists = errors.New("user already exists")
)

// Node is a registered node identity.
type Node struct {
	ID             string                  `json:"nodeId"`
	CertificatePEM string                  `json:"certificate"`
	Status         protocol.IdentifyStatus `json:"status"`
	Capabilities   []string                `json:"capabilities,omitempty"`
	RegistrationID string                  `json:"registrationId,omitempty"`
}

// User is a login the responder accepts.
type User struct {
	Subject string `json:"sub,omitempty"`
	Login   string `json:"login"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

type nodeRecord struct {
	Node
	cert        *x509.Certificate
	fingerprint string
}

type userRecord struct {
	User
	hash util.PasswordHash
}

type registry struct {
	mu    sync.RWMutex
	nodes map[string]*nodeRecord
	users map[string]*userRecord
}

func newRegistry() *registry {
	return &registry{
		nodes: make(map[string]*nodeRecord),
		users: make(map[string]*userRecord),
	}
}

// RegisterNode adds n. The certificate must parse and its common name must
// equal the node id. An empty RegistrationID is generated.
func (s *Server) RegisterNode(n Node) error {
	if n.ID == "" {
		return errors.New("node id is required")
	}
	if !n.Status.Valid() {
		return fmt.Errorf("node %s: %w: %d", n.ID, protocol.ErrInvalidStatus, int(n.Status))
	}
	cert, err := pki.ParseCertificatePEM(n.CertificatePEM)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	if cert.Subject.CommonName != n.ID {
		return fmt.Errorf("node %s: certificate is for %q", n.ID, cert.Subject.CommonName)
	}
	if n.RegistrationID == "" {
		n.RegistrationID = uuid.New()
	}
	n.Capabilities = slices.Clone(n.Capabilities)

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	if _, ok := s.registry.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.ID)
	}
	s.registry.nodes[n.ID] = &nodeRecord{Node: n, cert: cert, fingerprint: pki.Fingerprint(cert)}
	return nil
}

// SetNodeStatus changes a registered node's status, for example to revoke
// it. Existing sessions are not affected.
func (s *Server) SetNodeStatus(nodeID string, status protocol.IdentifyStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidStatus, int(status))
	}
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	rec, ok := s.registry.nodes[nodeID]
	if !ok {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	rec.Status = status
	return nil
}

func (s *Server) node(id string) (*nodeRecord, bool) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	rec, ok := s.registry.nodes[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	cp.Capabilities = slices.Clone(rec.Capabilities)
	return &cp, true
}

// AddUser registers a login with an argon2id password verifier. The login
// is NFKC normalised the same way clients normalise it.
func (s *Server) AddUser(u User, password string) error {
	u.Login = util.Normalize(u.Login)
	if u.Login == "" {
		return errors.New("login is required")
	}
	if u.Subject == "" {
		u.Subject = uuid.New()
	}
	hash, err := util.HashPassword(password, s.passwordParams)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	if _, ok := s.registry.users[u.Login]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Login)
	}
	s.registry.users[u.Login] = &userRecord{User: u, hash: hash}
	return nil
}

func (s *Server) user(login string) (*userRecord, bool) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	rec, ok := s.registry.users[login]
	return rec, ok
}
