package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/ironlink/server"
)

// registryFile is the JSON document the server command loads at start.
//
//	{
//	  "nodes": [{"nodeId": "node-1", "certificateFile": "node-1.crt", "status": 1,
//	             "capabilities": ["telemetry:send"]}],
//	  "users": [{"login": "ada", "password": "...", "email": "ada@example.com"}]
//	}
type registryFile struct {
	Nodes []registryNode `json:"nodes"`
	Users []registryUser `json:"users"`
}

type registryNode struct {
	server.Node
	// CertificateFile is read into CertificatePEM when the inline
	// certificate is empty. Relative paths resolve against the registry
	// file's directory.
	CertificateFile string `json:"certificateFile,omitempty"`
}

type registryUser struct {
	server.User
	Password string `json:"password"`
}

func readRegistry(path string) (*registryFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var rf registryFile
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range rf.Nodes {
		n := &rf.Nodes[i]
		if n.CertificatePEM != "" || n.CertificateFile == "" {
			continue
		}
		certPath := n.CertificateFile
		if !filepath.IsAbs(certPath) {
			certPath = filepath.Join(base, certPath)
		}
		pem, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.CertificatePEM = string(pem)
	}
	return &rf, nil
}

// loadRegistry registers every node and user in the file with srv.
func loadRegistry(srv *server.Server, path string) (nodes, users int, err error) {
	rf, err := readRegistry(path)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range rf.Nodes {
		if err := srv.RegisterNode(n.Node); err != nil {
			return 0, 0, err
		}
	}
	for _, u := range rf.Users {
		if err := srv.AddUser(u.User, u.Password); err != nil {
			return 0, 0, fmt.Errorf("user %s: %w", u.Login, err)
		}
	}
	return len(rf.Nodes), len(rf.Users), nil
}
