package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironlink/handshake"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/pki"
	"github.com/jmcleod/ironlink/protocol"
	"github.com/jmcleod/ironlink/server"
)

const (
	testNode     = "node-1"
	testPassword = "correct horse battery staple"
)

// useDataDir points the persistent flags at a fresh directory for one test.
func useDataDir(t *testing.T, url string) string {
	t.Helper()
	dir := t.TempDir()
	oldDir, oldURL, oldNode := dataDir, serverURL, nodeID
	dataDir, serverURL, nodeID = dir, url, ""
	t.Cleanup(func() { dataDir, serverURL, nodeID = oldDir, oldURL, oldNode })
	return dir
}

func TestWriteNodeKey_LoadIdentity(t *testing.T) {
	dir := t.TempDir()
	_, err := writeNodeKey(dir, "", time.Hour, false)
	require.Error(t, err, "node id is required")

	certPath, err := writeNodeKey(dir, testNode, time.Hour, false)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = writeNodeKey(dir, testNode, time.Hour, false)
	assert.ErrorContains(t, err, "--force")
	_, err = writeNodeKey(dir, testNode, time.Hour, true)
	require.NoError(t, err)

	id, err := loadIdentity(dir, "")
	require.NoError(t, err)
	assert.Equal(t, testNode, id.NodeID, "node id defaults to the certificate CN")

	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, string(certPEM), id.CertificatePEM)

	cert, err := pki.ParseCertificatePEM(id.CertificatePEM)
	require.NoError(t, err)
	sig, err := id.Signer.Sign(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.NoError(t, pki.VerifySignature(cert.PublicKey, []byte("payload"), sig))

	_, err = loadIdentity(dir, "node-2")
	assert.ErrorContains(t, err, "not \"node-2\"")
}

func TestLoadIdentity_MissingKey(t *testing.T) {
	_, err := loadIdentity(t.TempDir(), testNode)
	assert.ErrorContains(t, err, "keygen")
}

func TestLoadWrappingKey(t *testing.T) {
	dir := t.TempDir()
	k1, err := loadWrappingKey(dir)
	require.NoError(t, err)
	assert.Len(t, k1, util.AESKeySize)

	k2, err := loadWrappingKey(dir)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "the key is created once and reused")

	require.NoError(t, os.WriteFile(filepath.Join(dir, wrapKeyFileName), []byte("short"), 0o600))
	_, err = loadWrappingKey(dir)
	assert.Error(t, err)
}

func TestReadPassword(t *testing.T) {
	t.Setenv(passwordEnv, "")

	var prompt bytes.Buffer
	pw, err := readPassword(strings.NewReader("hunter2\r\nignored\n"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
	assert.Equal(t, "Password: ", prompt.String())

	pw, err = readPassword(strings.NewReader("no newline"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "no newline", pw)

	_, err = readPassword(strings.NewReader("\n"), &prompt)
	assert.Error(t, err)

	t.Setenv(passwordEnv, "from-env")
	pw, err = readPassword(strings.NewReader("unused\n"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)
}

func TestReadRegistry_ResolvesCertificateFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, err := writeNodeKey(dir, testNode, time.Hour, false)
	require.NoError(t, err)
	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)

	doc := `{
  "nodes": [{"nodeId": "node-1", "certificateFile": "node.crt", "status": 1, "capabilities": ["telemetry:send"]}],
  "users": [{"login": "Ada", "password": "` + testPassword + `", "email": "ada@example.com"}]
}`
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rf, err := readRegistry(path)
	require.NoError(t, err)
	require.Len(t, rf.Nodes, 1)
	assert.Equal(t, testNode, rf.Nodes[0].ID)
	assert.Equal(t, string(certPEM), rf.Nodes[0].CertificatePEM)
	assert.Equal(t, protocol.StatusAuthorized, rf.Nodes[0].Status)
	assert.Equal(t, []string{"telemetry:send"}, rf.Nodes[0].Capabilities)
	require.Len(t, rf.Users, 1)
	assert.Equal(t, "Ada", rf.Users[0].Login)
	assert.Equal(t, testPassword, rf.Users[0].Password)

	srv, err := server.New(server.WithRegisterer(prometheus.NewRegistry()), server.WithPasswordParams(fastPasswords))
	require.NoError(t, err)
	nodes, users, err := loadRegistry(srv, path)
	require.NoError(t, err)
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 1, users)

	_, _, err = loadRegistry(srv, path)
	assert.ErrorIs(t, err, server.ErrNodeExists)
}

func TestReadRegistry_Rejections(t *testing.T) {
	dir := t.TempDir()
	write := func(name, doc string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))
		return p
	}

	_, err := readRegistry(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)
	_, err = readRegistry(write("bad.json", `{"nodes": [`))
	assert.Error(t, err)
	_, err = readRegistry(write("unknown.json", `{"nodes": [], "groups": []}`))
	assert.Error(t, err, "unknown fields are rejected")
	_, err = readRegistry(write("nocert.json", `{"nodes": [{"nodeId": "n", "certificateFile": "missing.crt", "status": 1}]}`))
	assert.ErrorContains(t, err, "node n")
}

var fastPasswords = server.PasswordParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32}

// TestClient_LoginStatusLogout drives the command stack against an
// in-process responder, reopening the client between steps as separate
// CLI runs would.
func TestClient_LoginStatusLogout(t *testing.T) {
	srv, err := server.New(server.WithRegisterer(prometheus.NewRegistry()), server.WithPasswordParams(fastPasswords))
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	dir := useDataDir(t, ts.URL)
	certPath, err := writeNodeKey(dir, testNode, time.Hour, false)
	require.NoError(t, err)
	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	require.NoError(t, srv.RegisterNode(server.Node{
		ID:             testNode,
		CertificatePEM: string(certPEM),
		Status:         protocol.StatusAuthorized,
		Capabilities:   []string{"telemetry:send"},
	}))
	require.NoError(t, srv.AddUser(server.User{Login: "ada"}, testPassword))

	ctx := context.Background()
	logger, err := newLogger()
	require.NoError(t, err)

	c, err := openClient(ctx, logger)
	require.NoError(t, err)
	tok, err := c.users.Login(ctx, "ada", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "ada", tok.User.Login)
	c.Close()

	c, err = openClient(ctx, logger)
	require.NoError(t, err)
	saved, ok := c.users.Token()
	require.True(t, ok, "user token restored from the store")
	assert.Equal(t, tok.Value, saved.Value)
	require.NoError(t, c.orch.Hydrate(ctx))
	assert.Equal(t, handshake.StateSessionReady, c.orch.State())

	var out bytes.Buffer
	printStatus(&out, c)
	assert.Contains(t, out.String(), "node      node-1")
	assert.Contains(t, out.String(), "can       telemetry:send")
	assert.Contains(t, out.String(), "user      ada")

	require.NoError(t, c.users.Logout(ctx))
	c.Close()

	c, err = openClient(ctx, logger)
	require.NoError(t, err)
	defer c.Close()
	_, ok = c.users.Token()
	assert.False(t, ok)
	require.NoError(t, c.orch.Hydrate(ctx))
	assert.Equal(t, handshake.StateIdle, c.orch.State())
}
