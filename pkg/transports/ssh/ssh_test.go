package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal SSH server with exec and sftp support.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	host     string
	port     int

	mu       sync.Mutex
	exits    map[string]uint32
	commands []string
}

func newTestSSHServer(t *testing.T, authorized ssh.PublicKey) *testSSHServer {
	t.Helper()
	_, hostKey, err := generateTestKey()
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == "root" && bytes.Equal(pubKey.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	s := &testSSHServer{
		listener: listener,
		config:   config,
		host:     host,
		port:     port,
		exits:    map[string]uint32{},
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *testSSHServer) setExit(command string, code uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits[command] = code
}

func (s *testSSHServer) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:]) // Skip the length prefix
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

			s.mu.Lock()
			s.commands = append(s.commands, command)
			code := s.exits[command]
			s.mu.Unlock()

			switch command {
			case "echo test":
				_, _ = channel.Write([]byte("test\n"))
			case "fail":
				_, _ = channel.Stderr().Write([]byte("boom\n"))
				code = 3
			}
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			go func() {
				_ = server.Serve()
				_ = channel.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}
	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}
	return publicKey, signer, nil
}

// writeClientKey writes an OpenSSH private key and returns its path and
// public half.
func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

func dialTestServer(t *testing.T, s *testSSHServer, keyPath string) *Client {
	t.Helper()
	conf := DefaultConfig(s.host, "root")
	conf.Port = s.port
	conf.PrivateKeyPath = keyPath
	conf.ConnectionTimeout = 5 * time.Second
	client, err := Dial(context.Background(), conf, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConfigValidate(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"no user", func(c *Config) { c.User = "" }, "user is required"},
		{"no key", func(c *Config) { c.PrivateKeyPath = "" }, "private key is required"},
		{"missing key", func(c *Config) { c.PrivateKeyPath = keyPath + ".missing" }, "not found"},
		{"inline key", func(c *Config) { c.PrivateKeyPath = ""; c.PrivateKey = []byte("pem") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig("10.0.0.5", "root")
			c.PrivateKeyPath = keyPath
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Equal(t, "[::1]:22", DefaultConfig("::1", "root").Address())
}

func TestClientRun(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub)
	client := dialTestServer(t, server, keyPath)

	stdout, _, err := client.Run(context.Background(), "echo test")
	require.NoError(t, err)
	assert.Equal(t, "test", stdout)

	_, stderr, err := client.Run(context.Background(), "fail")
	require.Error(t, err)
	assert.Equal(t, "boom", stderr)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Status)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.False(t, terr.Temporary())
}

func TestDialRejectsUnknownKey(t *testing.T) {
	_, pub := writeClientKey(t)
	otherKey, _ := writeClientKey(t)
	server := newTestSSHServer(t, pub)

	conf := DefaultConfig(server.host, "root")
	conf.Port = server.port
	conf.PrivateKeyPath = otherKey
	_, err := Dial(context.Background(), conf, zerolog.Nop())
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.True(t, terr.IsAuthError)
}

func TestClientReadFileTail(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub)
	client := dialTestServer(t, server, keyPath)

	path := filepath.Join(t.TempDir(), "bootstrap.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three\n"), 0o644))

	data, err := client.ReadFile(context.Background(), path, 11)
	require.NoError(t, err)
	assert.Equal(t, "line three\n", string(data))

	data, err = client.ReadFile(context.Background(), path, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "line one"))

	_, err = client.ReadFile(context.Background(), path+".missing", 10)
	assert.Error(t, err)
}

func vmConfig() *engine.ProjectConfig {
	return &engine.ProjectConfig{
		Name:        "demo-app",
		StackID:     engine.StackID("demo-app"),
		Target:      engine.ProviderVirtualMachine,
		SourceToken: "ghp_secret",
	}
}

func newTestVerifier(server *testSSHServer, keyPath, logPath string, timeout time.Duration) *Verifier {
	p := NewVerifier(VerifyConfig{
		Port:           server.port,
		PrivateKeyPath: keyPath,
		ReadyTimeout:   timeout,
		LogPath:        logPath,
	}, zerolog.Nop())
	p.dialInitial = 20 * time.Millisecond
	p.dialMax = 100 * time.Millisecond
	return p
}

func TestVerifierVerifiesActiveUnit(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub)
	p := newTestVerifier(server, keyPath, "", 5*time.Second)

	res := &engine.DeploymentResult{Outputs: map[string]string{engine.OutputAddress: server.host}}
	require.NoError(t, p.Verify(context.Background(), vmConfig(), res))
	assert.Equal(t, []string{bootstrapDone, "systemctl is-active --quiet froyo-demo-app.service"}, server.ran())
}

func TestVerifierAttachesRedactedBootstrapLog(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub)
	server.setExit("systemctl is-active --quiet froyo-demo-app.service", 3)

	logPath := filepath.Join(t.TempDir(), "cloud-init-output.log")
	require.NoError(t, os.WriteFile(logPath, []byte("cloning with ghp_secret\nnpm ERR! missing script: start\n"), 0o644))
	p := newTestVerifier(server, keyPath, logPath, 5*time.Second)

	res := &engine.DeploymentResult{Outputs: map[string]string{engine.OutputAddress: server.host}}
	err := p.Verify(context.Background(), vmConfig(), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrProvision)

	_, rawLog, ok := engine.ProvisionDetails(err)
	require.True(t, ok)
	assert.Contains(t, rawLog, "missing script: start")
	assert.NotContains(t, rawLog, "ghp_secret")
}

func TestVerifierGivesUpOnUnreachableInstance(t *testing.T) {
	keyPath, _ := writeClientKey(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())
	port, _ := strconv.Atoi(portStr)

	p := NewVerifier(VerifyConfig{Port: port, PrivateKeyPath: keyPath, ReadyTimeout: 500 * time.Millisecond}, zerolog.Nop())
	p.dialInitial = 20 * time.Millisecond
	p.dialMax = 50 * time.Millisecond

	res := &engine.DeploymentResult{Outputs: map[string]string{engine.OutputAddress: "127.0.0.1"}}
	start := time.Now()
	err = p.Verify(context.Background(), vmConfig(), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrProvision)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestVerifierSkipsOtherTargets(t *testing.T) {
	p := NewVerifier(VerifyConfig{}, zerolog.Nop())
	cfg := vmConfig()
	cfg.Target = engine.ProviderManagedPlatform
	assert.NoError(t, p.Verify(context.Background(), cfg, &engine.DeploymentResult{}))

	// A VM without an address output is not verified either.
	assert.NoError(t, p.Verify(context.Background(), vmConfig(), &engine.DeploymentResult{Outputs: map[string]string{}}))
}
