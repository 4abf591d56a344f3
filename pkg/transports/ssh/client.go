package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is one SSH connection to a remote host.
type Client struct {
	config *Config
	client *ssh.Client
	logger zerolog.Logger
}

// Dial connects and authenticates to config.Address().
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// The deadline covers the handshake only.
	_ = conn.SetDeadline(time.Now().Add(config.ConnectionTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		auth := strings.Contains(err.Error(), "unable to authenticate")
		return nil, &TransportError{Op: "handshake", Err: err, IsTemporary: !auth, IsAuthError: auth}
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug().Str("address", address).Msg("SSH connection established")
	return &Client{
		config: config,
		client: ssh.NewClient(sshConn, chans, reqs),
		logger: logger,
	}, nil
}

// Run executes cmd and returns its trimmed output. A non-zero exit is an
// *ExitError wrapped in a TransportError.
func (c *Client) Run(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}
	startTime := time.Now()

	session, err := c.client.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "execute",
				Err: &ExitError{Command: cmd, Status: exitErr.ExitStatus(), Stderr: stderr},
			}
		}
		return stdout, stderr, &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
	}
	return stdout, stderr, nil
}

// ReadFile returns at most the last limit bytes of the remote file at path.
func (c *Client) ReadFile(ctx context.Context, path string, limit int64) ([]byte, error) {
	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	// sftp calls are not context aware; closing the client unblocks them.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sftpClient.Close()
		case <-done:
		}
	}()

	f, err := sftpClient.Open(path)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to open remote file: %w", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to stat remote file: %w", err), IsTemporary: true}
	}
	if limit > 0 && info.Size() > limit {
		if _, err := f.Seek(info.Size()-limit, io.SeekStart); err != nil {
			return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to seek remote file: %w", err), IsTemporary: true}
		}
	}

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to read remote file: %w", err), IsTemporary: true}
	}
	return data, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}
