package sshdeploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh"
)

// An Executor runs shell commands on a remote host.
type Executor interface {
	// Run runs cmd with stdin attached, returning its combined output. It
	// returns when the command exits or ctx is done.
	Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error)
	Close() error
}

// DialSSH opens an SSH connection to addr and returns an Executor running
// commands in new sessions on it.
func DialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (Executor, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &sshExecutor{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshExecutor struct {
	client *ssh.Client
}

func (e *sshExecutor) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	session, err := e.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		return output.Bytes(), err
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	}
}

func (e *sshExecutor) Close() error {
	return e.client.Close()
}
