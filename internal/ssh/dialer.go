package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"fleetssh/internal/credentials"

	"github.com/melbahja/goph"
	"golang.org/x/crypto/ssh"
)

type dialFunc func(ctx context.Context, credential credentials.Credential, options Options) (Transport, error)

// dialGoph bounds the TCP connect, the SSH handshake and authentication by
// the connect timeout, and aborts them when ctx ends.
func dialGoph(ctx context.Context, credential credentials.Credential, options Options) (Transport, error) {
	auth, err := authFor(credential)

	if err != nil {
		return nil, err
	}

	callback, err := hostKeyCallback(options)

	if err != nil {
		return nil, err
	}

	config := &goph.Config{
		User:     credential.User,
		Addr:     credential.Host,
		Port:     uint(credential.Port),
		Auth:     auth,
		Timeout:  options.connectTimeout(),
		Callback: callback,
	}

	addr := credential.Address()
	deadline := time.Now().Add(config.Timeout)

	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Timeout: config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)

	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            config.User,
		Auth:            config.Auth,
		HostKeyCallback: config.Callback,
		Timeout:         config.Timeout,
	})

	if !stop() {
		if err == nil {
			sshConn.Close()
		}

		return nil, ctx.Err()
	}

	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, err
	}

	return &goph.Client{Client: ssh.NewClient(sshConn, chans, reqs), Config: config}, nil
}

func authFor(credential credentials.Credential) (goph.Auth, error) {
	if keyPath, ok := credential.KeyPath(); ok {
		auth, err := goph.Key(keyPath, "")

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToCreateAuth, err)
		}

		return auth, nil
	}

	password := credential.Secret

	// servers with PasswordAuthentication off often still accept the
	// password through keyboard-interactive
	answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))

		for i := range questions {
			answers[i] = password
		}

		return answers, nil
	}

	return append(goph.Password(password), ssh.KeyboardInteractive(answer)), nil
}

func hostKeyCallback(options Options) (ssh.HostKeyCallback, error) {
	if !options.StrictHostVerification {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if options.KnownHostsPath == "" {
		callback, err := goph.DefaultKnownHosts()

		if err != nil {
			return nil, fmt.Errorf("load default known_hosts: %w", err)
		}

		return callback, nil
	}

	callback, err := goph.KnownHosts(options.KnownHostsPath)

	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", options.KnownHostsPath, err)
	}

	return callback, nil
}
