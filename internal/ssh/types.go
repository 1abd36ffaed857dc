package ssh

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"fleetssh/internal/credentials"
)

const DefaultConnectTimeout = 30 * time.Second

// SessionKey identifies a cached session.
type SessionKey struct {
	User string
	Host string
	Port int
}

func KeyFor(credential credentials.Credential) SessionKey {
	return SessionKey{
		User: credential.User,
		Host: credential.Host,
		Port: credential.Port,
	}
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s@%s", k.User, net.JoinHostPort(k.Host, strconv.Itoa(k.Port)))
}

// Options configure how a Pool establishes sessions.
type Options struct {
	ConnectTimeout time.Duration
	// StrictHostVerification checks remote host keys against KnownHostsPath
	// (or ~/.ssh/known_hosts when empty). When false, unknown hosts are accepted.
	StrictHostVerification bool
	KnownHostsPath         string
	// ProbeOnAcquire sends a keepalive request before handing out a cached
	// session, so half-open connections are detected on access.
	ProbeOnAcquire bool
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}

	return o.ConnectTimeout
}

type ExecutionResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	// Signal is set when the remote command was terminated by a signal.
	Signal string
}
