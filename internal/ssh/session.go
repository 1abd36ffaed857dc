package ssh

import (
	"net"
	"sync"
	"time"

	"fleetssh/internal/logger"

	"golang.org/x/crypto/ssh"
)

const keepaliveRequest = "keepalive@openssh.com"

// Transport is the connected SSH client a Session wraps. *goph.Client and
// *ssh.Client both satisfy it.
type Transport interface {
	NewSession() (*ssh.Session, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Dial(network, addr string) (net.Conn, error)
	Wait() error
	Close() error
}

// Session is one authenticated connection to a remote host. It is owned by
// the Pool and may be shared by concurrent callers.
type Session struct {
	Key       SessionKey
	CreatedAt time.Time

	transport Transport
	done      chan struct{}
	doneOnce  sync.Once
}

func newSession(key SessionKey, transport Transport) *Session {
	session := &Session{
		Key:       key,
		CreatedAt: time.Now(),
		transport: transport,
		done:      make(chan struct{}),
	}

	go func() {
		err := transport.Wait()
		logger.Debug("ssh session %s terminated: %v", key, err)
		session.markDone()
	}()

	return session
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Connected reports whether the underlying transport is still up. It does
// not touch the network.
func (s *Session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed once the transport terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Dial opens a connection from the remote host, e.g. to a unix socket there.
func (s *Session) Dial(network, addr string) (net.Conn, error) {
	return s.transport.Dial(network, addr)
}

func (s *Session) probe(timeout time.Duration) error {
	result := make(chan error, 1)

	go func() {
		_, _, err := s.transport.SendRequest(keepaliveRequest, true, nil)
		result <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errProbeTimeout
	case <-s.done:
		return errSessionClosed
	}
}

func (s *Session) close() error {
	wasConnected := s.Connected()
	err := s.transport.Close()
	s.markDone()

	if !wasConnected {
		return nil
	}

	return err
}
