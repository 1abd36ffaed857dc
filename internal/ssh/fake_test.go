package ssh

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetssh/internal/credentials"

	"golang.org/x/crypto/ssh"
)

var errNoChannels = errors.New("fake transport has no channels")

type fakeTransport struct {
	closed    chan struct{}
	closeOnce sync.Once

	newSessionCalls atomic.Int64
	probeCalls      atomic.Int64
	probeErr        atomic.Value
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) NewSession() (*ssh.Session, error) {
	f.newSessionCalls.Add(1)
	return nil, errNoChannels
}

func (f *fakeTransport) SendRequest(_ string, _ bool, _ []byte) (bool, []byte, error) {
	f.probeCalls.Add(1)

	select {
	case <-f.closed:
		return false, nil, io.EOF
	default:
	}

	if err, ok := f.probeErr.Load().(error); ok {
		return false, nil, err
	}

	return true, nil, nil
}

func (f *fakeTransport) Dial(_, _ string) (net.Conn, error) {
	return nil, errNoChannels
}

func (f *fakeTransport) Wait() error {
	<-f.closed
	return io.EOF
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
	})

	return nil
}

type fakeDialer struct {
	mu         sync.Mutex
	calls      atomic.Int64
	delay      time.Duration
	err        error
	gates      map[string]chan struct{}
	transports []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, credential credentials.Credential, _ Options) (Transport, error) {
	d.calls.Add(1)

	d.mu.Lock()
	gate := d.gates[credential.Host]
	err := d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	if err != nil {
		return nil, err
	}

	transport := newFakeTransport()

	d.mu.Lock()
	d.transports = append(d.transports, transport)
	d.mu.Unlock()

	return transport, nil
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.transports[i]
}

func newFakePool(options Options) (*Pool, *fakeDialer) {
	dialer := &fakeDialer{gates: make(map[string]chan struct{})}
	pool := NewPool(options)
	pool.dial = dialer.dial

	return pool, dialer
}

func waitDisconnected(t *testing.T, session *Session) {
	t.Helper()

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s never reported disconnection", session.Key)
	}
}

func testCredential(host string) credentials.Credential {
	return credentials.Credential{Host: host, User: "alice", Secret: "s3cr3t", Port: 22}
}
