package ssh

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fleetssh/internal/credentials"
	"fleetssh/internal/ssh/sshtest"
)

func TestAcquire_ReusesConnectedSession(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	second, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if first != second {
		t.Error("expected the cached session to be reused")
	}

	if calls := dialer.calls.Load(); calls != 1 {
		t.Errorf("expected 1 handshake, got %d", calls)
	}

	if first.Key.String() != "alice@10.0.0.1:22" {
		t.Errorf("unexpected session key %s", first.Key)
	}
}

func TestAcquire_ReplacesDisconnectedSession(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	dialer.transport(0).Close()
	waitDisconnected(t, first)

	second, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if first == second {
		t.Error("expected a fresh session after disconnection")
	}

	if !second.Connected() {
		t.Error("acquired session must be connected")
	}

	if calls := dialer.calls.Load(); calls != 2 {
		t.Errorf("expected 2 handshakes, got %d", calls)
	}

	if pool.Len() != 1 {
		t.Errorf("expected the pool entry to be replaced, got %d sessions", pool.Len())
	}
}

func TestAcquire_FailedProbeEvictsSession(t *testing.T) {
	pool, dialer := newFakePool(Options{ProbeOnAcquire: true, ConnectTimeout: time.Second})
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	dialer.transport(0).probeErr.Store(errors.New("half-open connection"))

	second, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if first == second {
		t.Error("expected a fresh session after a failed keepalive probe")
	}

	if first.Connected() {
		t.Error("evicted session should be closed")
	}
}

func TestAcquire_ProbeSkippedWhenDisabled(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	for i := 0; i < 3; i++ {
		if _, err := pool.Acquire(context.Background(), testCredential("10.0.0.1")); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	}

	if probes := dialer.transport(0).probeCalls.Load(); probes != 0 {
		t.Errorf("expected no keepalive probes, got %d", probes)
	}
}

func TestAcquire_ConcurrentCallersShareOneHandshake(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	dialer.delay = 50 * time.Millisecond

	const callers = 32

	var wg sync.WaitGroup
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = pool.Acquire(context.Background(), testCredential("10.0.0.1"))
		}(i)
	}

	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}

		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d received a different session", i)
		}
	}

	if calls := dialer.calls.Load(); calls != 1 {
		t.Errorf("expected exactly 1 handshake, got %d", calls)
	}
}

func TestAcquire_DistinctKeysGetDistinctSessions(t *testing.T) {
	pool, _ := newFakePool(Options{})
	defer pool.Close()

	alice := testCredential("10.0.0.1")
	bob := alice
	bob.User = "bob"
	otherPort := alice
	otherPort.Port = 2222

	seen := map[*Session]bool{}

	for _, c := range []credentials.Credential{alice, bob, otherPort} {
		session, err := pool.Acquire(context.Background(), c)

		if err != nil {
			t.Fatalf("acquire %s failed: %v", c, err)
		}

		seen[session] = true
	}

	if len(seen) != 3 || pool.Len() != 3 {
		t.Errorf("expected 3 distinct sessions, got %d (pool %d)", len(seen), pool.Len())
	}
}

func TestAcquire_UnrelatedHostsDoNotWait(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	gate := make(chan struct{})
	dialer.gates["10.0.0.1"] = gate
	defer close(gate)

	go pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := pool.Acquire(ctx, testCredential("10.0.0.2")); err != nil {
		t.Fatalf("acquire for an unrelated host blocked: %v", err)
	}
}

func TestAcquire_FailureIsNotCached(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	cause := errors.New("connection refused")
	dialer.err = cause

	_, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	if !errors.Is(err, cause) {
		t.Errorf("expected the underlying cause to be attached, got %v", err)
	}

	if pool.Len() != 0 {
		t.Errorf("failed attempt must not be cached, got %d sessions", pool.Len())
	}

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	if _, err := pool.Acquire(context.Background(), testCredential("10.0.0.1")); err != nil {
		t.Fatalf("acquire after failure: %v", err)
	}

	if calls := dialer.calls.Load(); calls != 2 {
		t.Errorf("expected a new handshake after failure, got %d calls", calls)
	}
}

func TestAcquire_ContextDeadlineWhileDialing(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	gate := make(chan struct{})
	dialer.gates["10.0.0.1"] = gate
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Acquire(ctx, testCredential("10.0.0.1"))

	if !errors.Is(err, ErrConnection) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected ErrConnection wrapping DeadlineExceeded, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	pool, dialer := newFakePool(Options{})
	defer pool.Close()

	session, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := pool.Invalidate(context.Background(), testCredential("10.0.0.1")); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	if session.Connected() {
		t.Error("invalidated session should be closed")
	}

	if pool.Len() != 0 {
		t.Errorf("expected empty pool, got %d", pool.Len())
	}

	if _, err := pool.Acquire(context.Background(), testCredential("10.0.0.1")); err != nil {
		t.Fatalf("acquire after invalidate failed: %v", err)
	}

	if calls := dialer.calls.Load(); calls != 2 {
		t.Errorf("expected 2 handshakes, got %d", calls)
	}
}

func TestSweep_EvictsOnlyDeadSessions(t *testing.T) {
	pool, dialer := newFakePool(Options{ConnectTimeout: time.Second})
	defer pool.Close()

	if _, err := pool.Acquire(context.Background(), testCredential("10.0.0.1")); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if _, err := pool.Acquire(context.Background(), testCredential("10.0.0.2")); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	dialer.transport(1).probeErr.Store(errors.New("no reply"))

	if evicted := pool.Sweep(); evicted != 1 {
		t.Errorf("expected 1 evicted session, got %d", evicted)
	}

	if pool.Len() != 1 {
		t.Errorf("expected 1 remaining session, got %d", pool.Len())
	}
}

func TestStartSweeper_InvalidSchedule(t *testing.T) {
	pool, _ := newFakePool(Options{})
	defer pool.Close()

	if _, err := pool.StartSweeper("every now and then"); err == nil {
		t.Error("expected an invalid schedule to be rejected")
	}

	sweeper, err := pool.StartSweeper("@every 1h")

	if err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	sweeper.Stop()
}

func TestClose_RejectsFurtherAcquires(t *testing.T) {
	pool, _ := newFakePool(Options{})

	session, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if session.Connected() {
		t.Error("session should be closed with the pool")
	}

	_, err = pool.Acquire(context.Background(), testCredential("10.0.0.1"))

	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

// --- against the in-process SSH server ---

func serverCredential(server *sshtest.Server) credentials.Credential {
	return credentials.Credential{
		Host:   server.Host,
		User:   server.User,
		Secret: server.Password,
		Port:   server.Port,
	}
}

func TestAcquire_RealServerReuseAndReconnect(t *testing.T) {
	server := sshtest.NewServer(t, "alice", "s3cr3t")

	pool := NewPool(Options{ConnectTimeout: 5 * time.Second, ProbeOnAcquire: true})
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), serverCredential(server))

	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	again, err := pool.Acquire(context.Background(), serverCredential(server))

	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if first != again || server.Handshakes() != 1 {
		t.Fatalf("expected reuse with a single handshake, got %d handshakes", server.Handshakes())
	}

	server.DropConnections()
	waitDisconnected(t, first)

	fresh, err := pool.Acquire(context.Background(), serverCredential(server))

	if err != nil {
		t.Fatalf("acquire after drop failed: %v", err)
	}

	if fresh == first {
		t.Error("expected a fresh session after the server dropped the connection")
	}

	if server.Handshakes() != 2 {
		t.Errorf("expected 2 handshakes, got %d", server.Handshakes())
	}
}

func TestAcquire_WrongPassword(t *testing.T) {
	server := sshtest.NewServer(t, "alice", "s3cr3t")

	pool := NewPool(Options{ConnectTimeout: 5 * time.Second})
	defer pool.Close()

	credential := serverCredential(server)
	credential.Secret = "wrong"

	_, err := pool.Acquire(context.Background(), credential)

	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}

	if pool.Len() != 0 {
		t.Errorf("failed attempt must not be cached")
	}
}

func TestAcquire_StrictHostVerificationRejectsUnknownHost(t *testing.T) {
	server := sshtest.NewServer(t, "alice", "s3cr3t")

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")

	if err := os.WriteFile(knownHosts, nil, 0600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	pool := NewPool(Options{
		ConnectTimeout:         5 * time.Second,
		StrictHostVerification: true,
		KnownHostsPath:         knownHosts,
	})
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), serverCredential(server))

	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection for an unknown host key, got %v", err)
	}
}

func TestAcquire_UnreachableHost(t *testing.T) {
	pool := NewPool(Options{ConnectTimeout: 2 * time.Second})
	defer pool.Close()

	// port 1 on loopback is closed on any sane test machine
	credential := credentials.Credential{Host: "127.0.0.1", User: "alice", Secret: "s3cr3t", Port: 1}

	_, err := pool.Acquire(context.Background(), credential)

	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

// silentListener accepts TCP connections and never speaks. It returns the port.
func silentListener(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var held []net.Conn

	go func() {
		for {
			conn, err := listener.Accept()

			if err != nil {
				return
			}

			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		listener.Close()

		mu.Lock()
		defer mu.Unlock()

		for _, conn := range held {
			conn.Close()
		}
	})

	return listener.Addr().(*net.TCPAddr).Port
}

func TestAcquire_HandshakeBoundedByConnectTimeout(t *testing.T) {
	port := silentListener(t)
	credential := credentials.Credential{Host: "127.0.0.1", User: "alice", Secret: "s3cr3t", Port: port}

	pool := NewPool(Options{ConnectTimeout: 300 * time.Millisecond})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	_, err := pool.Acquire(ctx, credential)

	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}

	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("expected the handshake to give up after ~300ms, took %s", elapsed)
	}
}

func TestAcquire_CancelledContextAbortsHandshake(t *testing.T) {
	port := silentListener(t)
	credential := credentials.Credential{Host: "127.0.0.1", User: "alice", Secret: "s3cr3t", Port: port}

	pool := NewPool(Options{ConnectTimeout: 30 * time.Second})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := pool.Acquire(ctx, credential)

	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}

	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("expected cancellation to stop the handshake, took %s", elapsed)
	}
}

func TestAcquire_QueuedCallerFailsAfterClose(t *testing.T) {
	pool, dialer := newFakePool(Options{})

	gate := make(chan struct{})
	dialer.gates["10.0.0.1"] = gate

	first := make(chan error, 1)

	go func() {
		_, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))
		first <- err
	}()

	waitFor(t, func() bool { return dialer.calls.Load() == 1 })

	queued := make(chan error, 1)

	go func() {
		_, err := pool.Acquire(context.Background(), testCredential("10.0.0.1"))
		queued <- err
	}()

	// let the second caller reach the entry lock
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})

	go func() {
		pool.Close()
		close(closed)
	}()

	waitFor(t, pool.isClosed)
	close(gate)

	if err := <-first; err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	if err := <-queued; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed for the queued caller, got %v", err)
	}

	<-closed

	if calls := dialer.calls.Load(); calls != 1 {
		t.Errorf("expected no dial after close, got %d", calls)
	}

	select {
	case <-dialer.transport(0).closed:
	default:
		t.Error("expected the session dialed before close to be closed")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}

		time.Sleep(5 * time.Millisecond)
	}
}
