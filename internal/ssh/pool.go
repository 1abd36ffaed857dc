package ssh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"fleetssh/internal/credentials"
	"fleetssh/internal/logger"
)

// poolEntry serializes check-evict-dial for one SessionKey. lock is a one-slot
// semaphore so waiters can give up when their context ends.
type poolEntry struct {
	lock    chan struct{}
	session atomic.Pointer[Session]
}

func (e *poolEntry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *poolEntry) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *poolEntry) release() {
	<-e.lock
}

// Pool caches one live Session per SessionKey. Unrelated keys never wait on
// each other.
type Pool struct {
	mu      sync.Mutex
	entries map[SessionKey]*poolEntry
	closed  bool

	options Options
	dial    dialFunc
}

func NewPool(options Options) *Pool {
	return &Pool{
		entries: make(map[SessionKey]*poolEntry),
		options: options,
		dial:    dialGoph,
	}
}

func (p *Pool) entry(key SessionKey) (*poolEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	entry, ok := p.entries[key]

	if !ok {
		entry = &poolEntry{lock: make(chan struct{}, 1)}
		p.entries[key] = entry
	}

	return entry, nil
}

// Acquire returns the cached session for the credential when it is still
// alive, otherwise it evicts the dead one and establishes a new session.
// Failures are returned as ErrConnection and are never cached or retried.
func (p *Pool) Acquire(ctx context.Context, credential credentials.Credential) (*Session, error) {
	key := KeyFor(credential)

	entry, err := p.entry(key)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, key, err)
	}

	if err := entry.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, key, err)
	}

	defer entry.release()

	// Close may have run while this caller waited for the entry
	if p.isClosed() {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, key, ErrPoolClosed)
	}

	if session := entry.session.Load(); session != nil {
		if p.alive(session, p.options.ProbeOnAcquire) {
			logger.Debug("Reusing ssh session %s", key)
			return session, nil
		}

		logger.Debug("Evicting disconnected ssh session %s", key)
		entry.session.Store(nil)
		session.close()
	}

	session, err := p.connect(ctx, credential, key)

	if err != nil {
		return nil, err
	}

	entry.session.Store(session)

	return session, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *Pool) connect(ctx context.Context, credential credentials.Credential, key SessionKey) (*Session, error) {
	type dialResult struct {
		transport Transport
		err       error
	}

	done := make(chan dialResult, 1)

	go func() {
		transport, err := p.dial(ctx, credential, p.options)
		done <- dialResult{transport: transport, err: err}
	}()

	select {
	case <-ctx.Done():
		// the handshake may still complete; do not leak the connection
		go func() {
			if result := <-done; result.err == nil {
				result.transport.Close()
			}
		}()

		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, key, ctx.Err())
	case result := <-done:
		if result.err != nil {
			logger.Warn("Failed to connect ssh session %s: %v", key, result.err)
			return nil, fmt.Errorf("%w: %s: %w", ErrConnection, key, result.err)
		}

		logger.Info("Connected ssh session %s", key)

		return newSession(key, result.transport), nil
	}
}

func (p *Pool) alive(session *Session, probe bool) bool {
	if !session.Connected() {
		return false
	}

	if !probe {
		return true
	}

	if err := session.probe(p.options.connectTimeout()); err != nil {
		logger.Debug("Keepalive probe failed for ssh session %s: %v", session.Key, err)
		return false
	}

	return true
}

// Invalidate closes and drops the cached session for the credential, if any.
func (p *Pool) Invalidate(ctx context.Context, credential credentials.Credential) error {
	key := KeyFor(credential)

	entry, err := p.entry(key)

	if err != nil {
		return err
	}

	if err := entry.acquire(ctx); err != nil {
		return err
	}

	defer entry.release()

	if p.isClosed() {
		return ErrPoolClosed
	}

	if session := entry.session.Swap(nil); session != nil {
		logger.Info("Closing ssh session %s", key)
		return session.close()
	}

	return nil
}

// Sweep probes every idle cached session and evicts the dead ones. Keys that
// are busy acquiring are skipped. It returns the number of evicted sessions.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))

	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	evicted := 0

	for _, entry := range entries {
		if !entry.tryAcquire() {
			continue
		}

		if session := entry.session.Load(); session != nil && !p.alive(session, true) {
			logger.Info("Sweeping disconnected ssh session %s", session.Key)
			entry.session.Store(nil)
			session.close()
			evicted++
		}

		entry.release()
	}

	return evicted
}

// Len returns the number of cached sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0

	for _, entry := range p.entries {
		if entry.session.Load() != nil {
			count++
		}
	}

	return count
}

// Close closes every cached session. Acquire fails with ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[SessionKey]*poolEntry)
	p.mu.Unlock()

	var firstErr error
	count := 0

	for key, entry := range entries {
		entry.lock <- struct{}{}

		if session := entry.session.Swap(nil); session != nil {
			if err := session.close(); err != nil {
				logger.Warn("Error closing ssh session %s: %v", key, err)

				if firstErr == nil {
					firstErr = err
				}
			}

			count++
		}

		entry.release()
	}

	if count > 0 {
		logger.Info("Closed %d ssh session(s)", count)
	}

	return firstErr
}
