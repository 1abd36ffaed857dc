// Package sshtest runs an in-process SSH server for tests. It accepts password
// authentication for a single user and answers exec requests with a small set
// of fake commands.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

// Handler runs one exec request. It returns the exit status to report, or a
// negative value to keep the channel open until the client closes it.
type Handler func(command string, stdout, stderr io.Writer) int

type Server struct {
	Host     string
	Port     int
	User     string
	Password string

	listener   net.Listener
	handshakes atomic.Int64
	channels   atomic.Int64
	rejectExec atomic.Bool

	mu      sync.Mutex
	conns   []net.Conn
	handler Handler
}

// NewServer listens on 127.0.0.1 with a random port and stops on test cleanup.
func NewServer(t testing.TB, user, password string) *Server {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)

	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	signer, err := gossh.NewSignerFromKey(hostKey)

	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := &Server{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		listener: listener,
		handler:  DefaultHandler,
	}

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(conn gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if conn.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}

			return nil, fmt.Errorf("invalid credentials for %q", conn.User())
		},
	}
	cfg.AddHostKey(signer)

	go s.serve(cfg)

	t.Cleanup(s.Close)

	return s
}

func (s *Server) serve(cfg *gossh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()

		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handleConn(conn, cfg)
	}
}

func (s *Server) handleConn(conn net.Conn, cfg *gossh.ServerConfig) {
	srvConn, chans, reqs, err := gossh.NewServerConn(conn, cfg)

	if err != nil {
		conn.Close()
		return
	}

	defer srvConn.Close()

	s.handshakes.Add(1)

	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() == streamLocalChannel {
			go s.forwardStreamLocal(newChan)
			continue
		}

		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}

		if s.rejectExec.Load() {
			newChan.Reject(gossh.ResourceShortage, "too many sessions")
			continue
		}

		ch, requests, err := newChan.Accept()

		if err != nil {
			continue
		}

		s.channels.Add(1)

		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch gossh.Channel, requests <-chan *gossh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}

			continue
		}

		var payload struct {
			Command string
		}

		if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}

		req.Reply(true, nil)

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()

		status := handler(payload.Command, ch, ch.Stderr())

		if status < 0 {
			// wait for the client to close the channel
			for range requests {
			}

			return
		}

		ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{uint32(status)}))

		return
	}
}

const streamLocalChannel = "direct-streamlocal@openssh.com"

// forwardStreamLocal connects a client's unix socket dial to the socket of the
// same path on this machine.
func (s *Server) forwardStreamLocal(newChan gossh.NewChannel) {
	var payload struct {
		SocketPath string
		Reserved0  string
		Reserved1  uint32
	}

	if err := gossh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
		newChan.Reject(gossh.ConnectionFailed, "malformed streamlocal request")
		return
	}

	conn, err := net.Dial("unix", payload.SocketPath)

	if err != nil {
		newChan.Reject(gossh.ConnectionFailed, err.Error())
		return
	}

	ch, requests, err := newChan.Accept()

	if err != nil {
		conn.Close()
		return
	}

	go gossh.DiscardRequests(requests)

	done := make(chan struct{}, 2)

	go func() {
		io.Copy(ch, conn)
		ch.CloseWrite()
		done <- struct{}{}
	}()

	go func() {
		io.Copy(conn, ch)
		if unixConn, ok := conn.(*net.UnixConn); ok {
			unixConn.CloseWrite()
		}
		done <- struct{}{}
	}()

	<-done
	<-done

	ch.Close()
	conn.Close()
}

// DefaultHandler understands "echo <text>", "exit <status>" and "hang".
// Anything else prints to stderr and exits with 127.
func DefaultHandler(command string, stdout, stderr io.Writer) int {
	name, args, _ := strings.Cut(command, " ")

	switch name {
	case "echo":
		fmt.Fprintln(stdout, args)
		return 0
	case "exit":
		status, err := strconv.Atoi(args)

		if err != nil {
			fmt.Fprintf(stderr, "exit: %v\n", err)
			return 2
		}

		return status
	case "hang":
		return -1
	default:
		fmt.Fprintf(stderr, "%s: command not found\n", name)
		return 127
	}
}

func (s *Server) SetHandler(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
}

// RejectChannels makes the server refuse new session channels while keeping
// existing connections up.
func (s *Server) RejectChannels(reject bool) {
	s.rejectExec.Store(reject)
}

// Handshakes returns the number of completed SSH handshakes.
func (s *Server) Handshakes() int {
	return int(s.handshakes.Load())
}

// Channels returns the number of accepted session channels.
func (s *Server) Channels() int {
	return int(s.channels.Load())
}

// DropConnections closes every accepted connection, leaving the listener up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
}
