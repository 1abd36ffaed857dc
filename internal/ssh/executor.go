package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"fleetssh/internal/logger"

	"golang.org/x/crypto/ssh"
)

// Executor runs commands on pooled sessions, one exec channel per command.
// It never closes the session itself.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Execution is a started command. Stdout and Stderr must be drained
// (concurrently, or the remote side may stall) before Wait returns.
type Execution struct {
	Command string
	Stdout  io.Reader
	Stderr  io.Reader

	key     SessionKey
	channel *ssh.Session
}

func (e *Executor) open(session *Session, command string) (*ssh.Session, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, ErrNilSession)
	}

	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: %w", ErrExecution, ErrEmptyCommand)
	}

	if !session.Connected() {
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, session.Key, ErrSessionDisconnected)
	}

	channel, err := session.transport.NewSession()

	if err != nil {
		return nil, fmt.Errorf("%w: open channel on %s: %w", ErrExecution, session.Key, err)
	}

	logger.Debug("Executing command on %s: %s", session.Key, command)

	return channel, nil
}

// Start opens an exec channel without stdin and starts the command on it.
func (e *Executor) Start(session *Session, command string) (*Execution, error) {
	channel, err := e.open(session, command)

	if err != nil {
		return nil, err
	}

	stdout, err := channel.StdoutPipe()

	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, session.Key, err)
	}

	stderr, err := channel.StderrPipe()

	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, session.Key, err)
	}

	if err := channel.Start(command); err != nil {
		channel.Close()
		logger.Error("Failed to start command on %s: %v", session.Key, err)
		return nil, fmt.Errorf("%w: start command on %s: %w", ErrExecution, session.Key, err)
	}

	return &Execution{
		Command: command,
		Stdout:  stdout,
		Stderr:  stderr,
		key:     session.Key,
		channel: channel,
	}, nil
}

// Wait blocks until the command exits and closes the channel. A non-zero
// exit status is returned as a status, not as an error.
func (x *Execution) Wait() (int, error) {
	defer x.Close()

	status, _, err := exitStatus(x.key, x.channel.Wait())

	return status, err
}

// Close aborts the command if it is still running. A blocked Wait or drain
// then fails with ErrExecution.
func (x *Execution) Close() error {
	if err := x.channel.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Run executes the command and collects its output. Cancelling ctx closes
// the channel; no other timeout applies.
func (e *Executor) Run(ctx context.Context, session *Session, command string) (*ExecutionResult, error) {
	channel, err := e.open(session, command)

	if err != nil {
		return nil, err
	}

	defer channel.Close()

	var stdout, stderr bytes.Buffer
	channel.Stdout = &stdout
	channel.Stderr = &stderr

	if err := channel.Start(command); err != nil {
		logger.Error("Failed to start command on %s: %v", session.Key, err)
		return nil, fmt.Errorf("%w: start command on %s: %w", ErrExecution, session.Key, err)
	}

	done := make(chan error, 1)

	go func() {
		done <- channel.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		channel.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, session.Key, ctx.Err())
	}

	status, signal, err := exitStatus(session.Key, err)

	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		ExitStatus: status,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Signal:     signal,
	}, nil
}

func exitStatus(key SessionKey, err error) (int, string, error) {
	if err == nil {
		return 0, "", nil
	}

	var exitErr *ssh.ExitError

	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), exitErr.Signal(), nil
	}

	return -1, "", fmt.Errorf("%w: %s: %w", ErrExecution, key, err)
}
