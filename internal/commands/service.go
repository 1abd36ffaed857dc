package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleetssh/internal/credentials"
	"fleetssh/internal/dockerutils"
	"fleetssh/internal/executions"
	"fleetssh/internal/lifecycle"
	"fleetssh/internal/logger"
	"fleetssh/internal/ssh"

	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

// Service runs commands on the hosts of the credential store through the
// shared session pool.
type Service struct {
	Credentials *credentials.Store
	Pool        *ssh.Pool
	Executor    *ssh.Executor
	Catalog     *lifecycle.Catalog

	// Executions is optional; history is not recorded when it is nil.
	Executions *executions.Repository

	DockerSocketPath string
	Parallelism      int
}

type HostResult struct {
	Host   string
	Result *ssh.ExecutionResult
	Err    error
}

type CheckResult struct {
	Key     ssh.SessionKey
	Reused  bool
	Age     time.Duration
	Latency time.Duration
}

// Exec runs command on host with the stored credential.
func (s *Service) Exec(ctx context.Context, host, command string) (*ssh.ExecutionResult, error) {
	credential, err := s.Credentials.Resolve(host)

	if err != nil {
		return nil, err
	}

	return s.ExecCredential(ctx, credential, command)
}

// ExecCredential runs command with an explicit credential, e.g. one entered
// on the command line for a host that is not in the store.
func (s *Service) ExecCredential(ctx context.Context, credential credentials.Credential, command string) (*ssh.ExecutionResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: %w", ssh.ErrExecution, ssh.ErrEmptyCommand)
	}

	startedAt := time.Now()

	session, err := s.Pool.Acquire(ctx, credential)

	var result *ssh.ExecutionResult

	if err == nil {
		result, err = s.Executor.Run(ctx, session, command)
	}

	s.record(credential, command, result, err, startedAt)

	return result, err
}

func (s *Service) record(credential credentials.Credential, command string, result *ssh.ExecutionResult, execErr error, startedAt time.Time) {
	if s.Executions == nil {
		return
	}

	execution := &executions.Execution{
		Host:       credential.Host,
		User:       credential.User,
		Port:       credential.Port,
		Command:    command,
		ExitStatus: -1,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	}

	if result != nil {
		execution.ExitStatus = result.ExitStatus
		execution.Signal = result.Signal
		execution.Stdout = result.Stdout
		execution.Stderr = result.Stderr
	}

	if execErr != nil {
		execution.Error = execErr.Error()
	}

	if err := s.Executions.Create(execution); err != nil {
		logger.Warn("Failed to record execution on %s: %v", credential, err)
	}
}

// ExecAll runs command on every given host, or on every stored host when none
// are given. Results keep the order of hosts and carry per-host errors.
func (s *Service) ExecAll(ctx context.Context, hosts []string, command string) ([]HostResult, error) {
	if len(hosts) == 0 {
		hosts = s.Credentials.Hosts()
	}

	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	parallelism := s.Parallelism

	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	results := make([]HostResult, len(hosts))

	var group errgroup.Group
	group.SetLimit(parallelism)

	for i, host := range hosts {
		group.Go(func() error {
			result, err := s.Exec(ctx, host, command)
			results[i] = HostResult{Host: host, Result: result, Err: err}
			return nil
		})
	}

	group.Wait()

	failed := 0

	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	logger.Info("Ran command on %d host(s), %d failed", len(hosts), failed)

	return results, nil
}

// Lifecycle renders the named catalog action and runs it on host.
func (s *Service) Lifecycle(ctx context.Context, host, action string, params lifecycle.Params) (*ssh.ExecutionResult, error) {
	command, err := s.Catalog.Render(action, params)

	if err != nil {
		return nil, err
	}

	logger.Info("Running lifecycle action %s on %s", action, host)

	return s.Exec(ctx, host, command)
}

func (s *Service) session(ctx context.Context, host string) (*ssh.Session, error) {
	credential, err := s.Credentials.Resolve(host)

	if err != nil {
		return nil, err
	}

	return s.Pool.Acquire(ctx, credential)
}

// Containers lists every container of the host's Docker engine.
func (s *Service) Containers(ctx context.Context, host string) ([]dockerutils.Container, error) {
	session, err := s.session(ctx, host)

	if err != nil {
		return nil, err
	}

	return dockerutils.ListContainers(ctx, session, s.DockerSocketPath, true)
}

func (s *Service) InspectContainer(ctx context.Context, host, containerID string) (*dockerutils.ContainerState, error) {
	session, err := s.session(ctx, host)

	if err != nil {
		return nil, err
	}

	return dockerutils.InspectContainer(ctx, session, s.DockerSocketPath, containerID)
}

// Check acquires a session for host and reports whether it came from the pool.
func (s *Service) Check(ctx context.Context, host string) (*CheckResult, error) {
	startedAt := time.Now()

	session, err := s.session(ctx, host)

	if err != nil {
		return nil, err
	}

	return &CheckResult{
		Key:     session.Key,
		Reused:  session.CreatedAt.Before(startedAt),
		Age:     time.Since(session.CreatedAt),
		Latency: time.Since(startedAt),
	}, nil
}

// Reconnect drops the pooled session for host and establishes a new one.
func (s *Service) Reconnect(ctx context.Context, host string) (*CheckResult, error) {
	credential, err := s.Credentials.Resolve(host)

	if err != nil {
		return nil, err
	}

	if err := s.Pool.Invalidate(ctx, credential); err != nil {
		return nil, err
	}

	return s.Check(ctx, host)
}

func (s *Service) History(host string, limit int) ([]*executions.Execution, error) {
	if s.Executions == nil {
		return nil, ErrHistoryDisabled
	}

	return s.Executions.List(host, limit)
}

// PruneHistory deletes executions older than olderThan.
func (s *Service) PruneHistory(olderThan time.Duration) (int64, error) {
	if s.Executions == nil {
		return 0, ErrHistoryDisabled
	}

	removed, err := s.Executions.DeleteBefore(time.Now().Add(-olderThan))

	if err != nil {
		return 0, err
	}

	logger.Info("Pruned %d execution(s) older than %s", removed, olderThan)

	return removed, nil
}

func (s *Service) Close() error {
	return s.Pool.Close()
}
