// Package dockerutils talks to the Docker engine of a managed host through an
// established SSH session, dialing the engine's unix socket on the remote side.
package dockerutils

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"fleetssh/internal/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const DefaultSocketPath = "/var/run/docker.sock"

// Dialer opens connections from the remote host. *ssh.Session satisfies it.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type Container struct {
	ID      string
	Name    string
	Image   string
	State   string
	Status  string
	Created time.Time
}

type ContainerState struct {
	ID        string
	Name      string
	Image     string
	Status    string
	Running   bool
	ExitCode  int
	StartedAt string
}

// NewRemoteClient returns a Docker API client whose connections are tunnelled
// to socketPath on the remote host.
func NewRemoteClient(dialer Dialer, socketPath string) (*client.Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	return client.NewClientWithOpts(
		client.WithHost("http://docker"),
		client.WithDialContext(func(_ context.Context, _, _ string) (net.Conn, error) {
			return dialer.Dial("unix", socketPath)
		}),
		client.WithAPIVersionNegotiation(),
	)
}

// ListContainers returns the containers of the remote engine sorted by name.
// Stopped containers are included when all is set.
func ListContainers(ctx context.Context, dialer Dialer, socketPath string, all bool) ([]Container, error) {
	cli, err := NewRemoteClient(dialer, socketPath)

	if err != nil {
		return nil, err
	}

	defer cli.Close()

	summaries, err := cli.ContainerList(ctx, container.ListOptions{All: all})

	if err != nil {
		logger.Error("Failed to list remote containers: %v", err)
		return nil, fmt.Errorf("list containers: %w", err)
	}

	containers := make([]Container, 0, len(summaries))

	for _, summary := range summaries {
		name := ""

		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}

		containers = append(containers, Container{
			ID:      summary.ID,
			Name:    name,
			Image:   summary.Image,
			State:   string(summary.State),
			Status:  summary.Status,
			Created: time.Unix(summary.Created, 0),
		})
	}

	sort.Slice(containers, func(i, j int) bool {
		return containers[i].Name < containers[j].Name
	})

	return containers, nil
}

func InspectContainer(ctx context.Context, dialer Dialer, socketPath, containerID string) (*ContainerState, error) {
	cli, err := NewRemoteClient(dialer, socketPath)

	if err != nil {
		return nil, err
	}

	defer cli.Close()

	containerJSON, err := cli.ContainerInspect(ctx, containerID)

	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	state := &ContainerState{
		ID:   containerJSON.ID,
		Name: strings.TrimPrefix(containerJSON.Name, "/"),
	}

	if containerJSON.Config != nil {
		state.Image = containerJSON.Config.Image
	}

	if containerJSON.State != nil {
		state.Status = string(containerJSON.State.Status)
		state.Running = containerJSON.State.Running
		state.ExitCode = containerJSON.State.ExitCode
		state.StartedAt = containerJSON.State.StartedAt
	}

	return state, nil
}
