package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ContainersCmd = &cobra.Command{
	Use:   "containers <host>",
	Short: "List the Docker containers of a host",
	Long:  `List the Docker containers of a host through its Docker socket (FLEETSSH_DOCKER_SOCKET_PATH), reached over the pooled SSH session.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, err := commandsService.Containers(cmd.Context(), args[0])

		if err != nil {
			return err
		}

		if len(containers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No containers")
			return nil
		}

		for _, c := range containers {
			id := c.ID

			if len(id) > 12 {
				id = id[:12]
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-30s %-30s %-10s %s\n", id, c.Name, c.Image, c.State, c.Status)
		}

		return nil
	},
}

var InspectContainerCmd = &cobra.Command{
	Use:   "inspect <host> <container>",
	Short: "Show the state of a container on a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := commandsService.InspectContainer(cmd.Context(), args[0], args[1])

		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "ID:         %s\n", state.ID)
		fmt.Fprintf(out, "Name:       %s\n", state.Name)
		fmt.Fprintf(out, "Image:      %s\n", state.Image)
		fmt.Fprintf(out, "Status:     %s\n", state.Status)
		fmt.Fprintf(out, "Running:    %t\n", state.Running)
		fmt.Fprintf(out, "Exit code:  %d\n", state.ExitCode)
		fmt.Fprintf(out, "Started at: %s\n", state.StartedAt)

		return nil
	},
}

func init() {
	ContainersCmd.AddCommand(InspectContainerCmd)
}
