package commands

import (
	"fmt"
	"strings"

	"fleetssh/internal/lifecycle"

	"github.com/spf13/cobra"
)

var LifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Run named start/stop/inspect actions on hosts",
	Long:  `Run the lifecycle actions of the command catalog (built in, or FLEETSSH_LIFECYCLE_CATALOG_PATH) against services on a host.`,
}

var ListLifecycleCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available lifecycle actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, action := range commandsService.Catalog.Actions() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-50s [%s]\n", action.Name, action.Description, strings.Join(action.Params, ", "))
		}

		return nil
	},
}

var RunLifecycleCmd = &cobra.Command{
	Use:   "run <action> <host> <service>",
	Short: "Run a lifecycle action for a service on a host",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, host, service := args[0], args[1], args[2]

		result, err := commandsService.Lifecycle(cmd.Context(), host, action, lifecycle.Params{"service": service})

		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)

		exitCode = result.ExitStatus

		return nil
	},
}

func init() {
	LifecycleCmd.AddCommand(ListLifecycleCmd)
	LifecycleCmd.AddCommand(RunLifecycleCmd)
}
