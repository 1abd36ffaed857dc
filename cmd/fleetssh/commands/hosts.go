package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var HostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the hosts in ssh.properties",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		hosts := commandsService.Credentials.Hosts()

		if len(hosts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No hosts configured")
			return nil
		}

		for _, host := range hosts {
			credential, err := commandsService.Credentials.Resolve(host)

			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", host, credential)
		}

		return nil
	},
}
