package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkReconnect = false

var CheckCmd = &cobra.Command{
	Use:   "check <host>",
	Short: "Check that an SSH session to a host can be established",
	Long:  `Check that an SSH session to a host can be established. With --reconnect the pooled session is dropped first.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check := commandsService.Check

		if checkReconnect {
			check = commandsService.Reconnect
		}

		result, err := check(cmd.Context(), args[0])

		if err != nil {
			return err
		}

		state := "new session"

		if result.Reused {
			state = "reused session"
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: %s, connected in %s\n", result.Key, state, result.Latency.Round(time.Millisecond))

		return nil
	},
}

func init() {
	CheckCmd.Flags().BoolVar(&checkReconnect, "reconnect", false, "Close the pooled session and connect again")
}
