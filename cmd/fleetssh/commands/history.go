package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit = 20
var pruneOlderThan = 30 * 24 * time.Hour

var HistoryCmd = &cobra.Command{
	Use:   "history [host]",
	Short: "Show recently executed commands",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := ""

		if len(args) > 0 {
			host = args[0]
		}

		list, err := commandsService.History(host, historyLimit)

		if err != nil {
			return err
		}

		for _, e := range list {
			status := fmt.Sprintf("exit %d", e.ExitStatus)

			if e.Error != "" {
				status = "error: " + e.Error
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-28s %8s  %-40s %s\n",
				e.StartedAt.Local().Format(time.DateTime), e.Target(), e.Duration.Round(time.Millisecond), e.Command, status)
		}

		return nil
	},
}

var PruneHistoryCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old history entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		removed, err := commandsService.PruneHistory(pruneOlderThan)

		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed %d execution(s)\n", removed)

		return nil
	},
}

func init() {
	HistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries to show (0 for all)")
	PruneHistoryCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Delete entries started longer ago than this")

	HistoryCmd.AddCommand(PruneHistoryCmd)
}
