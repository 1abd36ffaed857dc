package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fleetssh/cmd/fleetssh/commands"
	"fleetssh/cmd/fleetssh/config"
	"fleetssh/internal/logger"
	"fleetssh/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fleetssh",
	Short: "Run commands on a fleet of hosts over pooled SSH sessions",
	Long: `fleetssh runs shell commands on remote hosts over SSH. Credentials come from an
ssh.properties file (host=user|secret|port, one entry per line) found in
FLEETSSH_SSH_CONFIG_DIR, or from the built-in defaults when it is unset.

Sessions are kept open and shared per user@host:port, so repeated commands
against the same host reuse one connection. Every command runs on its own
channel without stdin.

Examples:

  fleetssh exec 10.0.0.5 -- uptime
  fleetssh exec --all -- df -h /
  fleetssh lifecycle run restart 10.0.0.5 nginx
  fleetssh history 10.0.0.5
`,
	Version:       fmt.Sprintf("%s (commit: %s, date: %s)", version.Version, version.Commit, version.Date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cfg, err := config.Load()

	if err != nil {
		rootCmd.PrintErrf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Ignoring log level %q: %v", cfg.LogLevel, err)
	}

	commands.RegisterCommands(rootCmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = rootCmd.ExecuteContext(ctx)

	stop()

	commands.Teardown()

	if err != nil {
		rootCmd.PrintErrf("❌ Error: %v\n", err)

		if commands.ExitCode() == 0 {
			os.Exit(1)
		}
	}

	os.Exit(commands.ExitCode())
}
