package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"fleetssh/internal/commands"
	"fleetssh/internal/ssh"

	"github.com/spf13/cobra"
)

var execAll = false

var ExecCmd = &cobra.Command{
	Use:   "exec [--all] <host | username@hostname[:port]> -- <command>",
	Short: "Run a command on one or more hosts",
	Long: `Run a shell command on a host from ssh.properties, or on an ad-hoc username@hostname[:port]
target (the password is prompted for unless --ssh-key-path is given).

With --all the command runs on every host listed before '--', or on every stored host when
none are listed. The process exits with the remote exit status of a single-host run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, command, err := splitAtDash(cmd, args)

		if err != nil {
			return err
		}

		if execAll {
			return runOnAll(cmd, targets, command)
		}

		if len(targets) != 1 {
			return fmt.Errorf("exactly one host is expected without --all, got %d", len(targets))
		}

		return runOnHost(cmd, targets[0], command)
	},
}

func splitAtDash(cmd *cobra.Command, args []string) ([]string, string, error) {
	dash := cmd.ArgsLenAtDash()

	if dash < 0 {
		return nil, "", fmt.Errorf("separate the command with '--', e.g. fleetssh exec 10.0.0.5 -- uptime")
	}

	command := strings.Join(args[dash:], " ")

	if strings.TrimSpace(command) == "" {
		return nil, "", fmt.Errorf("no command given after '--'")
	}

	return args[:dash], command, nil
}

func runOnHost(cmd *cobra.Command, target, command string) error {
	var (
		result *ssh.ExecutionResult
		err    error
	)

	if isAdHocTarget(target) {
		credential, credErr := buildAdHocCredential(cmd, target)

		if credErr != nil {
			return credErr
		}

		result, err = commandsService.ExecCredential(cmd.Context(), credential, command)
	} else {
		result, err = commandsService.Exec(cmd.Context(), target, command)
	}

	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)

	if result.Signal != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ Command terminated by signal %s\n", result.Signal)
	}

	exitCode = result.ExitStatus

	return nil
}

func runOnAll(cmd *cobra.Command, hosts []string, command string) error {
	results, err := commandsService.ExecAll(cmd.Context(), hosts, command)

	if err != nil {
		return err
	}

	failed := 0

	for _, r := range results {
		printHostResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), r)

		if r.Err != nil || r.Result.ExitStatus != 0 {
			failed++
		}
	}

	if failed > 0 {
		exitCode = 1
		fmt.Fprintf(cmd.ErrOrStderr(), "❌ %d of %d host(s) failed\n", failed, len(results))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Command succeeded on %d host(s)\n", len(results))
	}

	return nil
}

func printHostResult(stdOut, errOut io.Writer, r commands.HostResult) {
	if r.Err != nil {
		fmt.Fprintf(errOut, "[%s] ❌ %v\n", r.Host, r.Err)
		return
	}

	writePrefixed(stdOut, r.Host, r.Result.Stdout)
	writePrefixed(errOut, r.Host, r.Result.Stderr)

	if r.Result.ExitStatus != 0 {
		fmt.Fprintf(errOut, "[%s] exit status %d\n", r.Host, r.Result.ExitStatus)
	}
}

func writePrefixed(w io.Writer, host, output string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		fmt.Fprintf(w, "[%s] %s\n", host, scanner.Text())
	}
}

func init() {
	ExecCmd.Flags().BoolVarP(&execAll, "all", "a", false, "Run on every listed host, or on every stored host when none are listed")
	ExecCmd.Flags().String("ssh-key-path", "", "Path to SSH private key file for an ad-hoc username@hostname target")
}
