package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"

	"fleetssh/internal/credentials"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func readPasswordSecurely(prompt string, errOut io.Writer) (string, error) {
	fmt.Fprintf(errOut, "%s", prompt)

	bytePassword, err := term.ReadPassword(int(syscall.Stdin))

	fmt.Fprintf(errOut, "\n")

	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// parseSSHURL parses an SSH URL in the format username@hostname:port or username@hostname
// Returns username, hostname, port, and any error
func parseSSHURL(sshURL string) (username, hostname string, port int, err error) {
	port = 22

	if strings.Contains(sshURL, ":") {
		parts := strings.Split(sshURL, ":")
		if len(parts) != 2 {
			return "", "", 0, fmt.Errorf("invalid SSH URL format: %s", sshURL)
		}

		if portStr := parts[1]; portStr != "" {
			parsedPort, err := strconv.ParseUint(portStr, 10, 32)

			if err != nil {
				return "", "", 0, fmt.Errorf("invalid port number: %s", portStr)
			}

			if parsedPort == 0 || parsedPort > 65535 {
				return "", "", 0, fmt.Errorf("port number must be between 1 and 65535")
			}

			port = int(parsedPort)
		}

		sshURL = parts[0]
	}

	if strings.Contains(sshURL, "@") {
		parts := strings.Split(sshURL, "@")
		if len(parts) != 2 {
			return "", "", 0, fmt.Errorf("invalid SSH URL format: %s", sshURL)
		}
		username = parts[0]
		hostname = parts[1]
	} else {
		return "", "", 0, fmt.Errorf("username is required in SSH URL format: username@hostname[:port]")
	}

	if username == "" {
		return "", "", 0, fmt.Errorf("username cannot be empty")
	}
	if hostname == "" {
		return "", "", 0, fmt.Errorf("hostname cannot be empty")
	}

	return username, hostname, port, nil
}

// buildAdHocCredential turns a username@hostname[:port] target into a
// credential, using --ssh-key-path or prompting for the password.
func buildAdHocCredential(cmd *cobra.Command, target string) (credentials.Credential, error) {
	username, hostname, port, err := parseSSHURL(target)

	if err != nil {
		return credentials.Credential{}, fmt.Errorf("failed to parse SSH URL '%s': %v", target, err)
	}

	credential := credentials.Credential{
		Host: hostname,
		User: username,
		Port: port,
	}

	if keyPath, _ := cmd.Flags().GetString("ssh-key-path"); keyPath != "" {
		credential.Secret = credentials.KeyPrefix + keyPath
		return credential, nil
	}

	password, err := readPasswordSecurely("🔒 Enter SSH password: ", cmd.ErrOrStderr())

	if err != nil {
		return credentials.Credential{}, fmt.Errorf("failed to read password: %v", err)
	}

	credential.Secret = password

	return credential, nil
}

// isAdHocTarget reports whether a host argument names its own user.
func isAdHocTarget(host string) bool {
	return strings.Contains(host, "@")
}
