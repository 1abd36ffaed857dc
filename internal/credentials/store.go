package credentials

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fleetssh/internal/logger"
)

// FileName is appended to an externally supplied configuration directory.
const FileName = "ssh.properties"

//go:embed defaults
var defaults embed.FS

// Store maps host identifiers to credentials. It is immutable once loaded.
type Store struct {
	credentials map[string]Credential
}

// Load reads dir/ssh.properties when dir is set, otherwise the built-in
// default set. A missing or unreadable source is a configuration error.
func Load(dir string) (*Store, error) {
	if dir == "" {
		data, err := defaults.ReadFile("defaults/" + FileName)

		if err != nil {
			return nil, fmt.Errorf("%w: built-in %s: %w", ErrConfiguration, FileName, err)
		}

		logger.Debug("Loading built-in ssh credentials")

		return Parse(bytes.NewReader(data))
	}

	return LoadFile(filepath.Join(dir, FileName))
}

func LoadFile(path string) (*Store, error) {
	info, err := os.Stat(path)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrConfiguration, path)
	}

	file, err := os.Open(path)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	defer file.Close()

	logger.Debug("Loading ssh credentials from %s", path)

	return Parse(file)
}

// Parse reads host=user|secret|port lines. Malformed entries are logged and
// skipped; only a read failure of the source itself is an error.
func Parse(r io.Reader) (*Store, error) {
	store := &Store{credentials: make(map[string]Credential)}

	scanner := bufio.NewScanner(r)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		credential, err := parseEntry(line)

		if err != nil {
			logger.Warn("Skipping ssh credential entry on line %d: %v", lineNumber, err)
			continue
		}

		if _, exists := store.credentials[credential.Host]; exists {
			logger.Warn("Duplicate ssh credential for %s on line %d; using the later entry", credential.Host, lineNumber)
		}

		store.credentials[credential.Host] = credential
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	logger.Info("Loaded %d ssh credential(s)", len(store.credentials))

	return store, nil
}

func parseEntry(line string) (Credential, error) {
	host, value, found := strings.Cut(line, "=")

	if !found {
		return Credential{}, errMissingSeparator
	}

	host = strings.TrimSpace(host)
	value = strings.TrimSpace(value)

	if host == "" {
		return Credential{}, errEmptyHost
	}

	first := strings.Index(value, "|")
	last := strings.LastIndex(value, "|")

	if first < 0 || first == last {
		return Credential{}, fmt.Errorf("%s: %w", host, errMissingFields)
	}

	user := value[:first]
	secret := value[first+1 : last]
	portStr := value[last+1:]

	if user == "" {
		return Credential{}, fmt.Errorf("%s: %w", host, errEmptyUser)
	}

	port, err := strconv.Atoi(portStr)

	if err != nil || port < 1 || port > 65535 {
		return Credential{}, fmt.Errorf("%s: %w: %q", host, errInvalidPort, portStr)
	}

	return Credential{
		Host:   host,
		User:   user,
		Secret: secret,
		Port:   port,
	}, nil
}

func (s *Store) Resolve(host string) (Credential, error) {
	credential, ok := s.credentials[host]

	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, host)
	}

	return credential, nil
}

func (s *Store) Hosts() []string {
	hosts := make([]string, 0, len(s.credentials))

	for host := range s.credentials {
		hosts = append(hosts, host)
	}

	sort.Strings(hosts)

	return hosts
}

func (s *Store) Len() int {
	return len(s.credentials)
}
