package config

import (
	"os"
	"path/filepath"
	"time"

	"fleetssh/internal/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "FLEETSSH"

func init() {
	envFiles := []string{
		".env",
	}

	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Error loading %s: %v", envFile, err)
			}
		}
	}
}

type Configuration struct {
	// SSHConfigDir holds ssh.properties; empty means the built-in defaults.
	SSHConfigDir string `envconfig:"SSH_CONFIG_DIR" default:""`

	ConnectTimeout         time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	StrictHostVerification bool          `envconfig:"STRICT_HOST_VERIFICATION" default:"false"`
	KnownHostsPath         string        `envconfig:"KNOWN_HOSTS_PATH" default:""`
	ProbeOnAcquire         bool          `envconfig:"PROBE_ON_ACQUIRE" default:"true"`
	SweepSchedule          string        `envconfig:"SWEEP_SCHEDULE" default:""`

	DatabasePath   string `envconfig:"DATABASE_PATH" default:""`
	HistoryEnabled bool   `envconfig:"HISTORY_ENABLED" default:"true"`

	LifecycleCatalogPath string `envconfig:"LIFECYCLE_CATALOG_PATH" default:""`
	DockerSocketPath     string `envconfig:"DOCKER_SOCKET_PATH" default:"/var/run/docker.sock"`
	FanoutParallelism    int    `envconfig:"FANOUT_PARALLELISM" default:"8"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

var Config = &Configuration{}

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("Could not determine home directory: %v", err)
		return ""
	}
	return homeDir
}

func getDefaultDatabasePath(fallback string) string {
	homeDir := getHomeDir()
	if homeDir == "" {
		return fallback
	}
	return filepath.Join(homeDir, ".fleetssh", "fleetssh.db")
}

func getDefaultKnownHostsPath() string {
	homeDir := getHomeDir()
	if homeDir == "" {
		return ""
	}
	return filepath.Join(homeDir, ".ssh", "known_hosts")
}

// Load decodes FLEETSSH_* variables into Config, filling in home-relative
// defaults.
func Load() (*Configuration, error) {
	cfg := &Configuration{}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, err
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = getDefaultDatabasePath("fleetssh.db")
	}

	if cfg.KnownHostsPath == "" {
		cfg.KnownHostsPath = getDefaultKnownHostsPath()
	}

	Config = cfg

	return cfg, nil
}
