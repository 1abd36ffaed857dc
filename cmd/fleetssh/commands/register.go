package commands

import (
	"fleetssh/cmd/fleetssh/config"
	"fleetssh/internal/commands"
	"fleetssh/internal/credentials"
	"fleetssh/internal/database"
	"fleetssh/internal/executions"
	"fleetssh/internal/lifecycle"
	"fleetssh/internal/logger"
	"fleetssh/internal/ssh"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	cfg             *config.Configuration
	dbInstance      *gorm.DB
	sweeper         *ssh.Sweeper
	commandsService *commands.Service
	exitCode        int
)

// ExitCode is the status the process should exit with once the command ran.
func ExitCode() int {
	return exitCode
}

func RegisterCommands(rootCmd *cobra.Command, configuration *config.Configuration) {
	cfg = configuration

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return setup()
	}

	rootCmd.AddCommand(HostsCmd)
	rootCmd.AddCommand(ExecCmd)
	rootCmd.AddCommand(CheckCmd)
	rootCmd.AddCommand(LifecycleCmd)
	rootCmd.AddCommand(ContainersCmd)
	rootCmd.AddCommand(HistoryCmd)
}

func setup() error {
	store, err := credentials.Load(cfg.SSHConfigDir)

	if err != nil {
		return err
	}

	catalog, err := lifecycle.LoadCatalog(cfg.LifecycleCatalogPath)

	if err != nil {
		return err
	}

	pool := ssh.NewPool(ssh.Options{
		ConnectTimeout:         cfg.ConnectTimeout,
		StrictHostVerification: cfg.StrictHostVerification,
		KnownHostsPath:         cfg.KnownHostsPath,
		ProbeOnAcquire:         cfg.ProbeOnAcquire,
	})

	commandsService = &commands.Service{
		Credentials:      store,
		Pool:             pool,
		Executor:         ssh.NewExecutor(),
		Catalog:          catalog,
		DockerSocketPath: cfg.DockerSocketPath,
		Parallelism:      cfg.FanoutParallelism,
	}

	if cfg.HistoryEnabled {
		dbInstance, err = database.InitDB(cfg.DatabasePath)

		if err != nil {
			logger.Warn("Execution history disabled, failed to open %s: %v", cfg.DatabasePath, err)
		} else {
			commandsService.Executions = executions.NewRepository(dbInstance)
		}
	}

	if cfg.SweepSchedule != "" {
		sweeper, err = pool.StartSweeper(cfg.SweepSchedule)

		if err != nil {
			return err
		}
	}

	return nil
}

// Teardown stops the sweeper and closes every session and the database.
func Teardown() {
	if sweeper != nil {
		sweeper.Stop()
		sweeper = nil
	}

	if commandsService != nil {
		if err := commandsService.Close(); err != nil {
			logger.Warn("Failed to close ssh sessions: %v", err)
		}

		commandsService = nil
	}

	if dbInstance != nil {
		if err := database.CloseDB(dbInstance); err != nil {
			logger.Warn("Failed to close database: %v", err)
		}

		dbInstance = nil
	}
}
