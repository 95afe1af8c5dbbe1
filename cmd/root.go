package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/logger"
	"github.com/kebairia/xbauto/internal/operations"
)

// DefaultConfigFile is used when --config is not given.
const DefaultConfigFile = "/etc/xbauto/config.yaml"

// ConfigFile is the path to the YAML configuration.
var (
	ConfigFile string
	// rootCmd is the base command for xbauto.
	rootCmd = &cobra.Command{
		Use:   "xbauto",
		Short: "Automate xtrabackup base, incremental and archive rotation",
		Long: `xbauto decides on every invocation whether to take a base backup,
an incremental backup chained off the previous one, or to archive the
current backup set and start over, based on your YAML configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", DefaultConfigFile, "path to YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// setup loads the configuration and builds the logger and operation manager.
func setup() (*operations.OperationManager, logger.Logger, error) {
	cfg, err := config.LoadFile(ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{
		Enabled:    cfg.Logging.Enabled,
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Trace("configuration loaded", "path", ConfigFile)
	return operations.NewOperationManager(cfg, log), log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
