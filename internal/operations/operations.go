package operations

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"

	"github.com/kebairia/xbauto/internal/archive"
	"github.com/kebairia/xbauto/internal/backup"
	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/lifecycle"
	"github.com/kebairia/xbauto/internal/logger"
	"github.com/kebairia/xbauto/internal/process"
	"github.com/kebairia/xbauto/internal/vault"
)

// OperationManager wires the lifecycle components for one configuration and
// exposes the operations behind the CLI commands.
type OperationManager struct {
	cfg    config.Config
	log    logger.Logger
	clock  clock.Clock
	layout backup.DirScanner
	store  *archive.Store
	driver *process.Driver
}

// NewOperationManager builds the components described by cfg. Nothing is
// contacted or touched until an operation runs.
func NewOperationManager(cfg config.Config, log logger.Logger) *OperationManager {
	if log == nil {
		log = logger.Nop()
	}

	var output io.Writer = io.Discard
	if cfg.Logging.ChildOutput {
		output = os.Stdout
	}
	driver := process.NewDriver(
		process.WithPrompt(cfg.Backup.Prompt),
		process.WithHandshakeTimeout(cfg.Backup.HandshakeTimeout),
		process.WithOutput(output),
		process.WithLogger(log),
	)

	return &OperationManager{
		cfg:    cfg,
		log:    log,
		clock:  clock.WallClock,
		layout: backup.NewDirScanner(cfg.Names.BaseFolder, cfg.Names.IncrementalPrefix),
		store:  archive.NewStore(cfg, archive.WithLogger(log)),
		driver: driver,
	}
}

// LoadOperationManager loads and validates the YAML config at configPath.
func LoadOperationManager(configPath string, log logger.Logger) (*OperationManager, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewOperationManager(cfg, log), nil
}

// Config returns the configuration the manager was built from.
func (om *OperationManager) Config() config.Config {
	return om.cfg
}

// engine assembles a lifecycle engine around backuper.
func (om *OperationManager) engine(backuper lifecycle.Backuper) *lifecycle.Engine {
	return lifecycle.NewEngine(om.cfg, om.layout, backuper, om.store,
		lifecycle.WithClock(om.clock),
		lifecycle.WithLogger(om.log),
	)
}

// xtraBackup returns the backup runner, with database credentials from Vault
// when a credentials path is configured.
func (om *OperationManager) xtraBackup(ctx context.Context) (*backup.XtraBackup, error) {
	opts := []backup.XtraBackupOption{backup.WithXtraBackupLogger(om.log)}

	if om.cfg.UsesVault() {
		client, err := vault.NewClient(ctx,
			vault.WithAddress(om.cfg.Vault.Address),
			vault.WithToken(om.cfg.Vault.Token),
			vault.WithAppRole(om.cfg.Vault.RoleID, om.cfg.Vault.ApproleName),
		)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		creds, err := client.Credentials(ctx, om.cfg.Vault.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("fetch database credentials: %w", err)
		}
		om.log.Debug("database credentials fetched from vault",
			"path", om.cfg.Vault.CredentialsPath,
			"user", creds.Username,
			"ttl", creds.TTL.String(),
		)
		opts = append(opts, backup.WithXtraBackupCredentials(creds.Username, creds.Password))
	}

	return backup.NewXtraBackup(om.cfg, om.driver, opts...), nil
}
