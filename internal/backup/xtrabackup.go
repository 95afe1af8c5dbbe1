package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/logger"
)

const EngineXtraBackup = "xtrabackup"

// Runner executes an interactive command and answers its password prompt.
// *process.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, args []string, secret string) error
}

// XtraBackupOption lets you override default settings on an XtraBackup.
type XtraBackupOption func(*XtraBackup)

// XtraBackup builds and runs xtrabackup full and incremental backups.
type XtraBackup struct {
	Command    string
	Sudo       bool
	Username   string
	Password   string
	Host       string
	Port       string
	ExtraFlags []string
	Runner     Runner
	Logger     logger.Logger
}

// NewXtraBackup returns an XtraBackup configured from cfg plus any overrides.
func NewXtraBackup(cfg config.Config, runner Runner, opts ...XtraBackupOption) *XtraBackup {
	x := &XtraBackup{
		Command:    cfg.Backup.Command,
		Sudo:       cfg.Backup.Sudo,
		Username:   cfg.Database.User,
		Password:   cfg.Database.Password,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		ExtraFlags: cfg.Backup.ExtraFlags,
		Runner:     runner,
		Logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// WithXtraBackupCredentials sets username and password.
func WithXtraBackupCredentials(user, pass string) XtraBackupOption {
	return func(x *XtraBackup) {
		if user != "" {
			x.Username = user
		}
		if pass != "" {
			x.Password = pass
		}
	}
}

// WithXtraBackupHost overrides the host.
func WithXtraBackupHost(host string) XtraBackupOption {
	return func(x *XtraBackup) {
		if host != "" {
			x.Host = host
		}
	}
}

// WithXtraBackupPort overrides the port.
func WithXtraBackupPort(port string) XtraBackupOption {
	return func(x *XtraBackup) {
		if port != "" {
			x.Port = port
		}
	}
}

// WithXtraBackupLogger sets the logger.
func WithXtraBackupLogger(log logger.Logger) XtraBackupOption {
	return func(x *XtraBackup) {
		if log != nil {
			x.Logger = log
		}
	}
}

// Full takes a base backup into targetDir.
func (x *XtraBackup) Full(ctx context.Context, targetDir string) error {
	return x.run(ctx, KindBase, targetDir, "")
}

// Incremental takes an incremental backup into targetDir chained off baseDir.
func (x *XtraBackup) Incremental(ctx context.Context, targetDir, baseDir string) error {
	return x.run(ctx, KindIncremental, targetDir, baseDir)
}

// CommandLine returns the program and arguments for a backup into targetDir.
// baseDir is empty for a full backup. The password is never part of it:
// --password without a value makes xtrabackup prompt for it.
func (x *XtraBackup) CommandLine(targetDir, baseDir string) (string, []string) {
	args := []string{
		"--user=" + x.Username,
		"--password",
		"--host=" + x.Host,
		"--port=" + x.Port,
		"--backup",
		"--target-dir=" + targetDir,
	}
	if baseDir != "" {
		args = append(args, "--incremental-basedir="+baseDir)
	}
	for _, flag := range x.ExtraFlags {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		args = append(args, "--"+strings.TrimLeft(flag, "-"))
	}

	if x.Sudo {
		return "sudo", append([]string{x.Command}, args...)
	}
	return x.Command, args
}

func (x *XtraBackup) run(ctx context.Context, kind Kind, targetDir, baseDir string) error {
	log := x.Logger
	name, args := x.CommandLine(targetDir, baseDir)

	log.Info("backup started",
		"engine", EngineXtraBackup,
		"kind", string(kind),
		"path", targetDir,
		"basedir", baseDir,
	)
	startTime := time.Now()
	if err := x.Runner.Run(ctx, name, args, x.Password); err != nil {
		log.Error("backup failed",
			"engine", EngineXtraBackup,
			"kind", string(kind),
			"path", targetDir,
			"error", err.Error(),
		)
		return fmt.Errorf("%s %s backup failed: %w", EngineXtraBackup, kind, err)
	}
	executionDuration := time.Since(startTime)

	log.Info("backup completed",
		"engine", EngineXtraBackup,
		"kind", string(kind),
		"path", targetDir,
		"duration", executionDuration.String(),
	)
	return nil
}
