package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the fields the lifecycle relies on. Every failure wraps
// ErrValidateConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.User) == "" {
		return fmt.Errorf("%w: database.user is required", ErrValidateConfig)
	}
	if c.Paths.ActiveDirectory == "" || c.Paths.ArchiveDirectory == "" {
		return fmt.Errorf("%w: paths.active_directory and paths.archive_directory are required", ErrValidateConfig)
	}
	active := filepath.Clean(c.Paths.ActiveDirectory)
	archive := filepath.Clean(c.Paths.ArchiveDirectory)
	if nested(active, archive) || nested(archive, active) {
		return fmt.Errorf("%w: active directory %q and archive directory %q must not overlap",
			ErrValidateConfig, active, archive)
	}
	if c.Names.BaseFolder == "" || c.Names.IncrementalPrefix == "" || c.Names.ArchivePrefix == "" {
		return fmt.Errorf("%w: names.base_folder, names.incremental_prefix and names.archive_prefix are required", ErrValidateConfig)
	}
	if strings.ContainsAny(c.Names.BaseFolder+c.Names.IncrementalPrefix+c.Names.ArchivePrefix, `/\`) {
		return fmt.Errorf("%w: names must not contain path separators", ErrValidateConfig)
	}
	if strings.EqualFold(c.Names.BaseFolder, c.Names.IncrementalPrefix) {
		return fmt.Errorf("%w: base folder and incremental prefix must differ", ErrValidateConfig)
	}
	if c.Backup.Command == "" {
		return fmt.Errorf("%w: backup.command is required", ErrValidateConfig)
	}
	if c.Backup.Prompt == "" {
		return fmt.Errorf("%w: backup.prompt is required", ErrValidateConfig)
	}
	if c.Backup.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: backup.handshake_timeout must be positive", ErrValidateConfig)
	}
	if c.Backup.MaxTimeBetweenBackups <= 0 {
		return fmt.Errorf("%w: backup.max_time_between_backups must be positive", ErrValidateConfig)
	}

	switch c.Archive.Format {
	case FormatGzipTar, FormatZstdTar, FormatTar, FormatZip:
	default:
		return fmt.Errorf("%w: unknown archive.format %q", ErrValidateConfig, c.Archive.Format)
	}
	if c.Archive.RetainCount < 0 {
		return fmt.Errorf("%w: archive.retain_count must be >= 0", ErrValidateConfig)
	}
	if c.Archive.MaxIncrementals < 0 {
		return fmt.Errorf("%w: archive.max_incrementals must be >= 0", ErrValidateConfig)
	}
	if c.Archive.AtUTCHour < -1 || c.Archive.AtUTCHour > 23 {
		return fmt.Errorf("%w: archive.at_utc_hour must be within -1..23, got %d", ErrValidateConfig, c.Archive.AtUTCHour)
	}

	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 {
		return fmt.Errorf("%w: logging.max_size_mb and logging.max_backups must be >= 0", ErrValidateConfig)
	}
	return nil
}

// UsesVault reports whether database credentials come from Vault.
func (c *Config) UsesVault() bool {
	return c.Vault.CredentialsPath != ""
}

// nested reports whether child equals parent or lives below it.
func nested(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
