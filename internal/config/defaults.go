package config

import (
	"time"

	"github.com/spf13/viper"
)

// Archive formats understood by the archive package.
const (
	FormatGzipTar = "gztar"
	FormatZstdTar = "zstdtar"
	FormatTar     = "tar"
	FormatZip     = "zip"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.approle_name", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.credentials_path", "")

	v.SetDefault("paths.active_directory", "/data/backups/mysql/")
	v.SetDefault("paths.archive_directory", "/data/backups/archive/")

	v.SetDefault("names.base_folder", "base")
	v.SetDefault("names.incremental_prefix", "inc_")
	v.SetDefault("names.archive_prefix", "database_backup_")

	v.SetDefault("backup.command", "xtrabackup")
	v.SetDefault("backup.sudo", true)
	v.SetDefault("backup.prompt", "Enter password")
	v.SetDefault("backup.handshake_timeout", 30*time.Second)
	v.SetDefault("backup.max_time_between_backups", 20*time.Hour)
	v.SetDefault("backup.extra_flags", []string{"no-server-version-check"})
	v.SetDefault("backup.report_file", "")

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.format", FormatGzipTar)
	v.SetDefault("archive.retain_count", 7)
	v.SetDefault("archive.enforce_max_incrementals", false)
	v.SetDefault("archive.max_incrementals", 4)
	v.SetDefault("archive.enforce_at_hour", true)
	v.SetDefault("archive.at_utc_hour", 6)

	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.level", "trace")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.child_output", true)
	v.SetDefault("logging.file", "/var/log/xbauto.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("schedule.cron", "")
}
