package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. XBAUTO_DATABASE_PASSWORD for database.password.
const EnvPrefix = "XBAUTO"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include  []string       `mapstructure:"include"  yaml:"include,omitempty"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vault    VaultConfig    `mapstructure:"vault"    yaml:"vault"`
	Paths    PathsConfig    `mapstructure:"paths"    yaml:"paths"`
	Names    NamesConfig    `mapstructure:"names"    yaml:"names"`
	Backup   BackupConfig   `mapstructure:"backup"   yaml:"backup"`
	Archive  ArchiveConfig  `mapstructure:"archive"  yaml:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
}

// DatabaseConfig holds the connection settings handed to xtrabackup.
type DatabaseConfig struct {
	User     string `mapstructure:"user"     yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Host     string `mapstructure:"host"     yaml:"host"`
	Port     string `mapstructure:"port"     yaml:"port"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
// Vault is only consulted when CredentialsPath is set.
type VaultConfig struct {
	Address         string `mapstructure:"address"          yaml:"address,omitempty"`
	Token           string `mapstructure:"token"            yaml:"token,omitempty"`
	ApproleName     string `mapstructure:"approle_name"     yaml:"approle_name,omitempty"`
	RoleID          string `mapstructure:"role_id"          yaml:"role_id,omitempty"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
}

// PathsConfig locates the active backup set and the archive directory.
type PathsConfig struct {
	// ActiveDirectory is wiped on every rotation. Nothing else may live there.
	ActiveDirectory  string `mapstructure:"active_directory"  yaml:"active_directory"`
	ArchiveDirectory string `mapstructure:"archive_directory" yaml:"archive_directory"`
}

// NamesConfig holds the naming convention of artifacts and archives.
type NamesConfig struct {
	BaseFolder        string `mapstructure:"base_folder"        yaml:"base_folder"`
	IncrementalPrefix string `mapstructure:"incremental_prefix" yaml:"incremental_prefix"`
	ArchivePrefix     string `mapstructure:"archive_prefix"     yaml:"archive_prefix"`
}

// BackupConfig contains options of the backup command itself.
type BackupConfig struct {
	Command               string        `mapstructure:"command"                  yaml:"command"`
	Sudo                  bool          `mapstructure:"sudo"                     yaml:"sudo"`
	Prompt                string        `mapstructure:"prompt"                   yaml:"prompt"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout"        yaml:"handshake_timeout"`
	MaxTimeBetweenBackups time.Duration `mapstructure:"max_time_between_backups" yaml:"max_time_between_backups"`
	ExtraFlags            []string      `mapstructure:"extra_flags"              yaml:"extra_flags,omitempty"`
	ReportFile            string        `mapstructure:"report_file"              yaml:"report_file,omitempty"`
}

// ArchiveConfig controls rotation triggers and archive retention.
type ArchiveConfig struct {
	Enabled                bool   `mapstructure:"enabled"                  yaml:"enabled"`
	Format                 string `mapstructure:"format"                   yaml:"format"`
	RetainCount            int    `mapstructure:"retain_count"             yaml:"retain_count"`
	EnforceMaxIncrementals bool   `mapstructure:"enforce_max_incrementals" yaml:"enforce_max_incrementals"`
	MaxIncrementals        int    `mapstructure:"max_incrementals"         yaml:"max_incrementals"`
	EnforceAtHour          bool   `mapstructure:"enforce_at_hour"          yaml:"enforce_at_hour"`
	// AtUTCHour is the UTC hour (0-23) forcing a rotation; -1 disables it.
	AtUTCHour int `mapstructure:"at_utc_hour" yaml:"at_utc_hour"`
}

// LoggingConfig controls the console and file sinks.
type LoggingConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"`
	Level       string `mapstructure:"level"        yaml:"level"`
	Console     bool   `mapstructure:"console"      yaml:"console"`
	ChildOutput bool   `mapstructure:"child_output" yaml:"child_output"`
	File        string `mapstructure:"file"         yaml:"file,omitempty"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"  yaml:"max_backups"`
}

// ScheduleConfig is used by the schedule command only.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" yaml:"cron,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return nil
}

// LoadFile loads and validates the configuration at path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if err := cfg.Load(path); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
