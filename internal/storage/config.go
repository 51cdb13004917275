package storage

import (
	"fmt"
	"time"

	"github.com/thisdougb/solarmon/internal/config"
)

// BackupConfig controls the dated database copies.
type BackupConfig struct {
	Enabled        bool
	BackupDir      string
	RetentionDays  int
	BackupInterval time.Duration
}

// Config is the persistence part of the SOLARMON_ environment.
type Config struct {
	Enabled bool
	DBPath  string

	// readings are queued and written in batches
	FlushInterval time.Duration
	BatchSize     int

	Backup BackupConfig
}

// LoadConfig reads persistence settings from SOLARMON_ environment variables.
func LoadConfig() *Config {
	return &Config{
		Enabled:       config.BoolValue("SOLARMON_PERSISTENCE_ENABLED"),
		DBPath:        config.StringValue("SOLARMON_DB_PATH"),
		FlushInterval: config.DurationValue("SOLARMON_READINGS_FLUSH"),
		BatchSize:     config.IntValue("SOLARMON_READINGS_BATCH"),
		Backup: BackupConfig{
			Enabled:        config.BoolValue("SOLARMON_BACKUP_ENABLED"),
			BackupDir:      config.StringValue("SOLARMON_BACKUP_DIR"),
			RetentionDays:  config.IntValue("SOLARMON_BACKUP_RETENTION_DAYS"),
			BackupInterval: config.DurationValue("SOLARMON_BACKUP_INTERVAL"),
		},
	}
}

// Validate rejects settings that would lose data or never back up.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("readings batch size must be positive, got %d", c.BatchSize)
	}
	if c.Backup.Enabled {
		if c.Backup.BackupDir == "" {
			return fmt.Errorf("backup directory is required")
		}
		if c.Backup.RetentionDays <= 0 {
			return fmt.Errorf("backup retention must be positive, got %d days", c.Backup.RetentionDays)
		}
		if c.Backup.BackupInterval <= 0 {
			return fmt.Errorf("backup interval must be positive, got %s", c.Backup.BackupInterval)
		}
	}
	return nil
}
