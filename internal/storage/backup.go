package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix     = "solarmon_"
	backupSuffix     = ".db"
	backupDateLayout = "20060102"
)

// BackupFile is one dated database copy in the backup directory.
type BackupFile struct {
	Name string
	Date time.Time
	Size int64
}

// parseBackupName returns the date of a solarmon_YYYYMMDD.db name.
func parseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	date, err := time.Parse(backupDateLayout, strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix))
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// BackupDatabase writes solarmon_<today>.db with VACUUM INTO, replacing
// a copy from the same day, then drops copies past retention.
func BackupDatabase(db *sql.DB, cfg *BackupConfig) error {
	return backupAt(db, cfg, time.Now())
}

func backupAt(db *sql.DB, cfg *BackupConfig, now time.Time) error {
	if !cfg.Enabled {
		return nil
	}

	if err := os.MkdirAll(cfg.BackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(cfg.BackupDir, backupPrefix+now.Format(backupDateLayout)+backupSuffix)

	// VACUUM INTO refuses to overwrite
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing backup: %w", err)
	}

	// the target cannot be a bound parameter in every sqlite version
	if _, err := db.Exec("VACUUM INTO '" + strings.ReplaceAll(path, "'", "''") + "'"); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if _, err := pruneBackups(cfg, now); err != nil {
		return fmt.Errorf("backup written but cleanup failed: %w", err)
	}
	return nil
}

// CleanupBackups removes copies older than RetentionDays.
func CleanupBackups(cfg *BackupConfig) error {
	_, err := pruneBackups(cfg, time.Now())
	return err
}

func pruneBackups(cfg *BackupConfig, now time.Time) (int, error) {
	backups, err := ListBackups(cfg)
	if err != nil {
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
	removed := 0
	for _, b := range backups {
		if b.Date.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(cfg.BackupDir, b.Name)); err != nil {
			return removed, fmt.Errorf("failed to remove old backup %s: %w", b.Name, err)
		}
		removed++
	}
	return removed, nil
}

// ListBackups returns the dated copies, oldest first. Files that do not
// follow the naming scheme are ignored.
func ListBackups(cfg *BackupConfig) ([]BackupFile, error) {
	entries, err := os.ReadDir(cfg.BackupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupFile
	for _, e := range entries {
		date, ok := parseBackupName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupFile{Name: e.Name(), Date: date, Size: info.Size()})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Date.Before(backups[j].Date) })
	return backups, nil
}

// RestoreDatabase replaces targetDBPath with a backup. The backup must
// carry a schema this build knows; the target must not be open.
func RestoreDatabase(name, targetDBPath string, cfg *BackupConfig) error {
	src := filepath.Join(cfg.BackupDir, name)
	if _, ok := parseBackupName(name); !ok {
		return fmt.Errorf("%s is not a backup name", name)
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}
	if err := checkBackupSchema(src); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(targetDBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	// copy next to the target, then rename, so a failed copy leaves the
	// old database in place
	tmp := targetDBPath + ".restore"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to restore database: %w", err)
	}
	if err := os.Rename(tmp, targetDBPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to restore database: %w", err)
	}
	return nil
}

func checkBackupSchema(path string) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer db.Close()

	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("backup %s has no solarmon schema: %w", filepath.Base(path), err)
	}
	if version > len(migrations) {
		return fmt.Errorf("backup %s has schema %d, newer than %d", filepath.Base(path), version, len(migrations))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
