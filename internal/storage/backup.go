package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrBackupExists is returned when the backup destination is already taken.
var ErrBackupExists = errors.New("backup already exists")

// Backup writes a consistent copy of the database to destPath.
func (s *SQLiteStorage) Backup(ctx context.Context, destPath string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if !filepath.IsAbs(destPath) || filepath.Clean(destPath) != destPath {
		return fmt.Errorf("invalid backup path %q: must be absolute and clean", destPath)
	}
	// VACUUM INTO takes a string literal, so reject anything that could escape it.
	if strings.ContainsAny(destPath, `'";`) {
		return fmt.Errorf("invalid backup path %q: contains forbidden characters", destPath)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%w: %s", ErrBackupExists, destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	return s.retryBusy(ctx, "backup", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("failed to checkpoint WAL: %w", err)
		}
		// #nosec G201 - destPath is validated above
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
			return fmt.Errorf("failed to back up database: %w", err)
		}
		return nil
	})
}

// BackupBeforeMigrate copies the database next to itself when migrations are
// pending. It returns the backup path, or "" when nothing needed saving.
func (s *SQLiteStorage) BackupBeforeMigrate(ctx context.Context) (string, error) {
	if s.dbPath == "" {
		return "", nil
	}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return "", err
	}
	if version == 0 || version >= ExpectedSchemaVersion {
		return "", nil
	}

	dest := filepath.Join(filepath.Dir(s.dbPath), "backups",
		fmt.Sprintf("%s.v%d.%s", filepath.Base(s.dbPath), version, s.now().UTC().Format("20060102T150405")))
	if err := s.Backup(ctx, dest); err != nil {
		return "", err
	}
	slog.Info("Backed up database before migration", "path", dest, "schema_version", version)
	return dest, nil
}
