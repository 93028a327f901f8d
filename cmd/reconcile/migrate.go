package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

A copy of the database is written to a backups directory next to it before
an older schema is upgraded.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	cmd.Flags().Bool("no-backup", false, "Skip the pre-migration backup")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Database.Path, storage.Options{BusyRetry: cfg.Storage.BusyRetry})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if status {
		return printMigrationStatus(cmd.OutOrStdout(), store.Path(), version)
	}

	if !noBackup {
		backup, err := store.BackupBeforeMigrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to back up database: %w", err)
		}
		if backup != "" {
			slog.Info("💾 Saved backup", "path", backup)
		}
	}

	slog.Info("🗄️  Running database migrations...", "path", store.Path(), "from_version", version)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("✅ Database migrations completed successfully!")
	return nil
}

func printMigrationStatus(w io.Writer, path string, version int) error {
	pending := storage.ExpectedSchemaVersion - version
	line := fmt.Sprintf("%s: schema v%d of v%d", path, version, storage.ExpectedSchemaVersion)
	switch {
	case pending > 0:
		line = cli.FormatWarning(fmt.Sprintf("%s, %d migration(s) pending", line, pending))
	case pending < 0:
		line = cli.FormatWarning(line + ", newer than this binary")
	default:
		line = cli.FormatSuccess(line + ", up to date")
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
