package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a report and the decision trail to a spreadsheet",
		Long: `Write the proposals, unmatched invoices, chunk outcomes and recorded decisions
to spreadsheet tabs so reviewers without terminal access can follow along.`,
	}

	cmd.PersistentFlags().String("report", "", "report to export (default: the last saved report)")
	cmd.PersistentFlags().Int("decisions", 500, "maximum number of recent decisions to include (0 for all)")

	cmd.AddCommand(exportSheetsCmd())
	cmd.AddCommand(exportXLSXCmd())
	return cmd
}

func exportSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Export to Google Sheets",
		Long: `Export to a Google Spreadsheet. Credentials come from the sheets section of the
config file (service_account_path, or client_id/client_secret with refresh_token
or token_file). Without a spreadsheet_id a new spreadsheet is created.`,
		RunE: runExportSheets,
	}
	cmd.Flags().String("spreadsheet-id", "", "existing spreadsheet to overwrite")
	return cmd
}

func exportXLSXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "xlsx <file>",
		Short: "Export to a local .xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportXLSX,
	}
}

func runExportSheets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	export, err := loadExport(ctx, cmd)
	if err != nil {
		return err
	}

	cfg := sheets.DefaultConfig()
	if err := viper.UnmarshalKey("sheets", &cfg); err != nil {
		return fmt.Errorf("failed to read sheets config: %w", err)
	}
	if id, _ := cmd.Flags().GetString("spreadsheet-id"); id != "" {
		cfg.SpreadsheetID = id
	}

	writer, err := sheets.NewWriter(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	id, err := writer.Write(ctx, export)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
		"Exported to https://docs.google.com/spreadsheets/d/"+id))
	return nil
}

func runExportXLSX(cmd *cobra.Command, args []string) error {
	export, err := loadExport(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	if err := sheets.WriteWorkbook(args[0], export); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Exported to "+args[0]))
	return nil
}

func loadExport(ctx context.Context, cmd *cobra.Command) (sheets.Export, error) {
	path, _ := cmd.Flags().GetString("report")
	limit, _ := cmd.Flags().GetInt("decisions")

	cfg, err := loadConfig()
	if err != nil {
		return sheets.Export{}, err
	}
	if path == "" {
		path = defaultReportPath(cfg.Database.Path)
	}
	report, err := cli.LoadReport(path)
	if err != nil {
		return sheets.Export{}, err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return sheets.Export{}, err
	}
	defer func() { _ = store.Close() }()

	decisions, err := store.ListDecisions(ctx, service.DecisionFilter{Limit: limit})
	if err != nil {
		return sheets.Export{}, err
	}
	return sheets.Export{Report: report, Decisions: decisions}, nil
}
