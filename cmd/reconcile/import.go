package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/importer"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/ofx"
	"github.com/Veraticus/invoice-match/internal/plaid"
	"github.com/Veraticus/invoice-match/internal/simplefin"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load invoices and ledger transactions",
		Long: `Load the two sides of reconciliation into the local database.

Transactions come from OFX/QFX bank exports, Plaid or a SimpleFIN bridge. Invoices come from
a CSV or XLSX register. Re-importing a record updates it in place.`,
	}

	cmd.PersistentFlags().String("entity", "", "business entity the imported records belong to")
	cmd.PersistentFlags().String("currency", "USD", "currency for records that do not state one")
	cmd.PersistentFlags().Bool("dry-run", false, "Preview import without saving")

	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importPlaidCmd())
	cmd.AddCommand(importSimpleFINCmd())
	cmd.AddCommand(importInvoicesCmd())
	return cmd
}

func importOFXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import ledger transactions from OFX or QFX files exported from your bank.

Examples:
  reconcile import ofx --entity acme-co ~/Downloads/checking_2025_04.qfx
  reconcile import ofx --entity acme-co ~/Downloads/*.ofx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	entity, currency, dryRun := importFlags(cmd)
	if entity == "" {
		return fmt.Errorf("--entity is required")
	}

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	parser := ofx.NewParser(entity, currency)
	seen := make(map[string]bool)
	var all []model.Transaction

	for _, path := range files {
		txns, err := parseOFXFile(ctx, parser, path)
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			continue
		}
		added := 0
		for _, txn := range txns {
			if !seen[txn.ID] {
				seen[txn.ID] = true
				all = append(all, txn)
				added++
			}
		}
		slog.Info("Parsed file", "file", filepath.Base(path), "transactions", len(txns), "new", added)
	}

	if len(all) == 0 {
		return fmt.Errorf("no transactions found in %d file(s)", len(files))
	}
	return saveTransactions(ctx, cmd, all, dryRun)
}

func parseOFXFile(ctx context.Context, parser *ofx.Parser, path string) ([]model.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return parser.ParseFile(ctx, f)
}

func importPlaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plaid",
		Short: "Import transactions from Plaid",
		Long: `Fetch posted transactions from Plaid for the configured access token.

Credentials are read from the plaid section of the config file or from
RECONCILE_PLAID_* environment variables.`,
		RunE: runImportPlaid,
	}

	addRangeFlags(cmd)
	return cmd
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("start-date", "s", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringP("end-date", "e", "", "end date (YYYY-MM-DD), defaults to today")
	cmd.Flags().IntP("days", "d", 30, "number of days to fetch when --start-date is not set")
	cmd.Flags().Bool("list-accounts", false, "list the connected accounts and exit")
}

func runImportPlaid(cmd *cobra.Command, _ []string) error {
	entity, currency, dryRun := importFlags(cmd)

	var pcfg plaid.Config
	if err := viper.UnmarshalKey("plaid", &pcfg); err != nil {
		return fmt.Errorf("failed to read plaid config: %w", err)
	}
	if entity != "" {
		pcfg.Entity = entity
	}
	if pcfg.DefaultCurrency == "" {
		pcfg.DefaultCurrency = currency
	}

	client, err := plaid.NewClient(pcfg)
	if err != nil {
		return err
	}
	return importFromSource(cmd, "Plaid", client, dryRun)
}

// importFromSource lists accounts or fetches and saves transactions from any
// bank source.
func importFromSource(cmd *cobra.Command, name string, source plaid.TransactionFetcher, dryRun bool) error {
	ctx := cmd.Context()
	if list, _ := cmd.Flags().GetBool("list-accounts"); list {
		accounts, err := source.GetAccounts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		for _, account := range accounts {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), account)
		}
		return nil
	}

	start, end, err := fetchRange(cmd, time.Now())
	if err != nil {
		return err
	}

	txns, err := fetchTransactions(ctx, name, source, start, end)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		slog.Info("No transactions in range", "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		return nil
	}
	return saveTransactions(ctx, cmd, txns, dryRun)
}

func importSimpleFINCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simplefin",
		Short: "Import transactions from a SimpleFIN bridge",
		Long: `Fetch posted transactions through SimpleFIN.

The first run needs a setup token (--token or simplefin.token). The claimed
access URL is saved next to the database and reused afterwards.`,
		RunE: runImportSimpleFIN,
	}

	cmd.Flags().String("token", "", "SimpleFIN setup token (only needed once)")
	addRangeFlags(cmd)
	return cmd
}

func runImportSimpleFIN(cmd *cobra.Command, _ []string) error {
	entity, currency, dryRun := importFlags(cmd)

	var scfg simplefin.Config
	if err := viper.UnmarshalKey("simplefin", &scfg); err != nil {
		return fmt.Errorf("failed to read simplefin config: %w", err)
	}
	if entity != "" {
		scfg.Entity = entity
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		scfg.Token = token
	}
	if scfg.DefaultCurrency == "" {
		scfg.DefaultCurrency = currency
	}
	if scfg.StateFile == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scfg.StateFile = filepath.Join(filepath.Dir(cfg.Database.Path), "simplefin_auth.json")
	}

	client, err := simplefin.NewClient(cmd.Context(), scfg)
	if err != nil {
		return err
	}
	return importFromSource(cmd, "SimpleFIN", client, dryRun)
}

func fetchTransactions(ctx context.Context, source string, fetcher plaid.TransactionFetcher, start, end time.Time) ([]model.Transaction, error) {
	slog.Info("Fetching transactions",
		"source", source,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"))
	txns, err := fetcher.GetTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return txns, nil
}

func fetchRange(cmd *cobra.Command, now time.Time) (time.Time, time.Time, error) {
	startStr, _ := cmd.Flags().GetString("start-date")
	endStr, _ := cmd.Flags().GetString("end-date")
	days, _ := cmd.Flags().GetInt("days")

	end := now
	if parsed, err := parseDateFlag(endStr); err != nil {
		return time.Time{}, time.Time{}, err
	} else if parsed != nil {
		end = *parsed
	}

	start := end.AddDate(0, 0, -days)
	if parsed, err := parseDateFlag(startStr); err != nil {
		return time.Time{}, time.Time{}, err
	} else if parsed != nil {
		start = *parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return start, end, nil
}

func importInvoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices [file]",
		Short: "Import an invoice register from CSV or XLSX",
		Long: `Import invoices from a register file. The first row names the columns:
id, vendor, amount and issue_date are required; currency, entity and direction
are optional and fall back to the flags.

Examples:
  reconcile import invoices --entity acme-co bills_2025_q2.csv
  reconcile import invoices --entity acme-co --sheet Receivables ar.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: runImportInvoices,
	}

	cmd.Flags().String("sheet", "", "XLSX worksheet to read (default: first sheet)")
	cmd.Flags().String("direction", string(model.DirectionPayable), "direction for rows without one (payable or receivable)")
	return cmd
}

func runImportInvoices(cmd *cobra.Command, args []string) error {
	entity, currency, dryRun := importFlags(cmd)
	sheet, _ := cmd.Flags().GetString("sheet")
	direction, _ := cmd.Flags().GetString("direction")
	ctx := cmd.Context()

	invoices, err := importer.ReadFile(ctx, args[0], importer.Defaults{
		Entity:    entity,
		Currency:  currency,
		Direction: model.InvoiceDirection(direction),
		Sheet:     sheet,
	})
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		return fmt.Errorf("no invoices found in %s", args[0])
	}

	if dryRun {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("Dry run: would import %d invoices", len(invoices))))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveInvoices(ctx, invoices); err != nil {
		return fmt.Errorf("failed to save invoices: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d invoices", len(invoices))))
	return nil
}

func importFlags(cmd *cobra.Command) (entity, currency string, dryRun bool) {
	entity, _ = cmd.Flags().GetString("entity")
	currency, _ = cmd.Flags().GetString("currency")
	dryRun, _ = cmd.Flags().GetBool("dry-run")
	return entity, currency, dryRun
}

func saveTransactions(ctx context.Context, cmd *cobra.Command, txns []model.Transaction, dryRun bool) error {
	if dryRun {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("Dry run: would import %d transactions", len(txns))))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveTransactions(ctx, txns); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d transactions", len(txns))))
	return nil
}
