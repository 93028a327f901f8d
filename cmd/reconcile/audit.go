package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

func decisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recorded match decisions",
		Long:  `Show the append-only audit trail of accepted and rejected matches, newest first.`,
		RunE:  runDecisions,
	}
	cmd.Flags().String("invoice", "", "only decisions for this invoice")
	cmd.Flags().String("transaction", "", "only decisions for this transaction")
	cmd.Flags().String("decision", "", "only accepted or rejected decisions")
	cmd.Flags().Int("limit", 50, "maximum number of decisions to show (0 for all)")
	cmd.Flags().StringP("format", "f", cli.FormatTable, "output format (table, json, yaml)")
	return cmd
}

func runDecisions(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := cli.ValidateFormat(format); err != nil {
		return err
	}
	filter := service.DecisionFilter{}
	filter.InvoiceID, _ = cmd.Flags().GetString("invoice")
	filter.TransactionID, _ = cmd.Flags().GetString("transaction")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	kind, _ := cmd.Flags().GetString("decision")
	filter.Decision = model.DecisionKind(kind)

	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	decisions, err := store.ListDecisions(ctx, filter)
	if err != nil {
		return err
	}
	return cli.RenderDecisions(cmd.OutOrStdout(), decisions, format)
}

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List learned vendor patterns",
		Long:  `Show the vendor/description weights learned from accepted and rejected matches.`,
		RunE:  runPatterns,
	}
	cmd.Flags().StringP("format", "f", cli.FormatTable, "output format (table, json, yaml)")
	return cmd
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := cli.ValidateFormat(format); err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	patterns, err := store.ListPatterns(ctx)
	if err != nil {
		return err
	}
	return cli.RenderPatterns(cmd.OutOrStdout(), patterns, format)
}
