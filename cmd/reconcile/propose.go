package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/engine"
	"github.com/Veraticus/invoice-match/internal/model"
)

const lastReportName = "last-report.json"

func proposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose invoice-to-transaction matches",
		Long: `Score every open invoice against unlinked ledger transactions and print the
best one-to-one assignment. Nothing is written to the ledger; use accept,
reject or review to act on the proposals.

The report is saved so an interrupted or partially failed run can be resumed.`,
		RunE: runPropose,
	}

	cmd.Flags().StringSlice("invoice", nil, "only consider these invoice IDs (repeatable)")
	cmd.Flags().String("since", "", "only consider invoices issued on or after this date (YYYY-MM-DD)")
	addReportFlags(cmd)
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted or partial run",
		Long: `Re-run only the chunks that did not complete in a saved report. Completed
chunks keep their candidates unless the records behind them changed.`,
		RunE: runResume,
	}

	cmd.Flags().String("report", "", "report to resume (default: the last saved report)")
	addReportFlags(cmd)
	return cmd
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", cli.FormatTable, "output format (table, json, yaml)")
	cmd.Flags().StringP("out", "o", "", "save the report to this file (default: next to the database)")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")
	addMetricsFlag(cmd)
}

func runPropose(cmd *cobra.Command, _ []string) error {
	ids, _ := cmd.Flags().GetStringSlice("invoice")
	since, _ := cmd.Flags().GetString("since")

	sinceTime, err := parseDateFlag(since)
	if err != nil {
		return err
	}
	req := engine.ProposeRequest{Since: sinceTime, InvoiceIDs: ids}

	return runMatching(cmd, func(ctx context.Context, e *engine.Engine) (*model.MatchReport, error) {
		return e.ProposeMatches(ctx, req)
	})
}

func runResume(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("report")
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = defaultReportPath(cfg.Database.Path)
	}

	prev, err := cli.LoadReport(path)
	if err != nil {
		return err
	}
	if len(prev.FailedChunks()) == 0 && !prev.Cancelled && !prev.Partial {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to resume: every chunk in "+path+" completed"))
		return nil
	}

	return runMatching(cmd, func(ctx context.Context, e *engine.Engine) (*model.MatchReport, error) {
		return e.Resume(ctx, engine.ProposeRequest{}, prev)
	})
}

// runMatching wires progress, interrupts and metrics around one run, then
// renders and saves the report.
func runMatching(cmd *cobra.Command, run func(context.Context, *engine.Engine) (*model.MatchReport, error)) error {
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if err := cli.ValidateFormat(format); err != nil {
		return err
	}

	var opts []engine.Option
	var progress *cli.ChunkProgress
	if !noProgress && format == cli.FormatTable {
		progress = cli.NewChunkProgress(cmd.ErrOrStderr())
		opts = append(opts, engine.WithProgress(progress.Func()))
	}

	a, err := newApp(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if out == "" {
		out = defaultReportPath(a.cfg.Database.Path)
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	interrupts.SetResumeHint("reconcile resume --report " + out)
	ctx := interrupts.HandleInterrupts(cmd.Context())
	defer interrupts.Stop()

	serveMetrics(ctx, metricsAddr(cmd, a.cfg), a.recorder)

	report, err := run(ctx, a.engine)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	if err := cli.SaveReport(out, report); err != nil {
		return err
	}
	slog.Debug("Saved report", "path", out)

	if err := cli.RenderReport(cmd.OutOrStdout(), report, format); err != nil {
		return err
	}

	if report.Partial || report.Cancelled {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning(
			fmt.Sprintf("%d chunk(s) did not complete. Resume with: reconcile resume --report %s",
				len(report.FailedChunks()), out)))
	}
	return nil
}

func defaultReportPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), lastReportName)
}
