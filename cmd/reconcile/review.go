package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/tui"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review proposed matches interactively",
		Long: `Walk through the assignments of a saved report and accept, reject or skip
each one. Decisions are recorded as they are made.`,
		RunE: runReview,
	}
	cmd.Flags().String("report", "", "report to review (default: the last saved report)")
	cmd.Flags().String("actor", "", "who is recording the decisions (default: $USER)")
	addMetricsFlag(cmd)
	return cmd
}

func runReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path, _ := cmd.Flags().GetString("report")
	if path == "" {
		path = defaultReportPath(a.cfg.Database.Path)
	}
	report, err := cli.LoadReport(path)
	if err != nil {
		return err
	}
	if len(report.Assignments) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No assignments to review in "+path))
		return nil
	}

	serveMetrics(ctx, metricsAddr(cmd, a.cfg), a.recorder)

	summary, err := tui.Run(ctx, report, tui.Config{
		Decider: a.engine,
		Actor:   actorFor(cmd),
		Theme:   tui.Default,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox("Review complete", fmt.Sprintf(
		"%s Accepted: %d\n%s Rejected: %d\nSkipped: %d\nFailed: %d\nPending: %d",
		cli.SuccessIcon, summary.Accepted,
		cli.ErrorIcon, summary.Rejected,
		summary.Skipped, summary.Failed, summary.Pending)))
	return nil
}
