package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/invoice-match/internal/cli"
	"github.com/Veraticus/invoice-match/internal/model"
)

func acceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <invoice-id> <transaction-id>",
		Short: "Accept a proposed match",
		Long: `Link the transaction to the invoice, categorize it, and record the decision.
Fails if either side was already claimed by another match.`,
		Args: cobra.ExactArgs(2),
		RunE: runAccept,
	}
	cmd.Flags().String("actor", "", "who is recording the decision (default: $USER)")
	return cmd
}

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <invoice-id> <transaction-id>",
		Short: "Reject a proposed match",
		Long: `Record that the transaction does not pay the invoice. The pair is not proposed
again unless either record changes.`,
		Args: cobra.ExactArgs(2),
		RunE: runReject,
	}
	cmd.Flags().String("actor", "", "who is recording the decision (default: $USER)")
	cmd.Flags().StringP("reason", "r", "", "why the match is wrong (prompted for when omitted)")
	return cmd
}

func runAccept(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.engine.AcceptMatch(ctx, args[0], args[1], actorFor(cmd))
	if err != nil {
		return err
	}
	printDecision(cmd, decision)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reason, _ := cmd.Flags().GetString("reason")

	if strings.TrimSpace(reason) == "" {
		prompter := cli.NewPrompter(os.Stdin, cmd.ErrOrStderr())
		answer, err := prompter.Ask(ctx, fmt.Sprintf("Why doesn't %s pay %s?", args[1], args[0]))
		if err != nil {
			return err
		}
		reason = answer
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.engine.RejectMatch(ctx, args[0], args[1], actorFor(cmd), reason)
	if err != nil {
		return err
	}
	printDecision(cmd, decision)
	return nil
}

func printDecision(cmd *cobra.Command, d *model.MatchDecision) {
	msg := fmt.Sprintf("%s %s ↔ %s by %s", d.Decision, d.InvoiceID, d.TransactionID, d.Actor)
	if d.Decision == model.DecisionAccepted {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
		return
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(msg))
}
