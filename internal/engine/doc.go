// Package engine reconciles invoices against ledger transactions.
//
// A run flows Orchestrator -> Generator -> Scorer -> Selector and produces a
// model.MatchReport that nothing has applied yet. Humans act on the report
// through the Ledger, whose accept and reject decisions feed the pattern
// store read by the next run's Scorer.
package engine
