// Package similarity scores how alike an invoice vendor name and a bank
// transaction description are.
//
// Every provider returns a value in [0,1] and is symmetric in its two
// arguments. Local providers are deterministic and never fail. The delegated
// provider calls an external scoring service, or a hosted language model
// through package llm, and falls back to a local provider whenever the
// remote side is slow or broken.
package similarity
