// Package llm asks a hosted language model how likely an invoice vendor and
// a bank description name the same counterparty. It supports OpenAI and
// Anthropic and is used as a remote backend of the delegated similarity
// provider.
package llm
