// Package llm provides the language model client used by the routing and
// SQL generation stages.
package llm

import "context"

// Client is the interface for interacting with an LLM.
type Client interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
