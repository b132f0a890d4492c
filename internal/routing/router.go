// Package routing classifies a user question into a routing decision: does
// it need database access, does the user want the results emailed, and which
// tables are likely involved.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aravula7/agentic-rag-analytics/internal/llm"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

const systemPrompt = `You are a routing classifier for a SQL analytics assistant.
Decide whether the user's question requires querying the analytics database,
whether the user asked for the results to be emailed, and which tables are
likely involved.

Respond with JSON only:
{
  "requires_sql": true/false,
  "requires_email": true/false,
  "tables_involved": ["table", ...],
  "query_complexity": "simple" | "medium" | "complex",
  "reasoning": "one sentence"
}`

// Router performs one classifier call per request. The classifier is never
// retried here; retry policy belongs to the orchestrator, and the
// orchestrator does not retry routing.
type Router struct {
	llm llm.Client
	log *slog.Logger
}

// New creates a Router backed by the given LLM client.
func New(client llm.Client, log *slog.Logger) *Router {
	return &Router{llm: client, log: log}
}

// Route classifies the question. A transport failure propagates to the
// caller; malformed classifier output is recovered locally with a
// conservative fallback biased toward attempting SQL.
func (r *Router) Route(ctx context.Context, query string) (*pipeline.Decision, error) {
	response, err := r.llm.Complete(ctx, systemPrompt, fmt.Sprintf("Question to classify: %s", query))
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}

	decision, err := parseDecision(response)
	if err != nil {
		if r.log != nil {
			r.log.Warn("routing: classifier output unparseable, falling back to SQL", "error", err)
		}
		return &pipeline.Decision{
			RequiresSQL:      true,
			RequiresDelivery: false,
			Tables:           []string{},
			Complexity:       pipeline.ComplexitySimple,
			Reasoning:        fmt.Sprintf("Error parsing decision: %v", err),
		}, nil
	}

	if r.log != nil {
		r.log.Info("routing: decision",
			"requires_sql", decision.RequiresSQL,
			"requires_email", decision.RequiresDelivery,
			"tables", decision.Tables,
			"complexity", decision.Complexity)
	}
	return decision, nil
}

// parseDecision extracts the decision JSON from the classifier response,
// tolerating surrounding markdown fences.
func parseDecision(response string) (*pipeline.Decision, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var decision pipeline.Decision
	if err := json.Unmarshal([]byte(jsonStr), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	switch decision.Complexity {
	case pipeline.ComplexitySimple, pipeline.ComplexityMedium, pipeline.ComplexityComplex:
	case "":
		decision.Complexity = pipeline.ComplexitySimple
	default:
		return nil, fmt.Errorf("invalid complexity: %s", decision.Complexity)
	}

	decision.Tables = dedupe(decision.Tables)
	return &decision, nil
}

// extractJSON finds the first top-level JSON object in the text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// dedupe removes duplicate table names while preserving order.
func dedupe(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
