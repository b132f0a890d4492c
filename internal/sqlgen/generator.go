// Package sqlgen generates read-only SQL statements from natural-language
// questions, grounded in retrieved schema context, and owns the syntax policy
// that every statement must satisfy before it reaches the executor.
package sqlgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aravula7/agentic-rag-analytics/internal/llm"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

const systemPrompt = `You are a PostgreSQL query generator for an analytics database.
Generate exactly one SELECT statement that answers the user's question using
the provided schema context. Rules:
- Output only the SQL statement, no explanation and no markdown fences.
- Read-only: SELECT statements only.
- Use only tables and columns present in the schema context.
- Prefer explicit column lists over SELECT *.`

const regenerationTemplate = `Schema Context:
%s

User Query: %s

The previous SQL query failed. Fix it.

Previous SQL:
%s

Error:
%s

Generate a corrected SQL query that avoids this error.`

// ContextRetriever supplies schema context for generation prompts.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
	TableContext(ctx context.Context, tables []string) (string, error)
}

// Generator produces SQL statements via the LLM.
type Generator struct {
	llm       llm.Client
	retriever ContextRetriever
	log       *slog.Logger
}

// New creates a Generator.
func New(client llm.Client, retriever ContextRetriever, log *slog.Logger) *Generator {
	return &Generator{llm: client, retriever: retriever, log: log}
}

// Generate produces a validated SQL statement for the question. When prior
// is non-nil the prompt includes the failing statement and its error so
// regeneration is error-informed. The returned statement has passed the
// syntax policy; a policy failure is reported as *pipeline.ValidationError.
func (g *Generator) Generate(ctx context.Context, query string, tables []string, prior *pipeline.Attempt) (string, error) {
	var schemaContext string
	var err error
	if len(tables) > 0 {
		schemaContext, err = g.retriever.TableContext(ctx, tables)
	} else {
		schemaContext, err = g.retriever.Retrieve(ctx, query)
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve schema context: %w", err)
	}

	var userPrompt string
	if prior != nil {
		userPrompt = fmt.Sprintf(regenerationTemplate, schemaContext, query, prior.SQL, prior.Err)
	} else {
		userPrompt = fmt.Sprintf("Schema Context:\n%s\n\nUser Query: %s", schemaContext, query)
	}

	response, err := g.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}

	sql := Clean(response)
	if sql == "" {
		return "", fmt.Errorf("no SQL generated")
	}
	if err := Validate(sql); err != nil {
		return "", err
	}

	if g.log != nil {
		g.log.Info("sqlgen: generated statement", "regenerated", prior != nil, "sql", truncate(sql, 120))
	}
	return sql, nil
}

// Clean normalizes raw model output into a bare statement: markdown fences
// stripped, whitespace trimmed, trailing semicolon removed.
func Clean(raw string) string {
	sql := strings.TrimSpace(raw)
	sql = strings.ReplaceAll(sql, "```sql", "")
	sql = strings.ReplaceAll(sql, "```", "")
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.TrimSpace(sql)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
