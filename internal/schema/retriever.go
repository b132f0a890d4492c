// Package schema retrieves database schema context used to ground SQL
// generation. Context is built from the Postgres catalog, enriched with
// sample values for low-cardinality text columns, and cached in-process.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jellydator/ttlcache/v3"
)

const (
	// fullSchemaKey caches the whole-catalog context under one entry.
	fullSchemaKey = "__all__"

	maxSampleValues = 15
	sampleProbe     = 20
)

// Retriever builds schema context strings from the database catalog.
type Retriever struct {
	pool  *pgxpool.Pool
	cache *ttlcache.Cache[string, string]
	log   *slog.Logger
}

// New creates a Retriever. Contexts are cached for ttl so repeated
// generations within one retry loop do not re-walk the catalog.
func New(pool *pgxpool.Pool, ttl time.Duration, log *slog.Logger) *Retriever {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &Retriever{pool: pool, cache: cache, log: log}
}

// Close stops the cache janitor.
func (r *Retriever) Close() {
	r.cache.Stop()
}

// Retrieve returns schema context for a free-form question. Without an
// embedding index the whole catalog is the context; it is small enough for
// the generation prompt and cached across requests.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	return r.contextFor(ctx, fullSchemaKey, nil)
}

// TableContext returns schema context restricted to the given tables, as
// hinted by the routing decision.
func (r *Retriever) TableContext(ctx context.Context, tables []string) (string, error) {
	if len(tables) == 0 {
		return r.Retrieve(ctx, "")
	}
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	return r.contextFor(ctx, strings.Join(sorted, ","), tables)
}

func (r *Retriever) contextFor(ctx context.Context, key string, tables []string) (string, error) {
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	text, err := r.build(ctx, tables)
	if err != nil {
		return "", err
	}
	r.cache.Set(key, text, ttlcache.DefaultTTL)
	return text, nil
}

type column struct {
	table   string
	name    string
	dtype   string
	samples []string
}

// build walks information_schema and formats a readable schema description.
func (r *Retriever) build(ctx context.Context, tables []string) (string, error) {
	q := `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`
	args := []any{}
	if len(tables) > 0 {
		q = `
			SELECT table_name, column_name, data_type
			FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = ANY($1)
			ORDER BY table_name, ordinal_position`
		args = append(args, tables)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return "", fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.table, &c.name, &c.dtype); err != nil {
			return "", fmt.Errorf("failed to scan column row: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read columns: %w", err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("no tables found in schema")
	}

	r.enrichSamples(ctx, cols)
	return format(cols), nil
}

// enrichSamples fetches distinct values for categorical text columns so the
// generator sees real filter values (e.g. status='shipped' vs 'SHIPPED').
// Failures here only cost prompt quality and are logged, never returned.
func (r *Retriever) enrichSamples(ctx context.Context, cols []column) {
	for i := range cols {
		c := &cols[i]
		if !isCategorical(c.dtype) || skipColumn(c.name) {
			continue
		}
		samples, err := r.columnSamples(ctx, c.table, c.name)
		if err != nil {
			if r.log != nil {
				r.log.Debug("schema: sample fetch failed", "table", c.table, "column", c.name, "error", err)
			}
			continue
		}
		if len(samples) > 0 && len(samples) <= maxSampleValues {
			c.samples = samples
		}
	}
}

func (r *Retriever) columnSamples(ctx context.Context, table, col string) ([]string, error) {
	// Identifiers come from information_schema, not user input, but quote
	// them anyway.
	q := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d`,
		quoteIdent(col), quoteIdent(table), quoteIdent(col), sampleProbe)

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != "" {
			samples = append(samples, v)
		}
	}
	return samples, rows.Err()
}

func isCategorical(dtype string) bool {
	switch strings.ToLower(dtype) {
	case "text", "character varying", "character", "user-defined":
		return true
	}
	return false
}

// skipColumn filters out identifier-ish and free-text columns whose distinct
// values would be noise in the prompt.
func skipColumn(name string) bool {
	n := strings.ToLower(name)
	for _, suffix := range []string{"_id", "_key", "_code", "_at", "_hash", "_url", "_email"} {
		if strings.HasSuffix(n, suffix) {
			return true
		}
	}
	switch n {
	case "id", "uuid", "name", "description", "comment", "message", "email", "address":
		return true
	}
	return false
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func format(cols []column) string {
	var sb strings.Builder
	current := ""
	for _, c := range cols {
		if c.table != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = c.table
			sb.WriteString(c.table + ":\n")
		}
		if len(c.samples) > 0 {
			sb.WriteString("  - " + c.name + " (" + c.dtype + ") values: " + strings.Join(c.samples, ", ") + "\n")
		} else {
			sb.WriteString("  - " + c.name + " (" + c.dtype + ")\n")
		}
	}
	return sb.String()
}
