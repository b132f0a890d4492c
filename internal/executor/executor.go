// Package executor runs validated SQL against Postgres and materializes the
// results as durable artifacts: a CSV export of the rows and the statement
// itself, both uploaded to object storage under date-partitioned keys.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

// queryCanceled is the Postgres error code raised when statement_timeout
// fires. A timeout is a capacity problem, not a statement problem, so it is
// classified as infrastructure rather than fed back into regeneration.
const queryCanceled = "57014"

// Store is the slice of object storage the executor needs.
type Store interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Download(ctx context.Context, key, localPath string) error
}

// Executor executes statements and persists artifacts.
type Executor struct {
	pool    *pgxpool.Pool
	store   Store
	clock   clockwork.Clock
	timeout time.Duration
	log     *slog.Logger
}

// New creates an Executor. timeout bounds each statement via
// statement_timeout inside the session.
func New(pool *pgxpool.Pool, store Store, clock clockwork.Clock, timeout time.Duration, log *slog.Logger) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Executor{pool: pool, store: store, clock: clock, timeout: timeout, log: log}
}

// Execute runs sql in a read-only transaction, writes the rows to CSV, and
// uploads the CSV and the statement text. originatingQuery is embedded in the
// SQL artifact header and in the artifact naming hash.
//
// Failures caused by the statement itself (bad syntax, missing table) return
// *pipeline.DatabaseError so the caller can regenerate. Everything else,
// including statement timeouts, returns *pipeline.InfraError.
func (e *Executor) Execute(ctx context.Context, sql, originatingQuery string) (*pipeline.ExecutionResult, error) {
	start := e.clock.Now()

	columns, records, err := e.query(ctx, sql)
	if err != nil {
		return nil, classify(err)
	}
	elapsed := e.clock.Since(start)

	now := e.clock.Now().UTC()
	base := artifactBase(originatingQuery, now)
	csvKey := fmt.Sprintf("reports/%s/%s.csv", now.Format("2006/01/02"), base)
	sqlKey := fmt.Sprintf("queries/%s/%s.sql", now.Format("2006/01/02"), base)

	dir, err := os.MkdirTemp("", "askdb-")
	if err != nil {
		return nil, &pipeline.InfraError{Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	csvPath := filepath.Join(dir, base+".csv")
	if err := writeCSV(csvPath, columns, records); err != nil {
		return nil, &pipeline.InfraError{Err: err}
	}
	sqlPath := filepath.Join(dir, base+".sql")
	if err := writeSQLArtifact(sqlPath, sql, originatingQuery, now); err != nil {
		return nil, &pipeline.InfraError{Err: err}
	}

	csvURL, err := e.store.Upload(ctx, csvPath, csvKey)
	if err != nil {
		return nil, &pipeline.InfraError{Err: err}
	}
	sqlURL, err := e.store.Upload(ctx, sqlPath, sqlKey)
	if err != nil {
		return nil, &pipeline.InfraError{Err: err}
	}

	if e.log != nil {
		e.log.Info("executor: query complete",
			"rows", len(records), "columns", len(columns),
			"elapsed", elapsed, "csv_key", csvKey)
	}

	return &pipeline.ExecutionResult{
		RowCount:       len(records),
		ColumnCount:    len(columns),
		ElapsedSeconds: elapsed.Seconds(),
		Columns:        columns,
		CSVKey:         csvKey,
		CSVURL:         csvURL,
		SQLKey:         sqlKey,
		SQLURL:         sqlURL,
		Timestamp:      now,
	}, nil
}

// query runs the statement in a read-only transaction with a local
// statement_timeout, so even a statement that slipped past validation cannot
// write or run unbounded.
func (e *Executor) query(ctx context.Context, sql string) ([]string, [][]string, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	timeoutMS := int(e.timeout / time.Millisecond)
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS)); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var records [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, records, tx.Commit(ctx)
}

// Preview downloads an artifact and returns up to n data rows plus the
// header. It is best effort: any failure returns nil and the caller degrades
// gracefully.
func (e *Executor) Preview(ctx context.Context, key string, n int) [][]string {
	data := e.FetchArtifact(ctx, key)
	if data == nil {
		return nil
	}
	r := csv.NewReader(strings.NewReader(string(data)))
	var rows [][]string
	for len(rows) < n+1 {
		record, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil
	}
	return rows
}

// FetchArtifact downloads an artifact's full contents. Best effort: nil on
// any failure.
func (e *Executor) FetchArtifact(ctx context.Context, key string) []byte {
	dir, err := os.MkdirTemp("", "askdb-fetch-")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(key))
	if err := e.store.Download(ctx, key, path); err != nil {
		if e.log != nil {
			e.log.Warn("executor: artifact fetch failed", "key", key, "error", err)
		}
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// classify maps a pgx error into the pipeline taxonomy. Errors reported by
// the server about the statement are retriable via regeneration; timeouts and
// transport failures are not.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if pgconn.Timeout(err) {
		return &pipeline.InfraError{Err: err}
	}
	if errors.As(err, &pgErr) {
		if pgErr.Code == queryCanceled {
			return &pipeline.InfraError{Err: err}
		}
		return &pipeline.DatabaseError{Err: err}
	}
	return &pipeline.InfraError{Err: err}
}

// artifactBase derives the shared basename for a request's artifacts:
// query_<timestamp>_<hash prefix of the originating question>.
func artifactBase(originatingQuery string, now time.Time) string {
	sum := sha256.Sum256([]byte(originatingQuery))
	return fmt.Sprintf("query_%s_%s", now.Format("20060102_150405"), hex.EncodeToString(sum[:])[:8])
}

func writeCSV(path string, columns []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	w.Flush()
	return w.Error()
}

// writeSQLArtifact saves the executed statement with a provenance header so
// an analyst reading the bucket can tie it back to the question.
func writeSQLArtifact(path, sql, originatingQuery string, now time.Time) error {
	var sb strings.Builder
	sb.WriteString("-- Generated: " + now.Format(time.RFC3339) + "\n")
	sb.WriteString("-- User Query: " + originatingQuery + "\n\n")
	sb.WriteString(sql + "\n")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write SQL artifact: %w", err)
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
