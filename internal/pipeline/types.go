package pipeline

import (
	"strings"
	"time"
)

// Complexity grades how involved the generated SQL is expected to be.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Decision is the router's structured judgment about a question. It is
// produced once per non-cached request and never mutated afterwards.
type Decision struct {
	RequiresSQL      bool       `json:"requires_sql"`
	RequiresDelivery bool       `json:"requires_email"`
	Tables           []string   `json:"tables_involved"`
	Complexity       Complexity `json:"query_complexity"`
	Reasoning        string     `json:"reasoning"`
}

// Attempt carries a failed SQL statement and its error into regeneration so
// the next generation call is error-informed rather than a blind retry.
type Attempt struct {
	SQL string
	Err string
}

// ExecutionResult holds the metadata of one successful execution, including
// the storage locators for the CSV export and the SQL artifact.
type ExecutionResult struct {
	RowCount       int       `json:"row_count"`
	ColumnCount    int       `json:"column_count"`
	ElapsedSeconds float64   `json:"execution_time_seconds"`
	Columns        []string  `json:"columns"`
	CSVKey         string    `json:"csv_s3_key"`
	CSVURL         string    `json:"csv_s3_url"`
	SQLKey         string    `json:"sql_s3_key"`
	SQLURL         string    `json:"sql_s3_url"`
	Timestamp      time.Time `json:"timestamp"`
}

// Request is one user question submitted to the pipeline.
type Request struct {
	Query     string `json:"query"`
	Recipient string `json:"user_email,omitempty"`
	UseCache  bool   `json:"enable_cache"`
}

// Response is the unit returned to the caller and persisted in the result
// cache. Query is always the normalized form of the input.
type Response struct {
	Success      bool             `json:"success"`
	Query        string           `json:"query"`
	Decision     *Decision        `json:"routing_decision,omitempty"`
	GeneratedSQL string           `json:"generated_sql,omitempty"`
	ResultURL    string           `json:"s3_url,omitempty"`
	Execution    *ExecutionResult `json:"metadata,omitempty"`
	Error        string           `json:"error,omitempty"`
	CacheHit     bool             `json:"cache_hit"`
}

// Fatal reports whether the response represents an unrecoverable pipeline
// failure, as opposed to the negative-but-successful "no database access
// needed" classification. The HTTP layer maps fatal responses to a 500.
func (r *Response) Fatal() bool {
	return !r.Success && (r.Decision == nil || r.Decision.RequiresSQL)
}

// Normalize folds a question to its cache-equivalent form: lowercased,
// trimmed, with internal whitespace runs collapsed to a single space.
func Normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
