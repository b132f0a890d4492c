package sqlgen

import (
	"fmt"
	"strings"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

// forbiddenKeywords are write/DDL keywords that must never appear in a
// generated statement.
var forbiddenKeywords = []string{"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "TRUNCATE"}

// Validate enforces the syntax policy: the statement must begin with SELECT
// (case and leading whitespace tolerant) and must not contain a forbidden
// keyword anywhere in its text.
//
// The keyword check is a raw substring scan over the uppercased statement.
// That over-rejects identifiers that merely contain a keyword (a column named
// created_at contains CREATE). This is deliberate: the scan is the last
// textual line of defense before the read-only session, and rejecting an
// occasional legitimate statement is preferred over under-matching. The
// read-only session in the executor is the second, independent layer.
func Validate(sql string) error {
	upper := strings.ToUpper(strings.TrimSpace(sql))

	if !strings.HasPrefix(upper, "SELECT") {
		return &pipeline.ValidationError{Reason: "statement must start with SELECT"}
	}

	for _, kw := range forbiddenKeywords {
		if strings.Contains(upper, kw) {
			return &pipeline.ValidationError{Reason: fmt.Sprintf("statement contains forbidden keyword %s", kw)}
		}
	}

	return nil
}
