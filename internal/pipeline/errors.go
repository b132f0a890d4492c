package pipeline

import "errors"

// ValidationError marks a generated statement that failed syntax policy
// (not SELECT-only, or containing a forbidden keyword). It is retried like
// any other generation failure but is distinguishable from transport errors.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "sql validation failed: " + e.Reason }

// DatabaseError marks a statement the database engine rejected. The
// orchestrator feeds it back into generation for an error-informed retry.
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string { return "database error: " + e.Err.Error() }
func (e *DatabaseError) Unwrap() error { return e.Err }

// InfraError marks a connection failure or timeout. Regenerating SQL will
// not help, so the orchestrator fails immediately.
type InfraError struct {
	Err error
}

func (e *InfraError) Error() string { return "execution error: " + e.Err.Error() }
func (e *InfraError) Unwrap() error { return e.Err }

// IsDatabaseError reports whether err is a database-class execution failure.
func IsDatabaseError(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}
