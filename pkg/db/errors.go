package db

import "strings"

const pgUniqueViolationText = "duplicate key value"

// IsUniqueViolation reports whether err carries a Postgres unique violation.
// When constraintName is non-empty the check is narrowed to that constraint,
// which lets callers tell replayed order ids apart from other conflicts.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, pgUniqueViolationText)
}
