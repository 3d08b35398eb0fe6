package ingestion

import (
	"fmt"
	"strings"
)

// SchemaError means a source's rows cannot be mapped onto the canonical fill
// schema at all: one of the required time/price/quantity columns is missing.
// It is fatal for that source only; the batch carries on without it.
type SchemaError struct {
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %s: cannot resolve required columns: %s",
		e.Source, strings.Join(e.Missing, ", "))
}

// ParseError means a single field of a single row was unparsable. It is
// recovered in place: the field defaults to zero and processing continues.
// The type exists so warnings and counters can name what went wrong.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
