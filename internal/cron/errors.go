package cron

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrJobNotFound is returned for operations on an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports a job field that is missing, malformed or out of range.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid job %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid job %s %v: %s", e.Field, e.Value, e.Reason)
}

// ImmutableFieldError reports an attempt to change a field fixed at creation.
type ImmutableFieldError struct {
	JobID string
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("job %s: field %s cannot be changed after creation", e.JobID, e.Field)
}

// TerminalStateError reports an operation on a job that already executed.
type TerminalStateError struct {
	JobID string
	Op    string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s an executed oneshot job", e.JobID, e.Op)
}

func validationError(field string, value any, reason, hint string) error {
	err := error(&ValidationError{Field: field, Value: value, Reason: reason})
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

func notFound(id string) error {
	return errors.Wrapf(ErrJobNotFound, "job %s", id)
}
