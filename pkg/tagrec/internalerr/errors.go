package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Corpus and indexing failures.
	ErrMalformedRecord = errors.New("malformed record")
	ErrIndexWrite      = errors.New("index write rejected")
	ErrCommit          = errors.New("commit failed")

	// ErrConsistency means a transient query document may still be in the
	// index. The corpus can no longer be trusted.
	ErrConsistency = errors.New("index consistency violated")
)

// Record rejection reasons.
const (
	ReasonIncomplete = "incomplete"
	ReasonEmpty      = "empty"
	ReasonBadID      = "bad_id"
)

// RecordError describes a corpus record that was dropped.
type RecordError struct {
	Record int64 // 1-based record number after the header
	Reason string
	Field  string
	Err    error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("record %d: %s", e.Record, e.Reason)
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both ErrMalformedRecord and the cause.
func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedRecord}
	}
	return []error{ErrMalformedRecord, e.Err}
}

// ConsistencyError reports that a transient document could not be removed
// or verified as removed.
type ConsistencyError struct {
	Key string
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("transient document %q: %v: %v", e.Key, ErrConsistency, e.Err)
}

func (e *ConsistencyError) Unwrap() []error {
	return []error{ErrConsistency, e.Err}
}
