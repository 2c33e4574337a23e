package engine

import (
	"fmt"

	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// OpError wraps a backend failure with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// RejectedError is returned by Commit when the backend refused individual
// documents. Everything else that was staged is committed and visible.
type RejectedError struct {
	IDs []string
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%d documents rejected: %v", len(e.IDs), e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, otherwise an *OpError.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// CheckDeleteField rejects fields that cannot be matched exactly.
func CheckDeleteField(field string) error {
	if field != FieldID && field != FieldTags {
		return fmt.Errorf("field %q is not exact-match: %w", field, internalerr.ErrInvalidInput)
	}
	return nil
}
