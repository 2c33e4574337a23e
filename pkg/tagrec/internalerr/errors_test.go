package internalerr

import (
	"errors"
	"strconv"
	"testing"
)

func TestRecordErrorMatchesSentinelAndCause(t *testing.T) {
	_, cause := strconv.ParseInt("abc", 10, 64)
	err := error(&RecordError{Record: 3, Reason: ReasonBadID, Field: "id", Err: cause})

	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}

	var rec *RecordError
	if !errors.As(err, &rec) || rec.Reason != ReasonBadID {
		t.Fatalf("errors.As: got %+v", rec)
	}
}

func TestRecordErrorWithoutCause(t *testing.T) {
	err := &RecordError{Record: 1, Reason: ReasonIncomplete, Field: "tags"}
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatal("expected ErrMalformedRecord")
	}
	if got, want := err.Error(), "record 1: incomplete field tags"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConsistencyError(t *testing.T) {
	err := error(&ConsistencyError{Key: "q-1", Err: ErrCommit})
	if !errors.Is(err, ErrConsistency) {
		t.Error("expected ErrConsistency")
	}
	if !errors.Is(err, ErrCommit) {
		t.Error("expected ErrCommit")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("unexpected ErrNotFound")
	}
}
