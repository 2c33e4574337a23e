package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// Record field names, in file order.
var recordFields = [...]string{"id", "title", "body", "tags"}

// Stats counts records seen by a Reader.
type Stats struct {
	Records int64 // records started after the header
	Valid   int64
	Dropped int64 // incomplete, empty or bad-id records
	BadID   int64
}

// Reader turns a corpus file into Questions.
type Reader struct {
	br         *bufio.Reader
	fields     *FieldParser
	closer     io.Closer
	logger     *zap.Logger
	headerRead bool
	stats      Stats
}

// NewReader reads a corpus from r. The first line is treated as a header.
func NewReader(r io.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := bufio.NewReaderSize(r, 1<<16)
	return &Reader{
		br:     br,
		fields: NewFieldParser(br),
		logger: logger,
	}
}

// Open opens the corpus file at path. Close releases it.
func Open(path string, logger *zap.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	r := NewReader(f, logger)
	r.closer = f
	return r, nil
}

// Close closes the underlying file when the Reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

func (r *Reader) skipHeader() error {
	r.headerRead = true
	_, err := r.br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	return nil
}

// Parse reads one record. It returns io.EOF when no further record starts,
// and a *internalerr.RecordError when the record is incomplete, has an empty
// field or a non-integer id.
func (r *Reader) Parse() (Question, error) {
	if !r.headerRead {
		if err := r.skipHeader(); err != nil {
			return Question{}, err
		}
	}

	var values [len(recordFields)]string
	var found [len(recordFields)]bool
	for i := range recordFields {
		v, ok, err := r.fields.ParseField()
		if err != nil {
			return Question{}, fmt.Errorf("read field %s: %w", recordFields[i], err)
		}
		values[i], found[i] = v, ok
	}
	if !found[0] {
		return Question{}, io.EOF
	}

	r.stats.Records++
	n := r.stats.Records
	for i, name := range recordFields {
		if !found[i] {
			return Question{}, &internalerr.RecordError{Record: n, Reason: internalerr.ReasonIncomplete, Field: name}
		}
		if values[i] == "" {
			return Question{}, &internalerr.RecordError{Record: n, Reason: internalerr.ReasonEmpty, Field: name}
		}
	}

	id, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil {
		return Question{}, &internalerr.RecordError{Record: n, Reason: internalerr.ReasonBadID, Field: "id", Err: err}
	}

	return Question{ID: id, Title: values[1], Body: values[2], Tags: values[3]}, nil
}

// Next returns the next valid question, skipping and counting dropped
// records. It returns io.EOF at the end of the corpus.
func (r *Reader) Next() (Question, error) {
	for {
		q, err := r.Parse()
		if err == nil {
			r.stats.Valid++
			return q, nil
		}

		var rec *internalerr.RecordError
		if !errors.As(err, &rec) {
			return Question{}, err
		}
		r.stats.Dropped++
		if rec.Reason == internalerr.ReasonBadID {
			r.stats.BadID++
		}
		r.logger.Debug("dropped corpus record",
			zap.Int64("record", rec.Record),
			zap.String("reason", rec.Reason),
			zap.String("field", rec.Field))
	}
}
