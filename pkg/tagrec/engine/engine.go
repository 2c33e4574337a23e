// Package engine defines the search engine used to index questions and
// retrieve similar ones.
//
// An Engine is the single write handle. Readers are point-in-time
// snapshots: a Reader sees exactly the commits that happened before it was
// opened, so callers reopen after every commit they need to observe.
package engine

import (
	"context"
	"fmt"

	"github.com/cognicore/tagrec/pkg/tagrec/analysis"
	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
)

// Field names.
const (
	FieldID    = "id"
	FieldTitle = "title"
	FieldBody  = "body"
	FieldTags  = "tags"
)

// TextFields are the analyzed fields that carry term vectors.
var TextFields = []string{FieldTitle, FieldBody}

// Document is the indexed form of a question. ID is matched exactly and
// never scored; Title and Body are analyzed; Tags is one opaque term and is
// omitted when empty.
type Document struct {
	ID    string
	Title string
	Body  string
	Tags  string
}

// NewDocument converts a corpus question.
func NewDocument(q corpus.Question) Document {
	return Document{
		ID:    fmt.Sprintf("%d", q.ID),
		Title: q.Title,
		Body:  q.Body,
		Tags:  q.Tags,
	}
}

// Field returns the stored value of a field by name.
func (d Document) Field(name string) (string, bool) {
	switch name {
	case FieldID:
		return d.ID, true
	case FieldTitle:
		return d.Title, true
	case FieldBody:
		return d.Body, true
	case FieldTags:
		return d.Tags, d.Tags != ""
	}
	return "", false
}

// DocRef identifies a document inside one engine. It is only meaningful
// to the Reader that returned it.
type DocRef string

// WeightedTerm is one clause of a similarity query.
type WeightedTerm struct {
	Field  string
	Term   string
	Weight float64
}

// Query is a disjunction of weighted terms.
type Query struct {
	Terms []WeightedTerm
}

// Empty reports whether the query has no clauses.
func (q Query) Empty() bool { return len(q.Terms) == 0 }

// ScoredHit is one search result.
type ScoredHit struct {
	Ref   DocRef
	Score float64
}

// Options configures a backend at open time.
type Options struct {
	Dir             string // storage directory; created if missing
	RAMBufferSizeMB int
	InMemory        bool // map the whole index into memory
	Analyzer        *analysis.Analyzer
}

// Engine is the write side of an index.
type Engine interface {
	// AddDocument stages a document. It is invisible to readers until Commit.
	AddDocument(ctx context.Context, doc Document) error
	// Commit makes all staged additions and deletions durable and visible to
	// readers opened afterwards. A *RejectedError means only the listed
	// documents were left out.
	Commit(ctx context.Context) error
	// DeleteByField stages deletion of every document whose field equals value
	// exactly. Only FieldID and FieldTags can be matched.
	DeleteByField(ctx context.Context, field, value string) error
	// OpenReader opens a snapshot of the last commit.
	OpenReader(ctx context.Context) (Reader, error)
	// Close discards uncommitted work and releases all resources.
	Close() error
}

// Reader is a read-only snapshot of an index.
type Reader interface {
	NumDocs(ctx context.Context) (int64, error)
	// FindExactMatch returns the first document whose field equals value, or
	// an error matching internalerr.ErrNotFound.
	FindExactMatch(ctx context.Context, field, value string) (DocRef, error)
	// TermVector returns term frequencies of one analyzed field of a document.
	TermVector(ctx context.Context, ref DocRef, field string) (map[string]int, error)
	DocFreq(ctx context.Context, field, term string) (int64, error)
	// Search returns at most topK hits with a positive score, best first.
	Search(ctx context.Context, q Query, topK int) ([]ScoredHit, error)
	StoredField(ctx context.Context, ref DocRef, field string) (string, error)
	Close() error
}
