// Package enginetest checks that an engine.Engine behaves like an index.
package enginetest

import (
	"context"
	"errors"
	"testing"

	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// Factory opens a fresh, empty engine for one subtest.
type Factory func(t *testing.T) engine.Engine

// Docs is the fixture corpus used by Run.
var Docs = []engine.Document{
	{ID: "1", Title: "Print a string in Java", Body: "How do I print a string with System.out in Java? java string print", Tags: "java printing"},
	{ID: "2", Title: "Java string split", Body: "Splitting a string on commas in Java java", Tags: "java string"},
	{ID: "3", Title: "Python list comprehension", Body: "How do list comprehensions work in python", Tags: "python list"},
	{ID: "4", Title: "Untagged draft", Body: "java draft"},
}

// Run executes the conformance suite against engines produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("CommitVisibility", func(t *testing.T) { testCommitVisibility(t, open(t)) })
	t.Run("Lookup", func(t *testing.T) { testLookup(t, open(t)) })
	t.Run("Search", func(t *testing.T) { testSearch(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("DeleteRejectsTextField", func(t *testing.T) { testDeleteRejectsTextField(t, open(t)) })
}

func load(t *testing.T, eng engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, d := range Docs {
		if err := eng.AddDocument(ctx, d); err != nil {
			t.Fatalf("AddDocument(%s): %v", d.ID, err)
		}
	}
	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func openReader(t *testing.T, eng engine.Engine) engine.Reader {
	t.Helper()
	r, err := eng.OpenReader(context.Background())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func numDocs(t *testing.T, r engine.Reader) int64 {
	t.Helper()
	n, err := r.NumDocs(context.Background())
	if err != nil {
		t.Fatalf("NumDocs: %v", err)
	}
	return n
}

func testCommitVisibility(t *testing.T, eng engine.Engine) {
	defer eng.Close()
	ctx := context.Background()

	before := openReader(t, eng)
	if err := eng.AddDocument(ctx, Docs[0]); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	pending := openReader(t, eng)
	if n := numDocs(t, pending); n != 0 {
		t.Errorf("uncommitted document visible: NumDocs = %d", n)
	}

	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := numDocs(t, openReader(t, eng)); n != 1 {
		t.Errorf("NumDocs after commit = %d, want 1", n)
	}
	if n := numDocs(t, before); n != 0 {
		t.Errorf("snapshot reader saw a later commit: NumDocs = %d", n)
	}

	// A commit with nothing staged is a no-op.
	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
}

func testLookup(t *testing.T, eng engine.Engine) {
	defer eng.Close()
	ctx := context.Background()
	load(t, eng)
	r := openReader(t, eng)

	if n := numDocs(t, r); n != int64(len(Docs)) {
		t.Fatalf("NumDocs = %d, want %d", n, len(Docs))
	}

	ref, err := r.FindExactMatch(ctx, engine.FieldID, "2")
	if err != nil {
		t.Fatalf("FindExactMatch: %v", err)
	}
	if tags, err := r.StoredField(ctx, ref, engine.FieldTags); err != nil || tags != "java string" {
		t.Errorf("StoredField(tags) = %q, %v", tags, err)
	}
	if title, err := r.StoredField(ctx, ref, engine.FieldTitle); err != nil || title != Docs[1].Title {
		t.Errorf("StoredField(title) = %q, %v", title, err)
	}

	tv, err := r.TermVector(ctx, ref, engine.FieldBody)
	if err != nil {
		t.Fatalf("TermVector: %v", err)
	}
	if tv["java"] != 2 || tv["string"] != 1 || tv["commas"] != 1 {
		t.Errorf("unexpected body term vector %v", tv)
	}
	if _, ok := tv["in"]; ok {
		t.Error("stopword in term vector")
	}

	if _, err := r.FindExactMatch(ctx, engine.FieldID, "99"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// ids are not analyzed, so a partial value does not match
	if _, err := r.FindExactMatch(ctx, engine.FieldTags, "java"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("tags must match whole value, got %v", err)
	}

	untagged, err := r.FindExactMatch(ctx, engine.FieldID, "4")
	if err != nil {
		t.Fatalf("FindExactMatch(4): %v", err)
	}
	if tags, err := r.StoredField(ctx, untagged, engine.FieldTags); err != nil || tags != "" {
		t.Errorf("untagged StoredField = %q, %v", tags, err)
	}

	df, err := r.DocFreq(ctx, engine.FieldTitle, "java")
	if err != nil {
		t.Fatalf("DocFreq: %v", err)
	}
	if df != 2 {
		t.Errorf("DocFreq(title, java) = %d, want 2", df)
	}
	if df, _ := r.DocFreq(ctx, engine.FieldBody, "java"); df != 3 {
		t.Errorf("DocFreq(body, java) = %d, want 3", df)
	}
	if df, _ := r.DocFreq(ctx, engine.FieldBody, "missing"); df != 0 {
		t.Errorf("DocFreq(missing) = %d", df)
	}
}

func testSearch(t *testing.T, eng engine.Engine) {
	defer eng.Close()
	ctx := context.Background()
	load(t, eng)
	r := openReader(t, eng)

	q := engine.Query{Terms: []engine.WeightedTerm{
		{Field: engine.FieldBody, Term: "python", Weight: 1},
		{Field: engine.FieldTitle, Term: "comprehension", Weight: 1},
	}}
	hits, err := r.Search(ctx, q, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %v", hits)
	}
	if tags, _ := r.StoredField(ctx, hits[0].Ref, engine.FieldTags); tags != "python list" {
		t.Errorf("top hit tags = %q", tags)
	}

	q = engine.Query{Terms: []engine.WeightedTerm{
		{Field: engine.FieldBody, Term: "java", Weight: 2},
		{Field: engine.FieldTitle, Term: "print", Weight: 1},
	}}
	hits, err = r.Search(ctx, q, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("topK not applied: %v", hits)
	}
	if id, _ := r.StoredField(ctx, hits[0].Ref, engine.FieldID); id != "1" {
		t.Errorf("expected doc 1 first, got %s (%v)", id, hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not ordered: %v", hits)
	}

	hits, err = r.Search(ctx, engine.Query{}, 10)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty query: %v, %v", hits, err)
	}
}

func testDelete(t *testing.T, eng engine.Engine) {
	defer eng.Close()
	ctx := context.Background()
	load(t, eng)

	if err := eng.DeleteByField(ctx, engine.FieldID, "3"); err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	staged := openReader(t, eng)
	if n := numDocs(t, staged); n != int64(len(Docs)) {
		t.Errorf("staged delete visible: NumDocs = %d", n)
	}

	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	r := openReader(t, eng)
	if n := numDocs(t, r); n != int64(len(Docs)-1) {
		t.Errorf("NumDocs = %d, want %d", n, len(Docs)-1)
	}
	if _, err := r.FindExactMatch(ctx, engine.FieldID, "3"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("deleted doc still found: %v", err)
	}
	if df, _ := r.DocFreq(ctx, engine.FieldBody, "python"); df != 0 {
		t.Errorf("DocFreq after delete = %d", df)
	}

	// Deleting a value nobody has is not an error.
	if err := eng.DeleteByField(ctx, engine.FieldID, "404"); err != nil {
		t.Errorf("DeleteByField(missing): %v", err)
	}

	// Add and delete of the same key inside one commit leaves nothing behind.
	if err := eng.AddDocument(ctx, engine.Document{ID: "tmp", Title: "temporary java", Body: "temporary"}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := eng.DeleteByField(ctx, engine.FieldID, "tmp"); err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	r = openReader(t, eng)
	if n := numDocs(t, r); n != int64(len(Docs)-1) {
		t.Errorf("NumDocs = %d after add+delete", n)
	}
	if df, _ := r.DocFreq(ctx, engine.FieldTitle, "temporary"); df != 0 {
		t.Errorf("DocFreq(temporary) = %d", df)
	}
}

func testDeleteRejectsTextField(t *testing.T, eng engine.Engine) {
	defer eng.Close()
	err := eng.DeleteByField(context.Background(), engine.FieldBody, "java")
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
