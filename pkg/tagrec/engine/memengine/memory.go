package memengine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cognicore/tagrec/pkg/tagrec/analysis"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// Engine is an in-memory implementation of engine.Engine for tests and
// small corpora. Commit publishes an immutable snapshot; readers keep the
// snapshot they were opened on.
//
// The first mutation after a commit clones the whole index, so every
// add/commit or delete/commit round costs time proportional to the corpus.
// Nothing is persisted; the index lives as long as the Engine.
type Engine struct {
	mu        sync.Mutex
	analyzer  *analysis.Analyzer
	committed *index
	pending   *index // nil when nothing is staged
	closed    bool
}

var _ engine.Engine = (*Engine)(nil)

type fieldTerm struct {
	field string
	term  string
}

type storedDoc struct {
	doc     engine.Document
	vectors map[string]map[string]int // field -> term -> freq
	lengths map[string]int
}

type index struct {
	nextRef  int64
	docs     map[int64]*storedDoc
	postings map[fieldTerm]map[int64]int
}

func newIndex() *index {
	return &index{
		nextRef:  1,
		docs:     make(map[int64]*storedDoc),
		postings: make(map[fieldTerm]map[int64]int),
	}
}

// clone copies everything that staging mutates. Stored documents are never
// modified once created and are shared.
func (ix *index) clone() *index {
	out := &index{
		nextRef:  ix.nextRef,
		docs:     make(map[int64]*storedDoc, len(ix.docs)),
		postings: make(map[fieldTerm]map[int64]int, len(ix.postings)),
	}
	for ref, d := range ix.docs {
		out.docs[ref] = d
	}
	for key, list := range ix.postings {
		cp := make(map[int64]int, len(list))
		for ref, freq := range list {
			cp[ref] = freq
		}
		out.postings[key] = cp
	}
	return out
}

// New creates an empty engine. A nil analyzer uses analysis.New().
func New(an *analysis.Analyzer) *Engine {
	if an == nil {
		an = analysis.New()
	}
	return &Engine{analyzer: an, committed: newIndex()}
}

func (e *Engine) stage() (*index, error) {
	if e.closed {
		return nil, fmt.Errorf("engine closed: %w", internalerr.ErrStoreUnavailable)
	}
	if e.pending == nil {
		e.pending = e.committed.clone()
	}
	return e.pending, nil
}

// AddDocument stages doc for the next commit.
func (e *Engine) AddDocument(ctx context.Context, doc engine.Document) error {
	if doc.ID == "" {
		return engine.Wrap("add", fmt.Errorf("%w: document id is required", internalerr.ErrInvalidInput))
	}

	sd := &storedDoc{
		doc:     doc,
		vectors: make(map[string]map[string]int, len(engine.TextFields)),
		lengths: make(map[string]int, len(engine.TextFields)),
	}
	for _, f := range engine.TextFields {
		text, _ := doc.Field(f)
		sd.vectors[f], sd.lengths[f] = e.analyzer.TermFreqs(text)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.stage()
	if err != nil {
		return engine.Wrap("add", err)
	}
	ref := ix.nextRef
	ix.nextRef++
	ix.docs[ref] = sd
	for field, tv := range sd.vectors {
		for term, freq := range tv {
			key := fieldTerm{field, term}
			list, ok := ix.postings[key]
			if !ok {
				list = make(map[int64]int)
				ix.postings[key] = list
			}
			list[ref] = freq
		}
	}
	return nil
}

// DeleteByField stages removal of all documents whose id or tags equal value.
func (e *Engine) DeleteByField(ctx context.Context, field, value string) error {
	if err := engine.CheckDeleteField(field); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.stage()
	if err != nil {
		return engine.Wrap("delete", err)
	}
	for ref, sd := range ix.docs {
		if v, _ := sd.doc.Field(field); v != value {
			continue
		}
		for f, tv := range sd.vectors {
			for term := range tv {
				key := fieldTerm{f, term}
				delete(ix.postings[key], ref)
				if len(ix.postings[key]) == 0 {
					delete(ix.postings, key)
				}
			}
		}
		delete(ix.docs, ref)
	}
	return nil
}

// Commit publishes staged changes.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.Wrap("commit", fmt.Errorf("%w: %w", internalerr.ErrCommit, internalerr.ErrStoreUnavailable))
	}
	if e.pending != nil {
		e.committed = e.pending
		e.pending = nil
	}
	return nil
}

// OpenReader returns a reader over the current committed snapshot.
func (e *Engine) OpenReader(ctx context.Context) (engine.Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, engine.Wrap("open reader", internalerr.ErrStoreUnavailable)
	}
	return &reader{ix: e.committed}, nil
}

// Close discards staged changes.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.closed = true
	return nil
}

type reader struct {
	ix *index
}

func (r *reader) NumDocs(ctx context.Context) (int64, error) {
	return int64(len(r.ix.docs)), nil
}

func (r *reader) FindExactMatch(ctx context.Context, field, value string) (engine.DocRef, error) {
	if err := engine.CheckDeleteField(field); err != nil {
		return "", err
	}
	found := int64(-1)
	for ref, sd := range r.ix.docs {
		if v, _ := sd.doc.Field(field); v == value && (found < 0 || ref < found) {
			found = ref
		}
	}
	if found < 0 {
		return "", fmt.Errorf("%s %q: %w", field, value, internalerr.ErrNotFound)
	}
	return formatRef(found), nil
}

func (r *reader) doc(ref engine.DocRef) (*storedDoc, error) {
	id, err := strconv.ParseInt(string(ref), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("document ref %q: %w", ref, internalerr.ErrInvalidInput)
	}
	sd, ok := r.ix.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", ref, internalerr.ErrNotFound)
	}
	return sd, nil
}

func (r *reader) TermVector(ctx context.Context, ref engine.DocRef, field string) (map[string]int, error) {
	sd, err := r.doc(ref)
	if err != nil {
		return nil, err
	}
	tv, ok := sd.vectors[field]
	if !ok {
		return nil, fmt.Errorf("field %q has no term vector: %w", field, internalerr.ErrInvalidInput)
	}
	out := make(map[string]int, len(tv))
	for term, freq := range tv {
		out[term] = freq
	}
	return out, nil
}

func (r *reader) DocFreq(ctx context.Context, field, term string) (int64, error) {
	return int64(len(r.ix.postings[fieldTerm{field, term}])), nil
}

func (r *reader) Search(ctx context.Context, q engine.Query, topK int) ([]engine.ScoredHit, error) {
	n := int64(len(r.ix.docs))
	if q.Empty() || n == 0 {
		return nil, nil
	}

	acc := engine.NewAccumulator(len(q.Terms))
	for _, wt := range q.Terms {
		list := r.ix.postings[fieldTerm{wt.Field, wt.Term}]
		if len(list) == 0 {
			continue
		}
		idf := engine.IDF(int64(len(list)), n)

		// Map order is random; sort so accumulation order is stable.
		refs := make([]int64, 0, len(list))
		for ref := range list {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

		for _, ref := range refs {
			fieldLen := r.ix.docs[ref].lengths[wt.Field]
			acc.Add(formatRef(ref), engine.TermScore(wt.Weight, list[ref], idf, fieldLen))
		}
	}
	return acc.TopHits(topK), nil
}

func (r *reader) StoredField(ctx context.Context, ref engine.DocRef, field string) (string, error) {
	sd, err := r.doc(ref)
	if err != nil {
		return "", err
	}
	v, ok := sd.doc.Field(field)
	if !ok && field != engine.FieldTags {
		return "", fmt.Errorf("unknown field %q: %w", field, internalerr.ErrInvalidInput)
	}
	return v, nil
}

func (r *reader) Close() error { return nil }

func formatRef(ref int64) engine.DocRef {
	return engine.DocRef(strconv.FormatInt(ref, 10))
}
