// Package mlt builds "more like this" queries for a question.
//
// The question is indexed as a transient document and committed so that its
// terms are analyzed exactly like the corpus and counted in the corpus
// statistics. Its term vectors are turned into a weighted query, and the
// document is deleted and the deletion committed and verified before the
// query is returned.
package mlt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
	"github.com/cognicore/tagrec/pkg/tagrec/metrics"
)

// KeyPrefix marks transient document ids. Corpus ids are integers, so a
// prefixed key can never collide with one.
const KeyPrefix = "q-"

// Params controls term selection.
type Params struct {
	MaxQueryTerms int     // keep at most this many terms
	MinTermFreq   int     // ignore terms occurring fewer times in the question
	MinDocFreq    int64   // ignore terms in fewer corpus documents
	MaxDocFreqPct float64 // ignore terms in more than this percent of documents; 0 disables
	MinWordLen    int     // ignore shorter terms; 0 disables
}

// DefaultParams matches the classic MoreLikeThis defaults.
func DefaultParams() Params {
	return Params{
		MaxQueryTerms: 25,
		MinTermFreq:   2,
		MinDocFreq:    5,
	}
}

// Validate rejects negative or out-of-range values.
func (p Params) Validate() error {
	switch {
	case p.MaxQueryTerms <= 0:
		return fmt.Errorf("max query terms must be positive: %w", internalerr.ErrInvalidConfig)
	case p.MinTermFreq < 0, p.MinDocFreq < 0, p.MinWordLen < 0:
		return fmt.Errorf("term filters must not be negative: %w", internalerr.ErrInvalidConfig)
	case p.MaxDocFreqPct < 0 || p.MaxDocFreqPct > 100:
		return fmt.Errorf("max doc freq percent must be within 0..100: %w", internalerr.ErrInvalidConfig)
	}
	return nil
}

// Term is one selected query term with the statistics behind its weight.
type Term struct {
	Field   string  `json:"field"`
	Term    string  `json:"term"`
	Freq    int     `json:"freq"`
	DocFreq int64   `json:"doc_freq"`
	Weight  float64 `json:"weight"`
}

// Result is a built query.
type Result struct {
	Query engine.Query
	Terms []Term
	Key   string // id the transient document was indexed under
}

// Builder builds queries against one engine. Calls are serialized; the
// engine must not be written by anything else while a Build runs.
type Builder struct {
	mu      sync.Mutex
	eng     engine.Engine
	params  Params
	entropy io.Reader
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a builder.
func New(eng engine.Engine, params Params, logger *zap.Logger, m *metrics.Metrics) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Builder{
		eng:     eng,
		params:  params,
		entropy: ulid.Monotonic(rand.Reader, 0),
		logger:  logger,
		metrics: m,
	}
}

func (b *Builder) newKey() string {
	return KeyPrefix + ulid.MustNew(ulid.Now(), b.entropy).String()
}

// Build returns the similarity query for q. On success the corpus holds
// exactly the documents it held before the call. An error matching
// internalerr.ErrConsistency means the transient document may still be
// indexed.
func (b *Builder) Build(ctx context.Context, q corpus.Question) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.newKey()
	doc := engine.Document{ID: key, Title: q.Title, Body: q.Body}

	if err := b.eng.AddDocument(ctx, doc); err != nil {
		return Result{}, fmt.Errorf("index query document: %w", err)
	}
	if err := b.eng.Commit(ctx); err != nil {
		b.metrics.CommitErrors.WithLabelValues("query").Inc()
		// The commit may have partly applied; take the document out either way.
		if rmErr := b.remove(ctx, key); rmErr != nil {
			return Result{}, rmErr
		}
		return Result{}, fmt.Errorf("commit query document: %w", err)
	}
	b.metrics.TransientDocuments.Inc()

	terms, selErr := b.selectTerms(ctx, key)

	if err := b.remove(ctx, key); err != nil {
		return Result{}, err
	}
	b.metrics.TransientDocuments.Dec()

	if selErr != nil {
		return Result{}, selErr
	}

	b.metrics.QueryTerms.Observe(float64(len(terms)))
	res := Result{Terms: terms, Key: key}
	for _, t := range terms {
		res.Query.Terms = append(res.Query.Terms, engine.WeightedTerm{Field: t.Field, Term: t.Term, Weight: t.Weight})
	}
	return res, nil
}

// remove deletes the transient document, commits and checks that a fresh
// reader no longer finds it. It runs even if ctx was cancelled.
func (b *Builder) remove(ctx context.Context, key string) error {
	ctx = context.WithoutCancel(ctx)

	fail := func(err error) error {
		b.metrics.ConsistencyErrors.Inc()
		b.logger.Error("transient query document not removed", zap.String("key", key), zap.Error(err))
		return &internalerr.ConsistencyError{Key: key, Err: err}
	}

	if err := b.eng.DeleteByField(ctx, engine.FieldID, key); err != nil {
		return fail(err)
	}
	if err := b.eng.Commit(ctx); err != nil {
		b.metrics.CommitErrors.WithLabelValues("query").Inc()
		return fail(err)
	}

	r, err := b.eng.OpenReader(ctx)
	if err != nil {
		return fail(err)
	}
	defer r.Close()

	_, err = r.FindExactMatch(ctx, engine.FieldID, key)
	switch {
	case errors.Is(err, internalerr.ErrNotFound):
		return nil
	case err != nil:
		return fail(err)
	default:
		return fail(errors.New("still present after delete"))
	}
}

// selectTerms reads the transient document's term vectors and ranks its
// terms by tf-idf.
func (b *Builder) selectTerms(ctx context.Context, key string) ([]Term, error) {
	r, err := b.eng.OpenReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ref, err := r.FindExactMatch(ctx, engine.FieldID, key)
	if err != nil {
		return nil, fmt.Errorf("resolve query document: %w", err)
	}
	numDocs, err := r.NumDocs(ctx)
	if err != nil {
		return nil, err
	}

	freqs := make(map[string]int)
	for _, f := range engine.TextFields {
		tv, err := r.TermVector(ctx, ref, f)
		if err != nil {
			return nil, fmt.Errorf("term vector %s: %w", f, err)
		}
		for term, n := range tv {
			freqs[term] += n
		}
	}

	p := b.params
	var terms []Term
	for term, tf := range freqs {
		if p.MinWordLen > 0 && utf8.RuneCountInString(term) < p.MinWordLen {
			continue
		}
		if tf < p.MinTermFreq {
			continue
		}

		// The query clause targets the field where the term is most common.
		var field string
		var df int64
		for _, f := range engine.TextFields {
			n, err := r.DocFreq(ctx, f, term)
			if err != nil {
				return nil, err
			}
			if n > df {
				field, df = f, n
			}
		}
		if df == 0 || df < p.MinDocFreq {
			continue
		}
		if p.MaxDocFreqPct > 0 && float64(df) > p.MaxDocFreqPct/100*float64(numDocs) {
			continue
		}

		terms = append(terms, Term{
			Field:   field,
			Term:    term,
			Freq:    tf,
			DocFreq: df,
			Weight:  float64(tf) * engine.IDF(df, numDocs),
		})
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > p.MaxQueryTerms {
		terms = terms[:p.MaxQueryTerms]
	}
	return terms, nil
}
