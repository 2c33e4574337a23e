package mlt

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/memengine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

var fixture = []engine.Document{
	{ID: "1", Title: "java string", Body: "java string concat", Tags: "java string"},
	{ID: "2", Title: "java list", Body: "java arraylist sort", Tags: "java collections"},
	{ID: "3", Title: "python print", Body: "print in python", Tags: "python"},
	{ID: "4", Title: "print java", Body: "system out print", Tags: "java printing"},
}

var question = corpus.Question{Title: "java print", Body: "java java print unique"}

// loosened keeps every term that occurs at least once.
var loosened = Params{MaxQueryTerms: 25, MinTermFreq: 1, MinDocFreq: 1}

func newCorpus(t *testing.T) *memengine.Engine {
	t.Helper()
	ctx := context.Background()
	eng := memengine.New(nil)
	for _, d := range fixture {
		if err := eng.AddDocument(ctx, d); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return eng
}

func countDocs(t *testing.T, eng engine.Engine) int64 {
	t.Helper()
	r, err := eng.OpenReader(context.Background())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	n, _ := r.NumDocs(context.Background())
	return n
}

func TestBuildSelectsWeightedTerms(t *testing.T) {
	eng := newCorpus(t)
	b := New(eng, loosened, nil, nil)

	res, err := b.Build(context.Background(), question)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(res.Key, KeyPrefix) {
		t.Errorf("key %q lacks prefix", res.Key)
	}

	// Four corpus documents plus the transient one.
	const n = 5
	want := []Term{
		{Field: engine.FieldTitle, Term: "java", Freq: 3, DocFreq: 4, Weight: 3 * engine.IDF(4, n)},
		{Field: engine.FieldTitle, Term: "print", Freq: 2, DocFreq: 3, Weight: 2 * engine.IDF(3, n)},
		{Field: engine.FieldBody, Term: "unique", Freq: 1, DocFreq: 1, Weight: 1 * engine.IDF(1, n)},
	}
	if len(res.Terms) != len(want) {
		t.Fatalf("got terms %+v, want %+v", res.Terms, want)
	}
	for i, w := range want {
		got := res.Terms[i]
		if got.Field != w.Field || got.Term != w.Term || got.Freq != w.Freq || got.DocFreq != w.DocFreq {
			t.Errorf("term %d = %+v, want %+v", i, got, w)
		}
		if math.Abs(got.Weight-w.Weight) > 1e-9 {
			t.Errorf("term %d weight = %f, want %f", i, got.Weight, w.Weight)
		}
		qt := res.Query.Terms[i]
		if qt.Term != w.Term || qt.Field != w.Field || qt.Weight != got.Weight {
			t.Errorf("query clause %d = %+v", i, qt)
		}
	}

	if got := countDocs(t, eng); got != int64(len(fixture)) {
		t.Errorf("corpus size after Build = %d, want %d", got, len(fixture))
	}
}

func TestBuildFilters(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   []string
	}{
		{"defaults drop rare terms", DefaultParams(), nil},
		{"max doc freq", Params{MaxQueryTerms: 25, MinTermFreq: 1, MinDocFreq: 1, MaxDocFreqPct: 50}, []string{"unique"}},
		{"min word length", Params{MaxQueryTerms: 25, MinTermFreq: 1, MinDocFreq: 1, MinWordLen: 5}, []string{"print", "unique"}},
		{"min term freq", Params{MaxQueryTerms: 25, MinTermFreq: 2, MinDocFreq: 1}, []string{"java", "print"}},
		{"min doc freq", Params{MaxQueryTerms: 25, MinTermFreq: 1, MinDocFreq: 4}, []string{"java"}},
		{"max query terms", Params{MaxQueryTerms: 1, MinTermFreq: 1, MinDocFreq: 1}, []string{"java"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(newCorpus(t), tt.params, nil, nil)
			res, err := b.Build(context.Background(), question)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			var got []string
			for _, term := range res.Terms {
				got = append(got, term.Term)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("terms = %v, want %v", got, tt.want)
			}
			if res.Query.Empty() != (len(tt.want) == 0) {
				t.Errorf("Empty() = %v", res.Query.Empty())
			}
		})
	}
}

func TestBuildEmptyQuestion(t *testing.T) {
	eng := newCorpus(t)
	b := New(eng, loosened, nil, nil)

	for _, q := range []corpus.Question{{}, {Title: "the of", Body: "and a to"}} {
		res, err := b.Build(context.Background(), q)
		if err != nil {
			t.Fatalf("Build(%+v): %v", q, err)
		}
		if !res.Query.Empty() || len(res.Terms) != 0 {
			t.Errorf("expected empty query, got %+v", res.Terms)
		}
	}
	if got := countDocs(t, eng); got != int64(len(fixture)) {
		t.Errorf("corpus size = %d", got)
	}
}

func TestBuildKeysAreUnique(t *testing.T) {
	b := New(newCorpus(t), loosened, nil, nil)
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		res, err := b.Build(context.Background(), question)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if seen[res.Key] {
			t.Fatalf("duplicate key %s", res.Key)
		}
		seen[res.Key] = true
	}
}

// faultyEngine injects failures into a working engine.
type faultyEngine struct {
	engine.Engine
	failDelete   bool
	failCommitAt int // 1-based commit to fail; 0 never
	ignoreDelete bool
	commits      int
}

var errInjected = errors.New("injected failure")

func (f *faultyEngine) DeleteByField(ctx context.Context, field, value string) error {
	if f.failDelete {
		return errInjected
	}
	if f.ignoreDelete {
		return nil
	}
	return f.Engine.DeleteByField(ctx, field, value)
}

func (f *faultyEngine) Commit(ctx context.Context) error {
	f.commits++
	if f.commits == f.failCommitAt {
		return errInjected
	}
	return f.Engine.Commit(ctx)
}

func TestBuildDeleteFailureIsConsistencyError(t *testing.T) {
	tests := []struct {
		name string
		eng  func(engine.Engine) *faultyEngine
	}{
		{"delete rejected", func(e engine.Engine) *faultyEngine { return &faultyEngine{Engine: e, failDelete: true} }},
		{"delete commit fails", func(e engine.Engine) *faultyEngine { return &faultyEngine{Engine: e, failCommitAt: 2} }},
		{"delete silently ignored", func(e engine.Engine) *faultyEngine { return &faultyEngine{Engine: e, ignoreDelete: true} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := tt.eng(newCorpus(t))
			b := New(eng, loosened, nil, nil)

			_, err := b.Build(context.Background(), question)
			if !errors.Is(err, internalerr.ErrConsistency) {
				t.Fatalf("expected ErrConsistency, got %v", err)
			}
			var ce *internalerr.ConsistencyError
			if !errors.As(err, &ce) || !strings.HasPrefix(ce.Key, KeyPrefix) {
				t.Errorf("expected ConsistencyError with key, got %v", err)
			}
		})
	}
}

func TestBuildInsertCommitFailureCleansUp(t *testing.T) {
	eng := &faultyEngine{Engine: newCorpus(t), failCommitAt: 1}
	b := New(eng, loosened, nil, nil)

	_, err := b.Build(context.Background(), question)
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if errors.Is(err, internalerr.ErrConsistency) {
		t.Errorf("clean removal should not be a consistency error: %v", err)
	}
	if got := countDocs(t, eng); got != int64(len(fixture)) {
		t.Errorf("corpus size = %d, want %d", got, len(fixture))
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("defaults: %v", err)
	}
	bad := []Params{
		{MaxQueryTerms: 0},
		{MaxQueryTerms: 5, MinDocFreq: -1},
		{MaxQueryTerms: 5, MaxDocFreqPct: 101},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, internalerr.ErrInvalidConfig) {
			t.Errorf("%+v: expected ErrInvalidConfig, got %v", p, err)
		}
	}
}
