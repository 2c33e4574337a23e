// Package tagrec recommends tags for a question from the tags of the most
// similar questions in an indexed corpus.
package tagrec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/tagrec/pkg/tagrec/config"
	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/elastic"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/sqlite"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
	"github.com/cognicore/tagrec/pkg/tagrec/metrics"
	"github.com/cognicore/tagrec/pkg/tagrec/mlt"
	"github.com/cognicore/tagrec/pkg/tagrec/rank"
)

// Defaults used when Options leaves TopK or ScoreThreshold unset.
const (
	DefaultTopK           = 100
	DefaultScoreThreshold = 0.07
)

// Recommender is the recommendation facade.
type Recommender struct {
	mu        sync.Mutex
	eng       engine.Engine
	builder   *mlt.Builder
	topK      int
	threshold float64
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// broken is set once the corpus may hold a transient document.
	broken error
}

// Options configures a Recommender.
type Options struct {
	Engine         engine.Engine
	Query          mlt.Params
	TopK           int
	ScoreThreshold *float64 // nil uses DefaultScoreThreshold
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Recommendation explains one recommendation.
type Recommendation struct {
	Tags  []rank.TagScore `json:"tags"`
	Terms []mlt.Term      `json:"terms"`
	Hits  int             `json:"hits"`
}

// New creates a Recommender over an already populated engine. The
// recommender owns the engine from then on.
func New(opts Options) (*Recommender, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Query == (mlt.Params{}) {
		opts.Query = mlt.DefaultParams()
	}
	if err := opts.Query.Validate(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	threshold := DefaultScoreThreshold
	if opts.ScoreThreshold != nil {
		threshold = *opts.ScoreThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("score threshold must be within [0, 1]: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	return &Recommender{
		eng:       opts.Engine,
		builder:   mlt.New(opts.Engine, opts.Query, opts.Logger, opts.Metrics),
		topK:      opts.TopK,
		threshold: threshold,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Recommend returns the recommended tags for q, best first. A question
// with no usable terms gets an empty list.
func (r *Recommender) Recommend(ctx context.Context, q corpus.Question) ([]string, error) {
	rec, err := r.Explain(ctx, q)
	if err != nil {
		return nil, err
	}
	return rank.Tags(rec.Tags), nil
}

// Explain is Recommend with the scores, query terms and hit count behind
// the result.
func (r *Recommender) Explain(ctx context.Context, q corpus.Question) (Recommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	rec, err := r.explain(ctx, q)
	r.metrics.RecommendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecommendTotal.WithLabelValues("error").Inc()
		return Recommendation{}, err
	}
	r.metrics.RecommendTotal.WithLabelValues("ok").Inc()

	r.logger.Debug("recommendation",
		zap.Int64("id", q.ID),
		zap.Int("terms", len(rec.Terms)),
		zap.Int("hits", rec.Hits),
		zap.Int("tags", len(rec.Tags)),
		zap.Duration("elapsed", time.Since(start)))
	return rec, nil
}

func (r *Recommender) explain(ctx context.Context, q corpus.Question) (Recommendation, error) {
	if r.broken != nil {
		return Recommendation{}, r.broken
	}

	built, err := r.builder.Build(ctx, q)
	if err != nil {
		if errors.Is(err, internalerr.ErrConsistency) {
			r.broken = err
		}
		return Recommendation{}, err
	}

	rec := Recommendation{Tags: []rank.TagScore{}, Terms: built.Terms}
	if rec.Terms == nil {
		rec.Terms = []mlt.Term{}
	}
	if built.Query.Empty() {
		r.metrics.Hits.Observe(0)
		return rec, nil
	}

	rd, err := r.eng.OpenReader(ctx)
	if err != nil {
		return Recommendation{}, err
	}
	defer rd.Close()

	hits, err := rd.Search(ctx, built.Query, r.topK)
	if err != nil {
		return Recommendation{}, fmt.Errorf("search similar questions: %w", err)
	}
	rec.Hits = len(hits)
	r.metrics.Hits.Observe(float64(len(hits)))

	ranker := rank.New()
	for _, h := range hits {
		tags, err := rd.StoredField(ctx, h.Ref, engine.FieldTags)
		if err != nil {
			return Recommendation{}, fmt.Errorf("read tags: %w", err)
		}
		ranker.AddHit(tags, h.Score)
	}
	rec.Tags = ranker.Select(r.threshold)
	return rec, nil
}

// Err returns the error that disabled the recommender, or nil.
func (r *Recommender) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broken
}

// Close releases the engine.
func (r *Recommender) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eng.Close()
}

// OpenEngine opens the backend selected by cfg.Index.Backend. dir is the
// index directory for the sqlite backend.
func OpenEngine(ctx context.Context, cfg config.Config, dir string, logger *zap.Logger) (engine.Engine, error) {
	an, err := cfg.Analyzer()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		Dir:             dir,
		RAMBufferSizeMB: cfg.Index.RAMBufferSizeMB,
		InMemory:        cfg.Index.InMemory,
		Analyzer:        an,
	}

	var eng engine.Engine
	switch cfg.Index.Backend {
	case config.BackendSQLite:
		e, err := sqlite.OpenSQLite(ctx, opts)
		if err != nil {
			return nil, err
		}
		eng = e
	case config.BackendElasticsearch:
		ecfg := elastic.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
			Index:     cfg.Elasticsearch.Index,
			Stem:      cfg.Analysis.Stem,
			StripHTML: cfg.Analysis.StripHTML,
		}
		if cfg.Analysis.StoplistPath != "" {
			sl, err := config.LoadStoplist(cfg.Analysis.StoplistPath)
			if err != nil {
				return nil, fmt.Errorf("load stoplist: %w", err)
			}
			ecfg.Stopwords = sl.Terms
		}
		e, err := elastic.Open(ctx, ecfg, logger)
		if err != nil {
			return nil, err
		}
		eng = e
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", cfg.Index.Backend, internalerr.ErrInvalidConfig)
	}
	return eng, nil
}
