// Package indexer loads a question corpus into an engine in batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
	"github.com/cognicore/tagrec/pkg/tagrec/metrics"
)

// Source yields valid questions until io.EOF. *corpus.Reader implements it.
type Source interface {
	Next() (corpus.Question, error)
	Stats() corpus.Stats
}

// Config controls batching and commit retries.
type Config struct {
	BatchSize      int
	CorpusSizeHint int64 // stop after this many questions; 0 reads everything
	CommitRetries  int
	CommitBackoff  time.Duration // doubled after every failed attempt
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100000,
		CommitBackoff: 500 * time.Millisecond,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %w", internalerr.ErrInvalidConfig)
	}
	if c.CorpusSizeHint < 0 || c.CommitRetries < 0 || c.CommitBackoff < 0 {
		return fmt.Errorf("corpus size hint, commit retries and backoff must not be negative: %w", internalerr.ErrInvalidConfig)
	}
	return nil
}

// Report summarizes one Run.
type Report struct {
	RunID        string
	Read         int64 // valid questions read
	Indexed      int64
	Duplicates   int64
	Dropped      int64 // malformed records skipped by the reader
	BadID        int64
	Batches      int
	CommitErrors int
	Failed       []corpus.Question // sorted by id
	Elapsed      time.Duration
}

// BatchResult is the outcome of one IndexBatch call.
type BatchResult struct {
	Indexed      int
	Failed       []corpus.Question
	CommitErrors int
	Err          error // last commit error when the batch was not committed
}

// Orchestrator drives a Source into an engine.
type Orchestrator struct {
	eng     engine.Engine
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator. cfg must be valid.
func New(eng engine.Engine, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Orchestrator{eng: eng, cfg: cfg, logger: logger, metrics: m}
}

// Run indexes every question from src. Rejected documents and batches
// whose commit ultimately failed are listed in Report.Failed; they do not
// stop the run. Run only returns an error when src fails or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, src Source) (Report, error) {
	start := time.Now()
	rep := Report{RunID: ulid.Make().String()}
	log := o.logger.With(zap.String("run_id", rep.RunID))
	log.Info("indexing started",
		zap.Int("batch_size", o.cfg.BatchSize),
		zap.Int64("corpus_size_hint", o.cfg.CorpusSizeHint))

	// Ids seen this run. A later record with a known id is skipped.
	seen := make(map[int64]struct{})
	batch := make([]corpus.Question, 0, min(o.cfg.BatchSize, 1<<16))

	finish := func(err error) (Report, error) {
		st := src.Stats()
		rep.Dropped, rep.BadID = st.Dropped, st.BadID
		o.metrics.RecordsDropped.WithLabelValues(internalerr.ReasonBadID).Add(float64(st.BadID))
		o.metrics.RecordsDropped.WithLabelValues("malformed").Add(float64(st.Dropped - st.BadID))
		sort.Slice(rep.Failed, func(i, j int) bool { return rep.Failed[i].ID < rep.Failed[j].ID })
		rep.Elapsed = time.Since(start)

		fields := []zap.Field{
			zap.Int64("read", rep.Read),
			zap.Int64("indexed", rep.Indexed),
			zap.Int("failed", len(rep.Failed)),
			zap.Int64("duplicates", rep.Duplicates),
			zap.Int64("dropped", rep.Dropped),
			zap.Int("commit_errors", rep.CommitErrors),
			zap.Duration("elapsed", rep.Elapsed),
		}
		if err != nil {
			log.Error("indexing stopped", append(fields, zap.Error(err))...)
			return rep, err
		}
		log.Info("indexing finished", fields...)
		return rep, nil
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		rep.Batches++
		batchStart := time.Now()
		res := o.IndexBatch(ctx, batch)
		o.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())

		rep.Indexed += int64(res.Indexed)
		rep.Failed = append(rep.Failed, res.Failed...)
		rep.CommitErrors += res.CommitErrors

		log.Info("batch committed",
			zap.Int("batch", rep.Batches),
			zap.Int("docs", len(batch)),
			zap.Int("indexed", res.Indexed),
			zap.Int("failed", len(res.Failed)),
			zap.Duration("elapsed", time.Since(batchStart)))
		batch = batch[:0]
	}

	for o.cfg.CorpusSizeHint == 0 || rep.Read < o.cfg.CorpusSizeHint {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		q, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return finish(fmt.Errorf("read corpus: %w", err))
		}
		rep.Read++

		if _, dup := seen[q.ID]; dup {
			rep.Duplicates++
			o.metrics.DuplicatesSkipped.Inc()
			log.Debug("duplicate question skipped", zap.Int64("id", q.ID))
			continue
		}
		seen[q.ID] = struct{}{}

		batch = append(batch, q)
		if len(batch) >= o.cfg.BatchSize {
			flush()
		}
	}
	flush()

	return finish(nil)
}

// IndexBatch adds qs and commits them. Questions the engine rejects, when
// staged or at commit, are returned as failed and the rest of the batch
// continues. A failed commit is retried with the batch re-staged; once
// retries are exhausted the whole batch is reported as failed.
func (o *Orchestrator) IndexBatch(ctx context.Context, qs []corpus.Question) BatchResult {
	var res BatchResult
	pending := qs

	for attempt := 0; ; attempt++ {
		added, rejected := o.stage(ctx, pending)
		res.Failed = append(res.Failed, rejected...)

		err := o.eng.Commit(ctx)
		var rej *engine.RejectedError
		if errors.As(err, &rej) {
			var refused []corpus.Question
			added, refused = splitRejected(added, rej.IDs)
			o.logger.Warn("documents rejected at commit",
				zap.Int("rejected", len(refused)),
				zap.Error(err))
			res.Failed = append(res.Failed, refused...)
			err = nil
		}
		if err == nil {
			res.Indexed = len(added)
			o.metrics.DocumentsIndexed.Add(float64(len(added)))
			o.metrics.DocumentsFailed.Add(float64(len(res.Failed)))
			return res
		}

		res.CommitErrors++
		o.metrics.CommitErrors.WithLabelValues("index").Inc()
		o.logger.Error("commit failed",
			zap.Int("attempt", attempt+1),
			zap.Int("docs", len(added)),
			zap.Error(err))

		if attempt >= o.cfg.CommitRetries || !o.backoff(ctx, attempt) {
			res.Failed = append(res.Failed, added...)
			res.Err = err
			o.metrics.DocumentsFailed.Add(float64(len(res.Failed)))
			return res
		}
		pending = added
	}
}

func (o *Orchestrator) stage(ctx context.Context, qs []corpus.Question) (added, rejected []corpus.Question) {
	added = make([]corpus.Question, 0, len(qs))
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			o.logger.Warn("question rejected", zap.Int64("id", q.ID), zap.Error(err))
			rejected = append(rejected, q)
			continue
		}
		if err := o.eng.AddDocument(ctx, engine.NewDocument(q)); err != nil {
			o.logger.Warn("document rejected", zap.Int64("id", q.ID), zap.Error(err))
			rejected = append(rejected, q)
			continue
		}
		added = append(added, q)
	}
	return added, rejected
}

// splitRejected separates the questions whose document ids are in ids.
func splitRejected(qs []corpus.Question, ids []string) (kept, rejected []corpus.Question) {
	refused := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		refused[id] = struct{}{}
	}
	kept = make([]corpus.Question, 0, len(qs))
	for _, q := range qs {
		if _, ok := refused[engine.NewDocument(q).ID]; ok {
			rejected = append(rejected, q)
			continue
		}
		kept = append(kept, q)
	}
	return kept, rejected
}

// backoff waits before retry attempt+1. It reports false if ctx ended first.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) bool {
	d := o.cfg.CommitBackoff << attempt
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
