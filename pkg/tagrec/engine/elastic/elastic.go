package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	elasticsearch7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"go.uber.org/zap"

	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// Config locates the cluster and index. The analysis fields shape the
// index analyzer and only take effect when Open creates the index.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string

	Stopwords []string // nil keeps the built-in English stop set
	Stem      bool
	StripHTML bool
}

// indexSettings builds the index body. Periodic refresh is disabled so
// documents only become searchable when Commit refreshes the index.
func indexSettings(cfg Config) ([]byte, error) {
	stop := map[string]any{"type": "stop", "stopwords": "_english_"}
	if cfg.Stopwords != nil {
		stop["stopwords"] = cfg.Stopwords
	}
	filters := []string{"lowercase", "question_stop"}
	filterDefs := map[string]any{"question_stop": stop}
	if cfg.Stem {
		filters = append(filters, "question_stem")
		filterDefs["question_stem"] = map[string]any{"type": "snowball", "language": "English"}
	}
	analyzer := map[string]any{"type": "custom", "tokenizer": "standard", "filter": filters}
	if cfg.StripHTML {
		analyzer["char_filter"] = []string{"html_strip"}
	}

	text := map[string]any{"type": "text", "analyzer": "question_text", "term_vector": "yes"}
	return json.Marshal(map[string]any{
		"settings": map[string]any{
			"refresh_interval": "-1",
			"analysis": map[string]any{
				"filter":   filterDefs,
				"analyzer": map[string]any{"question_text": analyzer},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":    map[string]any{"type": "keyword"},
				"title": text,
				"body":  text,
				"tags":  map[string]any{"type": "keyword"},
			},
		},
	})
}

// Engine indexes questions in Elasticsearch. Staged documents are held in
// memory and sent as one bulk request on Commit; the index refresh that
// follows is what makes them visible, so a refresh plays the role of a
// commit point. Document ids double as Elasticsearch _ids.
type Engine struct {
	mu     sync.Mutex
	client *elasticsearch7.Client
	index  string
	logger *zap.Logger
	ops    []op
}

var _ engine.Engine = (*Engine)(nil)

// op is one staged mutation: either an add or a delete.
type op struct {
	doc   *engine.Document
	field string
	value string
}

type source struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Tags  string `json:"tags,omitempty"`
}

// Open connects to the cluster and creates the index when missing.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Index == "" || len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses and index are required: %w", internalerr.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := elasticsearch7.NewClient(elasticsearch7.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	e := &Engine{client: client, index: cfg.Index, logger: logger}
	if err := e.ensureIndex(ctx, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensureIndex(ctx context.Context, cfg Config) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return engine.Wrap("open", fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err))
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		e.logger.Info("using existing elasticsearch index; its analyzer was fixed at creation", zap.String("index", e.index))
		return nil
	}

	body, err := indexSettings(cfg)
	if err != nil {
		return engine.Wrap("create index", err)
	}
	res, err = e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return engine.Wrap("create index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return engine.Wrap("create index", responseError(res))
	}
	e.logger.Info("created elasticsearch index", zap.String("index", e.index))
	return nil
}

// AddDocument stages doc until the next Commit.
func (e *Engine) AddDocument(ctx context.Context, doc engine.Document) error {
	if doc.ID == "" {
		return engine.Wrap("add", fmt.Errorf("%w: document id is required", internalerr.ErrInvalidInput))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d := doc
	e.ops = append(e.ops, op{doc: &d})
	return nil
}

// DeleteByField stages a delete-by-query on an exact-match field.
func (e *Engine) DeleteByField(ctx context.Context, field, value string) error {
	if err := engine.CheckDeleteField(field); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op{field: field, value: value})
	return nil
}

// Commit applies staged operations in order and refreshes the index.
// Staged operations are dropped whether or not Commit succeeds; adds are
// idempotent by id, so callers may resubmit. Documents the cluster refuses
// are reported in a *engine.RejectedError after the rest is refreshed.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	ops := e.ops
	e.ops = nil
	e.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	var pending []engine.Document
	var rejected []string
	var reasons []string
	flush := func() error {
		ids, reason, err := e.bulk(ctx, pending)
		pending = nil
		if err != nil {
			return err
		}
		rejected = append(rejected, ids...)
		if reason != "" {
			reasons = append(reasons, reason)
		}
		return nil
	}

	for _, o := range ops {
		if o.doc != nil {
			pending = append(pending, *o.doc)
			continue
		}
		if err := flush(); err != nil {
			return commitError(err)
		}
		if err := e.deleteByQuery(ctx, o.field, o.value); err != nil {
			return commitError(err)
		}
	}
	if err := flush(); err != nil {
		return commitError(err)
	}

	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithContext(ctx),
		e.client.Indices.Refresh.WithIndex(e.index),
	)
	if err != nil {
		return commitError(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return commitError(responseError(res))
	}

	if len(rejected) > 0 {
		e.logger.Warn("cluster rejected documents",
			zap.Int("rejected", len(rejected)),
			zap.Strings("reasons", reasons))
		return &engine.RejectedError{
			IDs: rejected,
			Err: fmt.Errorf("first %s: %w", reasons[0], internalerr.ErrIndexWrite),
		}
	}
	return nil
}

func commitError(err error) error {
	return engine.Wrap("commit", fmt.Errorf("%w: %w", internalerr.ErrCommit, err))
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// bulk indexes docs and returns the ids the cluster refused, with the
// reason given for the first of them.
func (e *Engine) bulk(ctx context.Context, docs []engine.Document) ([]string, string, error) {
	if len(docs) == 0 {
		return nil, "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]map[string]string{"index": {"_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, "", err
		}
		if err := enc.Encode(source{ID: d.ID, Title: d.Title, Body: d.Body, Tags: d.Tags}); err != nil {
			return nil, "", err
		}
	}

	res, err := e.client.Bulk(&buf,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.index),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, "", responseError(res)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, "", fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		e.logger.Debug("bulk indexed", zap.Int("docs", len(docs)))
		return nil, "", nil
	}

	var rejected []string
	var first string
	for _, item := range br.Items {
		for _, r := range item {
			if r.Status >= 300 {
				if first == "" {
					first = fmt.Sprintf("%s: %s", r.ID, r.Error.Reason)
				}
				rejected = append(rejected, r.ID)
			}
		}
	}
	e.logger.Debug("bulk indexed",
		zap.Int("docs", len(docs)),
		zap.Int("rejected", len(rejected)))
	return rejected, first, nil
}

func (e *Engine) deleteByQuery(ctx context.Context, field, value string) error {
	body, err := termQuery(field, value)
	if err != nil {
		return err
	}
	res, err := e.client.DeleteByQuery([]string{e.index}, body,
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

// OpenReader returns a reader over the last refresh.
func (e *Engine) OpenReader(ctx context.Context) (engine.Reader, error) {
	r := &reader{client: e.client, index: e.index}
	n, err := r.count(ctx, map[string]any{"match_all": map[string]any{}})
	if err != nil {
		return nil, engine.Wrap("open reader", err)
	}
	r.numDocs = n
	return r, nil
}

// Close drops staged operations. The client holds no other resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = nil
	return nil
}

type reader struct {
	client  *elasticsearch7.Client
	index   string
	numDocs int64
}

func (r *reader) NumDocs(ctx context.Context) (int64, error) {
	return r.numDocs, nil
}

func (r *reader) FindExactMatch(ctx context.Context, field, value string) (engine.DocRef, error) {
	if err := engine.CheckDeleteField(field); err != nil {
		return "", err
	}
	hits, err := r.search(ctx, map[string]any{
		"size":    1,
		"_source": false,
		"sort":    []any{"_doc"},
		"query":   map[string]any{"term": map[string]any{field: value}},
	})
	if err != nil {
		return "", engine.Wrap("find", err)
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("%s %q: %w", field, value, internalerr.ErrNotFound)
	}
	return hits[0].Ref, nil
}

type termvectorsResponse struct {
	Found       bool `json:"found"`
	TermVectors map[string]struct {
		Terms map[string]struct {
			TermFreq int `json:"term_freq"`
		} `json:"terms"`
	} `json:"term_vectors"`
}

func (r *reader) TermVector(ctx context.Context, ref engine.DocRef, field string) (map[string]int, error) {
	if field != engine.FieldTitle && field != engine.FieldBody {
		return nil, fmt.Errorf("field %q has no term vector: %w", field, internalerr.ErrInvalidInput)
	}
	res, err := r.client.Termvectors(r.index,
		r.client.Termvectors.WithContext(ctx),
		r.client.Termvectors.WithDocumentID(string(ref)),
		r.client.Termvectors.WithFields(field),
		r.client.Termvectors.WithFieldStatistics(false),
		r.client.Termvectors.WithPositions(false),
		r.client.Termvectors.WithOffsets(false),
	)
	if err != nil {
		return nil, engine.Wrap("term vector", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("document %s: %w", ref, internalerr.ErrNotFound)
	}
	if res.IsError() {
		return nil, engine.Wrap("term vector", responseError(res))
	}

	var tr termvectorsResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return nil, engine.Wrap("term vector", err)
	}
	if !tr.Found {
		return nil, fmt.Errorf("document %s: %w", ref, internalerr.ErrNotFound)
	}
	tv := make(map[string]int)
	for term, stats := range tr.TermVectors[field].Terms {
		tv[term] = stats.TermFreq
	}
	return tv, nil
}

func (r *reader) DocFreq(ctx context.Context, field, term string) (int64, error) {
	n, err := r.count(ctx, map[string]any{"term": map[string]any{field: term}})
	if err != nil {
		return 0, engine.Wrap("doc freq", err)
	}
	return n, nil
}

// Search runs the query as a boosted disjunction of term queries and
// returns the cluster's scores.
func (r *reader) Search(ctx context.Context, q engine.Query, topK int) ([]engine.ScoredHit, error) {
	if q.Empty() {
		return nil, nil
	}
	should := make([]any, 0, len(q.Terms))
	for _, wt := range q.Terms {
		should = append(should, map[string]any{
			"term": map[string]any{wt.Field: map[string]any{"value": wt.Term, "boost": wt.Weight}},
		})
	}
	hits, err := r.search(ctx, map[string]any{
		"size":    topK,
		"_source": false,
		"query":   map[string]any{"bool": map[string]any{"should": should}},
	})
	if err != nil {
		return nil, engine.Wrap("search", err)
	}
	engine.SortHits(hits)
	return hits, nil
}

type getResponse struct {
	Found  bool   `json:"found"`
	Source source `json:"_source"`
}

func (r *reader) StoredField(ctx context.Context, ref engine.DocRef, field string) (string, error) {
	res, err := r.client.Get(r.index, string(ref), r.client.Get.WithContext(ctx))
	if err != nil {
		return "", engine.Wrap("stored field", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("document %s: %w", ref, internalerr.ErrNotFound)
	}
	if res.IsError() {
		return "", engine.Wrap("stored field", responseError(res))
	}

	var gr getResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return "", engine.Wrap("stored field", err)
	}
	doc := engine.Document{ID: gr.Source.ID, Title: gr.Source.Title, Body: gr.Source.Body, Tags: gr.Source.Tags}
	v, ok := doc.Field(field)
	if !ok && field != engine.FieldTags {
		return "", fmt.Errorf("unknown field %q: %w", field, internalerr.ErrInvalidInput)
	}
	return v, nil
}

func (r *reader) Close() error { return nil }

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID    string  `json:"_id"`
			Score float64 `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *reader) search(ctx context.Context, query map[string]any) ([]engine.ScoredHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]engine.ScoredHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, engine.ScoredHit{Ref: engine.DocRef(h.ID), Score: h.Score})
	}
	return hits, nil
}

func (r *reader) count(ctx context.Context, query map[string]any) (int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{"query": query}); err != nil {
		return 0, fmt.Errorf("encode query: %w", err)
	}
	res, err := r.client.Count(
		r.client.Count.WithContext(ctx),
		r.client.Count.WithIndex(r.index),
		r.client.Count.WithBody(&buf),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError(res)
	}

	var cr struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return cr.Count, nil
}

func termQuery(field, value string) (io.Reader, error) {
	var buf bytes.Buffer
	err := json.NewEncoder(&buf).Encode(map[string]any{
		"query": map[string]any{"term": map[string]any{field: value}},
	})
	return &buf, err
}

// responseError extracts the error type and reason from a failed response.
func responseError(res *esapi.Response) error {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Error.Type == "" {
		return fmt.Errorf("elasticsearch: %s", res.Status())
	}
	return fmt.Errorf("elasticsearch: [%s] %s: %s", res.Status(), e.Error.Type, e.Error.Reason)
}
