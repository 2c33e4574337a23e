package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cognicore/tagrec/pkg/tagrec"
	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/enginetest"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/memengine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
	"github.com/cognicore/tagrec/pkg/tagrec/metrics"
	"github.com/cognicore/tagrec/pkg/tagrec/mlt"
)

func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	ctx := context.Background()
	eng := memengine.New(nil)
	for _, d := range enginetest.Docs {
		if err := eng.AddDocument(ctx, d); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := eng.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reg := prometheus.NewRegistry()
	rec, err := tagrec.New(tagrec.Options{
		Engine:  eng,
		Query:   mlt.Params{MaxQueryTerms: 25, MinTermFreq: 1, MinDocFreq: 1},
		Metrics: metrics.New(reg),
	})
	if err != nil {
		t.Fatalf("tagrec.New: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	srv := httptest.NewServer(NewServer(rec, reg, 0, nil).Router())
	t.Cleanup(srv.Close)
	return srv, reg
}

func postRecommend(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/recommend", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return resp
}

func TestRecommendEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postRecommend(t, srv.URL, `{"id":7,"title":"Print a Java string","body":"How can java print a string"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var got tagrec.Recommendation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Tags) == 0 || got.Tags[0].Tag != "java" {
		t.Errorf("tags = %+v, want java first", got.Tags)
	}
	if got.Hits == 0 || len(got.Terms) == 0 {
		t.Errorf("hits = %d, terms = %d", got.Hits, len(got.Terms))
	}
}

func TestRecommendEndpointEmptyQuestion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postRecommend(t, srv.URL, `{"title":"","body":""}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"tags":[]`) || !strings.Contains(string(raw), `"hits":0`) {
		t.Errorf("body = %s", raw)
	}
}

func TestRecommendEndpointBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{`{"title":`, `{"question":"x"}`} {
		resp := postRecommend(t, srv.URL, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postRecommend(t, srv.URL, `{"title":"java","body":"print"}`)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `tagrec_recommend_total{status="ok"} 1`) {
		t.Errorf("metrics output missing recommend counter:\n%s", raw)
	}
}

type stubRecommender struct {
	err    error
	broken error
}

func (s stubRecommender) Explain(ctx context.Context, q corpus.Question) (tagrec.Recommendation, error) {
	return tagrec.Recommendation{}, s.err
}

func (s stubRecommender) Err() error { return s.broken }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", internalerr.ErrInvalidInput), http.StatusBadRequest},
		{&internalerr.ConsistencyError{Key: "q-1", Err: errors.New("delete failed")}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewServer(stubRecommender{err: tt.err}, prometheus.NewRegistry(), 0, nil).Router()
		req := httptest.NewRequest(http.MethodPost, "/v1/recommend", strings.NewReader(`{"title":"t","body":"b"}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.want)
		}
		var er ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&er); err != nil || er.Code == "" {
			t.Errorf("%v: bad error body (%v)", tt.err, err)
		}
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(stubRecommender{}, prometheus.NewRegistry(), 0, nil).Router()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("healthy: status = %d", rr.Code)
	}

	h = NewServer(stubRecommender{broken: internalerr.ErrConsistency}, prometheus.NewRegistry(), 0, nil).Router()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("broken: status = %d", rr.Code)
	}
}
