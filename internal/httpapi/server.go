// Package httpapi serves recommendations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	logpkg "github.com/cognicore/tagrec/internal/logger"
	"github.com/cognicore/tagrec/pkg/tagrec"
	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

const maxBodyBytes = 1 << 20

// Recommender is the part of *tagrec.Recommender the server uses.
type Recommender interface {
	Explain(ctx context.Context, q corpus.Question) (tagrec.Recommendation, error)
	Err() error
}

// RecommendRequest is the body of POST /v1/recommend.
type RecommendRequest struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server holds the HTTP handlers.
type Server struct {
	rec      Recommender
	gatherer prometheus.Gatherer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewServer creates a server. gatherer backs /metrics; nil uses the
// default registry. A zero timeout leaves requests unbounded.
func NewServer(rec Recommender, gatherer prometheus.Gatherer, timeout time.Duration, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{rec: rec, gatherer: gatherer, timeout: timeout, logger: logger}
}

// Router returns the chi router with all routes and middleware mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))

	r.Post("/v1/recommend", s.Recommend)
	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Recommend handles POST /v1/recommend.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rec, err := s.rec.Explain(ctx, corpus.Question{ID: req.ID, Title: req.Title, Body: req.Body})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	switch {
	case errors.Is(err, internalerr.ErrInvalidInput):
		log.Warn("rejected request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, internalerr.ErrConsistency), errors.Is(err, internalerr.ErrStoreUnavailable):
		log.Error("index unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "index unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "timeout", "recommendation timed out")
	default:
		log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one log line per request and puts a request-scoped
// logger into the context.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
