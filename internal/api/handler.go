// Package api is the HTTP surface over the query coordinator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"duckbridge/internal/coordinator"
	"duckbridge/internal/domain"
	"duckbridge/internal/middleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// QueryService is the coordinator surface the handlers use.
type QueryService interface {
	Query(ctx context.Context, sql string) (*domain.Result, error)
	RegisterSources(ctx context.Context, sources domain.SourceMap, appendMode bool) error
	ClearVirtualFiles(ctx context.Context, glob string) error
	SetSearchPath(ctx context.Context, schemas []string) error
	Status() coordinator.Status
}

var _ QueryService = (*coordinator.Coordinator)(nil)

// Options configures the router.
type Options struct {
	Logger         *slog.Logger
	Auth           middleware.JWTValidator // nil leaves /v1 open
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
}

// APIHandler implements the HTTP endpoints.
type APIHandler struct {
	svc    QueryService
	logger *slog.Logger
}

// NewHandler creates an APIHandler.
func NewHandler(svc QueryService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{svc: svc, logger: logger.With("component", "api")}
}

// NewRouter builds the chi router with the middleware stack. ctx bounds the
// rate limiter's background eviction.
func NewRouter(ctx context.Context, svc QueryService, opts Options) http.Handler {
	h := NewHandler(svc, opts.Logger)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(ctx, opts.RateLimit))
		}
		if opts.Auth != nil {
			r.Use(middleware.BearerAuth(opts.Auth, h.logger))
		}
		r.Post("/query", h.ExecuteQuery)
		r.Put("/sources", h.RegisterSources)
		r.Delete("/files", h.ClearFiles)
		r.Put("/search-path", h.SetSearchPath)
	})
	return r
}

// Health reports gate states. It answers 503 once the local engine failed
// or was closed.
func (h *APIHandler) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Status()
	code := http.StatusOK
	if st.Local == "rejected" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{
		"code":       code,
		"message":    msg,
		"request_id": middleware.RequestIDFromContext(r.Context()),
	})
}

// writeDomainError logs server-side failures and writes the mapped status.
func (h *APIHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
	}
	writeError(w, r, code, err.Error())
}
