// Package server exposes engine statuses over a local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/engine"
	logpkg "github.com/tnunamak/usagebar/internal/logger"
	"github.com/tnunamak/usagebar/internal/metrics"
	"github.com/tnunamak/usagebar/internal/usage"
)

const shutdownTimeout = 5 * time.Second

// Engine is the part of *engine.Engine the API needs.
type Engine interface {
	Refresh(ctx context.Context, ids ...usage.Provider)
	Trigger()
	Status(id usage.Provider) (engine.Status, bool)
	Statuses() []engine.Status
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type usageResponse struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Providers   []engine.Status `json:"providers"`
}

type handlers struct {
	eng    Engine
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler builds the router:
//
//	GET  /healthz
//	GET  /v1/usage
//	GET  /v1/usage/{provider}
//	POST /v1/refresh[?provider=id][&wait=true]
//	GET  /metrics
func NewHandler(eng Engine, logger *zap.Logger) http.Handler {
	h := &handlers{eng: eng, logger: logger, now: time.Now}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", h.health)
	r.Get("/v1/usage", h.listUsage)
	r.Get("/v1/usage/{provider}", h.getUsage)
	r.Post("/v1/refresh", h.refresh)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return r
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, usageResponse{GeneratedAt: h.now(), Providers: h.eng.Statuses()})
}

func (h *handlers) getUsage(w http.ResponseWriter, r *http.Request) {
	id := usage.Provider(chi.URLParam(r, "provider"))
	st, ok := h.eng.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_provider", "provider "+string(id)+" is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// refresh queues a refresh of every source, or with wait=true runs one
// (optionally for a single provider) and returns the result.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []usage.Provider
	if p := q.Get("provider"); p != "" {
		id := usage.Provider(p)
		if _, ok := h.eng.Status(id); !ok {
			writeError(w, http.StatusNotFound, "unknown_provider", "provider "+p+" is not enabled")
			return
		}
		ids = append(ids, id)
	}
	if q.Get("wait") != "true" {
		if len(ids) > 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "provider requires wait=true")
			return
		}
		h.eng.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	h.eng.Refresh(r.Context(), ids...)
	logpkg.FromContext(r.Context()).Debug("refresh completed", zap.Any("providers", ids))
	if len(ids) == 1 {
		st, _ := h.eng.Status(ids[0])
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{GeneratedAt: h.now(), Providers: h.eng.Statuses()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// jsonRecoverer returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered", zap.Any("panic", rvr), zap.Stack("stacktrace"))
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one line per request and puts a request-scoped
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

			reqLogger.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
