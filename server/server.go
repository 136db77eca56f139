// Package server exposes the operations HTTP API: health, readiness, status,
// metrics, and the admin endpoints used to register creator channels and to
// trigger refresh and reconcile runs.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeltedButter77/robotnic/telemetry"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the in-memory
// rate limiter's sweeper.
func NewMux(ctx context.Context, opts Options) http.Handler {
	gate := adminGateFromEnv()
	limits := limitConfigFromEnv()

	var limiter RateLimiter
	switch {
	case limits.backend == "redis" && opts.Redis != nil:
		slog.Info("admin rate limiter using redis", slog.String("component", "http"))
		limiter = newRedisLimiter(opts.Redis, opts.RedisPrefix, limits)
	case limits.backend == "redis":
		slog.Warn("redis rate limiter requested without a redis client, falling back to memory", slog.String("component", "http"))
		fallthrough
	default:
		limiter = newMemoryLimiter(ctx, limits)
	}

	h := NewHandlers(opts)
	admin := http.NewServeMux()
	admin.HandleFunc("/admin/creators", h.HandleAdminCreators)
	admin.HandleFunc("/admin/creators/", h.HandleAdminCreators)
	admin.HandleFunc("/admin/refresh", h.HandleAdminRefresh)
	admin.HandleFunc("/admin/reconcile", h.HandleAdminReconcile)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.Handle("/admin/", gate.wrap(limitRequests(admin, limiter, limits.window)))

	return traced(mux)
}

// traced gives every request a correlation id (taken from X-Correlation-ID
// when the caller sent one) and a server span.
func traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", corr)
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request", slog.String("component", "http"), slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rec.statusCode))
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server until ctx is done. It returns once in-flight
// requests have finished or the shutdown timeout expired.
func Start(ctx context.Context, opts Options, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown finish
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	<-drained
	return nil
}
