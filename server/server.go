// Package server exposes the admin HTTP API: health, metrics, channel resolution,
// per-tenant subscription management, who's-live, test notifications and manual polls.
// Requests carry a correlation id and a tracing span.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/kv"
	"github.com/onnwee/live-notifier/poller"
	"github.com/onnwee/live-notifier/resolver"
	"github.com/onnwee/live-notifier/telemetry"
)

// Exclusive serializes work per tenant with the scheduled poll loop.
type Exclusive interface {
	Exclusive(id string, fn func())
}

// ReadyCheck is an extra readiness probe run by /readyz after the store ping.
type ReadyCheck struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Admin holds the credentials guarding the tenant and resolve routes. All empty
// leaves them open.
type Admin struct {
	Token    string
	Username string
	Password string
}

// Deps are the components the handlers drive.
type Deps struct {
	Store    kv.Store
	Catalog  *catalog.Store
	Resolver *resolver.Resolver
	Engine   *poller.Engine
	Polls    Exclusive
	Admin    Admin
	Limits   RateLimit
	CORS     CORS
	Ready    []ReadyCheck
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate limiter's
// sweep goroutine.
func NewMux(ctx context.Context, d Deps) http.Handler {
	limiter := newTenantLimiter(ctx, d.Limits)
	h := &Handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withCorrelation)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(adminAuth(d.Admin))
		r.Get("/resolve", h.HandleResolve)
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/subscriptions", h.HandleListSubscriptions)
			r.Get("/live", h.HandleWhoIsLive)
			r.Get("/state", h.HandleState)
			r.Group(func(r chi.Router) {
				r.Use(limiter.middleware)
				r.Post("/subscriptions", h.HandleSubscribe)
				r.Delete("/subscriptions/{index}", h.HandleUnsubscribe)
				r.Post("/test", h.HandleTriggerTest)
				r.Post("/poll", h.HandlePoll)
			})
		})
	})

	return withCORS(r, d.CORS)
}

// withCorrelation reuses or assigns X-Correlation-ID, opens a span for the request
// and records the response status once the route is known.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		}
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		telemetry.RecordHTTPRequest(r.Method, rec.statusCode)
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

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, d Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual polls probe every subscription before answering.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
