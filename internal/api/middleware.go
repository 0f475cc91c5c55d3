package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader carries the caller's request id, or the generated one.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader echoes the trace id of the server span.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("kestrel-api")

// requestMeta identifies one request across logs, spans and error bodies.
type requestMeta struct {
	requestID string
	traceID   string
}

type metaKey struct{}

func metaFrom(ctx context.Context) requestMeta {
	m, _ := ctx.Value(metaKey{}).(requestMeta)
	return m
}

// RequestID returns the request id stored by TracingMiddleware.
func RequestID(ctx context.Context) string {
	return metaFrom(ctx).requestID
}

// GetTraceID returns the trace id stored by TracingMiddleware. It falls back
// to the request id when tracing is disabled.
func GetTraceID(ctx context.Context) string {
	return metaFrom(ctx).traceID
}

// routeName prefers the matched chi pattern so ids do not end up in span names.
func routeName(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return r.Method + " " + r.URL.Path
}

// TracingMiddleware starts a server span per request and stores the request
// and trace ids in the context.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := requestMeta{requestID: r.Header.Get(RequestIDHeader)}
		if meta.requestID == "" {
			meta.requestID = uuid.NewString()
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("kestrel.request_id", meta.requestID),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			meta.traceID = sc.TraceID().String()
		} else {
			meta.traceID = meta.requestID
		}

		w.Header().Set(RequestIDHeader, meta.requestID)
		w.Header().Set(TraceIDHeader, meta.traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		req := r.WithContext(context.WithValue(ctx, metaKey{}, meta))
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetName(routeName(req))
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// LoggingMiddleware writes one structured line per request. Requests slower
// than slow are logged at WARN.
func LoggingMiddleware(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			meta := metaFrom(r.Context())

			level := slog.LevelInfo
			msg := "http request"
			if slow > 0 && elapsed > slow {
				level, msg = slog.LevelWarn, "slow request"
			}
			slog.Log(r.Context(), level, msg,
				"route", routeName(r),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", meta.requestID,
				"trace_id", meta.traceID,
			)
		})
	}
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type, Authorization, X-Client-ID, " + RequestIDHeader,
	"Access-Control-Expose-Headers":    RequestIDHeader + ", " + TraceIDHeader + ", X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Max-Age":           "86400",
}

// CORSMiddleware lets browser clients call the API from any origin and
// answers preflight requests directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		for k, v := range corsHeaders {
			h.Set(k, v)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 JSON error.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"error", rec,
				"route", routeName(r),
				"request_id", RequestID(r.Context()),
			)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "INTERNAL"})
		}()
		next.ServeHTTP(w, r)
	})
}
