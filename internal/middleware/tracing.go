package middleware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*
LEARNING: TRACING THE HTTP SIDE OF A COLLABORATION SERVER

Most of collabd's work happens on long-lived connections, not requests.
The HTTP surface is small (health, session snapshots, the /ws upgrade),
so its spans are mostly useful as roots for what happens next:

  GET /ws  →  WebSocket.Connect  →  Connection.Join  →  SessionStore.Apply ...

Spans are named after the mux route template, not the raw path, so
/api/rooms/a/docs/b and /api/rooms/c/docs/d group under one name; the
room and document go into attributes instead.

With no exporter configured the global provider is a no-op and every
helper below costs next to nothing.
*/

var tracer = otel.Tracer("collabd")

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the per-request KSUID back to the caller.
const RequestIDHeader = "X-Request-ID"

// TracingMiddleware opens a server span per request, tags it with the
// session the route addresses and logs one line when the request ends.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ksuid.New().String()

		ctx, span := tracer.Start(r.Context(), r.Method+" "+routeName(r),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(requestAttributes(r, requestID)...),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, requestIDKey, requestID)))
		elapsed := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response_time_ms", elapsed.Milliseconds()),
		)
		if rec.status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		if rec.hijacked {
			// The upgraded connection logs its own lifetime.
			log.Printf("[%s] %s %s - upgraded", requestID, r.Method, r.URL.Path)
			return
		}
		log.Printf("[%s] %s %s - %d (%dms)", requestID, r.Method, r.URL.Path, rec.status, elapsed.Milliseconds())
	})
}

// routeName is the matched route template, or the raw path when the
// handler runs outside a mux router.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func requestAttributes(r *http.Request, requestID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("http.url", r.URL.Path),
		attribute.String("http.user_agent", r.UserAgent()),
		attribute.String("request.id", requestID),
	}
	vars := mux.Vars(r)
	if room, ok := vars["room"]; ok {
		attrs = append(attrs, attribute.String("session.room", room))
	}
	if doc, ok := vars["doc"]; ok {
		attrs = append(attrs, attribute.String("session.doc", doc))
	}
	return attrs
}

// ErrorRecoveryMiddleware turns a handler panic into a 500 and records it
// on the request span. A panic after the response was hijacked has no
// writer to report to and is only logged.
func ErrorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}

			stack := debug.Stack()
			span := trace.SpanFromContext(r.Context())
			span.RecordError(fmt.Errorf("panic: %v", v))
			span.SetStatus(codes.Error, "panic recovered")
			span.SetAttributes(attribute.String("error.stacktrace", string(stack)))

			log.Printf("❌ [%s] panic serving %s: %v\n%s", GetRequestID(r.Context()), r.URL.Path, v, stack)

			if rec, ok := w.(*statusRecorder); ok && rec.hijacked {
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware lets browser dashboards read the snapshot endpoints. The
// API is read-only, so only GET and preflight are allowed.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the response status. It must stay hijackable
// or the /ws upgrade fails behind the middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

var errNotHijackable = errors.New("response writer does not support hijacking")

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNotHijackable
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.hijacked = true
	}
	return conn, rw, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// StartSpan starts a child span of whatever span ctx carries; on a live
// connection that is the WebSocket.Connect span or nothing at all.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanError marks the span in ctx failed. A nil err is ignored.
func AddSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// GetRequestID returns the request's KSUID, or "unknown" outside a
// traced request.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}
