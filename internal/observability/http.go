package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	TraceHeader = "X-Trace-ID"

	// UnmatchedRoute labels requests no route pattern matched, so unknown
	// paths share one metrics series.
	UnmatchedRoute = "unmatched"
)

// requestScope is shared by every middleware layer of one request. Handlers
// deeper in the chain fill it in and the outer layers read it after the
// response is written.
type requestScope struct {
	mu    sync.Mutex
	route string
	attrs []slog.Attr
}

func scopeFromContext(ctx context.Context) *requestScope {
	scope, _ := ctx.Value(requestScopeKey).(*requestScope)
	return scope
}

// SetRoute records the matched route pattern for the current request. A
// leading method ("POST /v1/warehouse/query") is dropped.
func SetRoute(ctx context.Context, pattern string) {
	scope := scopeFromContext(ctx)
	if scope == nil {
		return
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	scope.mu.Lock()
	scope.route = pattern
	scope.mu.Unlock()
}

// AnnotateRequest adds attributes to the request log line written by
// LoggingMiddleware.
func AnnotateRequest(ctx context.Context, attrs ...slog.Attr) {
	scope := scopeFromContext(ctx)
	if scope == nil {
		return
	}
	scope.mu.Lock()
	scope.attrs = append(scope.attrs, attrs...)
	scope.mu.Unlock()
}

func (s *requestScope) snapshot() (string, []slog.Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route, append([]slog.Attr(nil), s.attrs...)
}

func routeLabel(r *http.Request) string {
	route := ""
	if scope := scopeFromContext(r.Context()); scope != nil {
		route, _ = scope.snapshot()
	}
	if route == "" && r.Pattern != "" {
		route = r.Pattern
		if _, path, ok := strings.Cut(route, " "); ok {
			route = path
		}
	}
	if route == "" {
		return UnmatchedRoute
	}
	return route
}

// TraceMiddleware propagates or assigns X-Trace-ID and opens the request scope
// used by SetRoute and AnnotateRequest.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = newTraceID()
		}
		ctx := ContextWithTraceID(r.Context(), traceID)
		if scopeFromContext(ctx) == nil {
			ctx = context.WithValue(ctx, requestScopeKey, &requestScope{})
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RouteRecorder resolves the pattern mux will dispatch to before serving, so
// the route is known to outer middleware regardless of request copies made in
// between.
func RouteRecorder(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			SetRoute(r.Context(), pattern)
		}
		mux.ServeHTTP(w, r)
	})
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			attrs := []slog.Attr{
				slog.String("trace_id", TraceIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("bytes", recorder.bytes),
			}
			if scope := scopeFromContext(r.Context()); scope != nil {
				_, extra := scope.snapshot()
				attrs = append(attrs, extra...)
			}
			level := slog.LevelInfo
			if recorder.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

// MetricsMiddleware counts requests by route pattern, never by raw path.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(body)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func newTraceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
