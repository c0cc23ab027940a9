package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTraceMiddlewareKeepsCallerTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "caller-7" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		if scopeFromContext(r.Context()) == nil {
			t.Fatal("expected request scope in context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/warehouse/query", nil)
	req.Header.Set(TraceHeader, "caller-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(TraceHeader); got != "caller-7" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareAssignsTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if len(seen) != 32 || rr.Header().Get(TraceHeader) != seen {
		t.Fatalf("trace id = %q header = %q", seen, rr.Header().Get(TraceHeader))
	}
}

func newRoutedHandler(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		AnnotateRequest(r.Context(), slog.String("target", "cluster"), slog.String("mode", "sql"))
		w.WriteHeader(http.StatusNoContent)
	})
	var h http.Handler = RouteRecorder(mux)
	if logger != nil {
		h = LoggingMiddleware(logger)(h)
	}
	return TraceMiddleware(MetricsMiddleware(h))
}

func TestMetricsMiddlewareLabelsByRoutePattern(t *testing.T) {
	h := newRoutedHandler(nil)
	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/items/{id}", "204")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Fatalf("route counter delta = %v, want 3", got)
	}
}

func TestMetricsMiddlewareCollapsesUnknownPaths(t *testing.T) {
	h := newRoutedHandler(nil)
	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, UnmatchedRoute, "404")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/scan/1", "/scan/2", "/wp-admin"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Fatalf("unmatched counter delta = %v, want 3", got)
	}
}

func TestLoggingMiddlewareWritesRouteAndAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := newRoutedHandler(logger)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":    "http_request",
		"route":  "/v1/items/{id}",
		"path":   "/v1/items/42",
		"target": "cluster",
		"mode":   "sql",
		"status": float64(http.StatusNoContent),
	}
	for key, value := range want {
		if entry[key] != value {
			t.Fatalf("%s = %#v, want %#v (entry %#v)", key, entry[key], value, entry)
		}
	}
	if entry["trace_id"] == "" {
		t.Fatal("expected trace_id")
	}
}

func TestSetRouteWithoutScopeIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	SetRoute(req.Context(), "GET /v1/health")
	AnnotateRequest(req.Context(), slog.String("k", "v"))
	if got := routeLabel(req); got != UnmatchedRoute {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rr.Code)
	}
}
