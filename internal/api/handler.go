package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// ProbeFunc runs one connectivity check and returns a JSON-serializable
// description of the backend.
type ProbeFunc func(ctx context.Context) (any, error)

type Dispatcher interface {
	Execute(ctx context.Context, request query.Request) query.Outcome
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Dispatcher        Dispatcher
	WarehouseProbe    ProbeFunc
	ClusterProbe      ProbeFunc
	ProbeTimeout      time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, query.KindBackendConnectionFailure, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/warehouse/query", func(w http.ResponseWriter, r *http.Request) {
		handleWarehouseQuery(deps, w, r)
	})
	mux.HandleFunc("POST /v1/cluster/query", func(w http.ResponseWriter, r *http.Request) {
		handleClusterQuery(deps, w, r)
	})
	mux.HandleFunc("GET /v1/warehouse/test", func(w http.ResponseWriter, r *http.Request) {
		handleProbe(deps, query.TargetWarehouse, deps.WarehouseProbe, w, r)
	})
	mux.HandleFunc("GET /v1/cluster/test", func(w http.ResponseWriter, r *http.Request) {
		handleProbe(deps, query.TargetCluster, deps.ClusterProbe, w, r)
	})
	mux.HandleFunc("GET /v1/connections/test", func(w http.ResponseWriter, r *http.Request) {
		handleConnectionsTest(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append(middlewares, cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", observability.TraceHeader},
			ExposedHeaders: []string{observability.TraceHeader},
			MaxAge:         300,
		}))
	}
	return chain(observability.RouteRecorder(mux), middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Query   string `json:"query,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind query.Kind, message, echoed string) {
	writeJSON(w, status, failureResponse{
		Success: false,
		Error:   string(kind),
		Message: message,
		Query:   echoed,
	})
}

// statusForKind is the single mapping from failure kind to HTTP status.
func statusForKind(kind query.Kind) int {
	switch kind {
	case query.KindInvalidInput, query.KindBlocked, query.KindCommandNotAllowed, query.KindUnsupportedQuery:
		return http.StatusBadRequest
	case query.KindBackendConnectionFailure:
		return http.StatusServiceUnavailable
	case query.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
