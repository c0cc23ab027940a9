package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
)

const maxRequestBodyBytes = 1 << 20

var validate = validator.New()

type warehouseQueryRequest struct {
	Query string `json:"query"`
}

type clusterQueryRequest struct {
	Query     string `json:"query"`
	QueryType string `json:"queryType" validate:"omitempty,oneof=kubectl sql"`
}

type successResponse struct {
	Success       bool           `json:"success"`
	Data          query.Envelope `json:"data"`
	ExecutionTime string         `json:"executionTime"`
	Query         string         `json:"query"`
	QueryType     string         `json:"queryType,omitempty"`
}

func handleWarehouseQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request warehouseQueryRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	executeQuery(deps, w, r, query.Request{
		Target: query.TargetWarehouse,
		Mode:   query.ModeStatement,
		Text:   request.Query,
	})
}

func handleClusterQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request clusterQueryRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	if err := validate.Struct(request); err != nil {
		writeError(w, http.StatusBadRequest, query.KindInvalidInput,
			fmt.Sprintf("queryType must be one of %q or %q", query.ModeKubectl, query.ModeResource),
			query.TruncateQuery(request.Query))
		return
	}
	executeQuery(deps, w, r, query.Request{
		Target: query.TargetCluster,
		Mode:   query.Mode(request.QueryType),
		Text:   request.Query,
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		message := "invalid request body: " + err.Error()
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			message = "request body is required"
		case errors.As(err, &typeErr) && typeErr.Field == "query":
			message = "Query must be a non-empty string"
		}
		writeError(w, http.StatusBadRequest, query.KindInvalidInput, message, "")
		return false
	}
	return true
}

func executeQuery(deps Dependencies, w http.ResponseWriter, r *http.Request, request query.Request) {
	if deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, query.KindBackendConnectionFailure, "query dispatcher is not configured", query.TruncateQuery(request.Text))
		return
	}

	outcome := deps.Dispatcher.Execute(r.Context(), request)
	writeOutcome(w, r, outcome)
}

func writeOutcome(w http.ResponseWriter, r *http.Request, outcome query.Outcome) {
	outcomeLabel := observability.OutcomeSuccess
	if !outcome.Success {
		outcomeLabel = string(query.KindBackendExecutionFailure)
		if outcome.Err != nil {
			outcomeLabel = string(outcome.Err.Kind)
		}
	}
	observability.ObserveQuery(string(outcome.Target), string(outcome.Mode), outcomeLabel, outcome.Elapsed)
	observability.AnnotateRequest(r.Context(),
		slog.String("target", string(outcome.Target)),
		slog.String("mode", string(outcome.Mode)),
		slog.String("outcome", outcomeLabel),
		slog.Int64("execution_ms", outcome.Elapsed.Milliseconds()),
	)

	if !outcome.Success {
		message := "query failed"
		if outcome.Err != nil {
			message = outcome.Err.Message
		}
		kind := query.Kind(outcomeLabel)
		writeError(w, statusForKind(kind), kind, message, outcome.Query)
		return
	}

	response := successResponse{
		Success:       true,
		Data:          outcome.Envelope,
		ExecutionTime: formatExecutionTime(outcome.Elapsed),
		Query:         outcome.Query,
	}
	if outcome.Target == query.TargetCluster {
		response.QueryType = string(outcome.Mode)
	}
	writeJSON(w, http.StatusOK, response)
}

func formatExecutionTime(elapsed time.Duration) string {
	return fmt.Sprintf("%dms", elapsed.Milliseconds())
}
