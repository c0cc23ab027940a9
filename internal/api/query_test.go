package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/querydesk/querydesk/internal/query"
)

type fakeWarehouse struct {
	native any
	err    error
	block  bool
}

func (f *fakeWarehouse) Execute(ctx context.Context, _ string) (any, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.native, f.err
}

type fakeRunner struct {
	args   []string
	result query.CommandResult
	err    error
}

func (f *fakeRunner) Run(_ context.Context, args []string) (query.CommandResult, error) {
	f.args = args
	return f.result, f.err
}

var executionTimePattern = regexp.MustCompile(`^\d+ms$`)

func TestWarehouseQueryReturnsTabularEnvelope(t *testing.T) {
	warehouse := &fakeWarehouse{native: []query.Object{
		{{Key: "id", Value: 1}, {Key: "name", Value: "alpha"}},
		{{Key: "id", Value: 2}},
	}}
	h := newQueryHandler(t, &query.Dispatcher{Warehouse: warehouse})

	rr := postJSON(h, "/v1/warehouse/query", `{"query":"SELECT id, name FROM accounts"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	if body["query"] != "SELECT id, name FROM accounts" {
		t.Fatalf("query = %v", body["query"])
	}
	if _, ok := body["queryType"]; ok {
		t.Fatal("warehouse responses must not carry queryType")
	}
	if !executionTimePattern.MatchString(body["executionTime"].(string)) {
		t.Fatalf("executionTime = %v", body["executionTime"])
	}
	data := body["data"].(map[string]any)
	if data["rowCount"] != float64(2) {
		t.Fatalf("rowCount = %v", data["rowCount"])
	}
	rows := data["rows"].([]any)
	if second := rows[1].([]any); second[1] != "" {
		t.Fatalf("missing key not filled: %#v", second)
	}
}

func TestWarehouseQueryFailures(t *testing.T) {
	tests := []struct {
		name       string
		dispatcher *query.Dispatcher
		body       string
		status     int
		kind       string
		echo       bool
	}{
		{
			name:       "blocked",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{}},
			body:       `{"query":"DELETE FROM accounts WHERE 1=1"}`,
			status:     http.StatusBadRequest,
			kind:       "blocked",
			echo:       true,
		},
		{
			name:       "empty",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{}},
			body:       `{"query":"   "}`,
			status:     http.StatusBadRequest,
			kind:       "invalid_input",
			echo:       true,
		},
		{
			name:       "non string query",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{}},
			body:       `{"query":42}`,
			status:     http.StatusBadRequest,
			kind:       "invalid_input",
		},
		{
			name:       "unknown field",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{}},
			body:       `{"sql":"SELECT 1"}`,
			status:     http.StatusBadRequest,
			kind:       "invalid_input",
		},
		{
			name:       "not configured",
			dispatcher: &query.Dispatcher{},
			body:       `{"query":"SELECT 1"}`,
			status:     http.StatusServiceUnavailable,
			kind:       "backend_connection_failure",
			echo:       true,
		},
		{
			name:       "execution failure",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{err: query.NewError(query.KindBackendExecutionFailure, "table missing")}},
			body:       `{"query":"SELECT * FROM missing"}`,
			status:     http.StatusInternalServerError,
			kind:       "backend_execution_failure",
			echo:       true,
		},
		{
			name:       "timeout",
			dispatcher: &query.Dispatcher{Warehouse: &fakeWarehouse{block: true}, WarehouseTimeout: 20 * time.Millisecond},
			body:       `{"query":"SELECT pg_sleep(10)"}`,
			status:     http.StatusGatewayTimeout,
			kind:       "timeout",
			echo:       true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(newQueryHandler(t, tt.dispatcher), "/v1/warehouse/query", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["success"] != false || body["error"] != tt.kind {
				t.Fatalf("body = %#v", body)
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Fatal("expected message")
			}
			if _, ok := body["query"]; ok != tt.echo {
				t.Fatalf("query echo present = %v", ok)
			}
		})
	}
}

func TestClusterQueryKubectl(t *testing.T) {
	runner := &fakeRunner{result: query.CommandResult{Stdout: "NAME STATUS ROLES\nnode-a Ready control-plane\nnode-b Ready\n"}}
	h := newQueryHandler(t, &query.Dispatcher{Commands: runner})

	rr := postJSON(h, "/v1/cluster/query", `{"query":"get nodes"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["queryType"] != "kubectl" {
		t.Fatalf("queryType = %v", body["queryType"])
	}
	data := body["data"].(map[string]any)
	columns := data["columns"].([]any)
	if len(columns) != 3 || columns[0] != "NAME" {
		t.Fatalf("columns = %v", columns)
	}
	if data["rowCount"] != float64(2) {
		t.Fatalf("rowCount = %v", data["rowCount"])
	}
	if strings.Join(runner.args, " ") != "get nodes" {
		t.Fatalf("args = %v", runner.args)
	}
}

func TestClusterQueryRejectsUnknownQueryType(t *testing.T) {
	h := newQueryHandler(t, &query.Dispatcher{Commands: &fakeRunner{}})

	rr := postJSON(h, "/v1/cluster/query", `{"query":"get pods","queryType":"graphql"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "invalid_input" || body["query"] != "get pods" {
		t.Fatalf("body = %#v", body)
	}
}

func TestClusterQueryCommandNotAllowed(t *testing.T) {
	runner := &fakeRunner{}
	h := newQueryHandler(t, &query.Dispatcher{Commands: runner})

	rr := postJSON(h, "/v1/cluster/query", `{"query":"delete pod api-0","queryType":"kubectl"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "command_not_allowed" {
		t.Fatalf("error = %v", body["error"])
	}
	if runner.args != nil {
		t.Fatalf("runner was invoked with %v", runner.args)
	}
}

func TestClusterResourceQueryWithoutTranslator(t *testing.T) {
	h := newQueryHandler(t, &query.Dispatcher{})

	rr := postJSON(h, "/v1/cluster/query", `{"query":"SELECT * FROM PODS","queryType":"sql"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestQueryWithoutDispatcher(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})
	rr := postJSON(NewHandler(cfg, Dependencies{}), "/v1/warehouse/query", `{"query":"SELECT 1"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[query.Kind]int{
		query.KindInvalidInput:             http.StatusBadRequest,
		query.KindBlocked:                  http.StatusBadRequest,
		query.KindCommandNotAllowed:        http.StatusBadRequest,
		query.KindUnsupportedQuery:         http.StatusBadRequest,
		query.KindBackendConnectionFailure: http.StatusServiceUnavailable,
		query.KindTimeout:                  http.StatusGatewayTimeout,
		query.KindBackendExecutionFailure:  http.StatusInternalServerError,
		query.KindToolSpawnFailure:         http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Fatalf("statusForKind(%q) = %d, want %d", kind, got, want)
		}
	}
}

func newQueryHandler(t *testing.T, dispatcher *query.Dispatcher) http.Handler {
	t.Helper()
	return NewHandler(loadTestConfig(t, map[string]string{}), Dependencies{Dispatcher: dispatcher})
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestClusterQueryRequestLogCarriesTargetAndMode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	runner := &fakeRunner{result: query.CommandResult{Stdout: "NAME READY\napi-0 1/1\n"}}
	h := NewHandler(loadTestConfig(t, map[string]string{}), Dependencies{
		Logger:     logger,
		Dispatcher: &query.Dispatcher{Commands: runner},
	})

	rr := postJSON(h, "/v1/cluster/query", `{"query":"get pods","queryType":"kubectl"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var candidate map[string]any
		if err := json.Unmarshal(line, &candidate); err != nil {
			t.Fatalf("log line is not json: %v (%q)", err, line)
		}
		if candidate["msg"] == "http_request" {
			entry = candidate
		}
	}
	if entry == nil {
		t.Fatalf("no request log line in %q", buf.String())
	}
	if entry["route"] != "/v1/cluster/query" || entry["target"] != "cluster" || entry["mode"] != "kubectl" || entry["outcome"] != "success" {
		t.Fatalf("request log = %#v", entry)
	}
}

func TestQueryMetricsUseRoutePattern(t *testing.T) {
	h := newQueryHandler(t, &query.Dispatcher{Warehouse: &fakeWarehouse{native: query.ExecSummary{RowsAffected: 1}}})

	var before float64
	if families, err := prometheus.DefaultGatherer.Gather(); err == nil {
		before = routeRequestCount(families, "/v1/warehouse/query")
	}
	postJSON(h, "/v1/warehouse/query", `{"query":"DELETE FROM t WHERE id = 1"}`)
	postJSON(h, "/v1/warehouse/query/extra", `{"query":"SELECT 1"}`)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := routeRequestCount(families, "/v1/warehouse/query") - before; got != 1 {
		t.Fatalf("route series delta = %v, want 1", got)
	}
	if got := routeRequestCount(families, "/v1/warehouse/query/extra"); got != 0 {
		t.Fatalf("raw path series exists with %v requests", got)
	}
}

func routeRequestCount(families []*dto.MetricFamily, route string) float64 {
	var total float64
	for _, family := range families {
		if family.GetName() != "querydesk_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" && label.GetValue() == route {
					total += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
