package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
)

const defaultProbeTimeout = 10 * time.Second

type probeResponse struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	ExecutionTime string `json:"executionTime,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

func handleProbe(deps Dependencies, target query.Target, probe ProbeFunc, w http.ResponseWriter, r *http.Request) {
	result := runProbe(r.Context(), deps.ProbeTimeout, target, probe)
	observability.AnnotateRequest(r.Context(), slog.String("target", string(target)), slog.Bool("reachable", result.Success))
	if !result.Success {
		writeError(w, statusForKind(query.Kind(result.Error)), query.Kind(result.Error), result.Message, "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleConnectionsTest probes both backends concurrently. One failing probe
// does not cancel the other.
func handleConnectionsTest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var warehouse, cluster probeResponse
	var group errgroup.Group
	group.Go(func() error {
		warehouse = runProbe(r.Context(), deps.ProbeTimeout, query.TargetWarehouse, deps.WarehouseProbe)
		return nil
	})
	group.Go(func() error {
		cluster = runProbe(r.Context(), deps.ProbeTimeout, query.TargetCluster, deps.ClusterProbe)
		return nil
	})
	_ = group.Wait()

	status := http.StatusOK
	if !warehouse.Success || !cluster.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"success": warehouse.Success && cluster.Success,
		"data": map[string]probeResponse{
			string(query.TargetWarehouse): warehouse,
			string(query.TargetCluster):   cluster,
		},
	})
}

func runProbe(ctx context.Context, timeout time.Duration, target query.Target, probe ProbeFunc) probeResponse {
	if probe == nil {
		observability.ObserveProbe(string(target), false)
		return probeResponse{
			Error:   string(query.KindBackendConnectionFailure),
			Message: fmt.Sprintf("%s is not configured", target),
		}
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	data, err := probe(ctx)
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveProbe(string(target), false)
		kind, ok := query.KindOf(err)
		message := err.Error()
		var qe *query.Error
		if errors.As(err, &qe) {
			message = qe.Message
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = query.KindTimeout
			message = fmt.Sprintf("%s probe did not complete within %s", target, timeout)
		case !ok:
			kind = query.KindBackendConnectionFailure
			message = observability.Mask(message)
		}
		return probeResponse{Error: string(kind), Message: message}
	}

	observability.ObserveProbe(string(target), true)
	return probeResponse{Success: true, Data: data, ExecutionTime: formatExecutionTime(elapsed)}
}
