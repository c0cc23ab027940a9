package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/querydesk/querydesk/internal/config"
)

func TestNewLoggerJSONCarriesServiceAndProfile(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "querydesk-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	NewLogger(cfg, &buf).Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry["service"] != "querydesk-api" || entry["profile"] != "test" {
		t.Fatalf("entry = %#v", entry)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Observability: config.ObservabilityConfig{LogLevel: slog.LevelWarn}}
	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestNewLoggerMasksCredentialsInErrorAttrs(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true}}
	NewLogger(cfg, &buf).Warn("warehouse connection failed",
		slog.Any("error", errors.New("dial postgres://analyst:hunter2@db:5432/wh failed")),
		slog.String("stderr", "password=hunter2"),
		slog.String("query", "SELECT 1"),
	)

	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("credentials leaked: %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"query":"SELECT 1"`) {
		t.Fatalf("unrelated attr changed: %q", buf.String())
	}
}

func TestObserveQueryAcceptsEmptyMode(t *testing.T) {
	ObserveQuery("warehouse", "", "invalid_input", 0)
	ObserveQuery("cluster", "kubectl", "success", 12*time.Millisecond)
	ObserveProbe("cluster", false)
}
