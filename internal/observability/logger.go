package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/querydesk/querydesk/internal/config"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	requestScopeKey
)

// maskedAttrKeys carry backend text that may embed a DSN or password.
var maskedAttrKeys = map[string]struct{}{
	"error":   {},
	"message": {},
	"stderr":  {},
}

// NewLogger builds the service logger. Every record is tagged with the service
// name and profile, and string values under error-like keys pass through Mask.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: maskAttr,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func maskAttr(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := maskedAttrKeys[attr.Key]; !ok {
		return attr
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Mask(value.String()))
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.String(attr.Key, Mask(err.Error()))
		}
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}
