package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/querydesk/querydesk/internal/observability"
)

const (
	MaxEchoedQueryLength = 200

	emptyQueryMessage   = "Query must be a non-empty string"
	blockedQueryMessage = "Query contains potentially dangerous SQL patterns and was blocked"
)

// Dispatcher routes a Request to the warehouse, the cluster CLI or the
// resource translator and normalizes whatever comes back. A nil backend is
// treated as not configured. Zero timeouts mean no per-call deadline.
type Dispatcher struct {
	Warehouse WarehouseExecutor
	Commands  CommandRunner
	Resources ResourceTranslator

	WarehouseTimeout time.Duration
	CommandTimeout   time.Duration
	ResourceTimeout  time.Duration

	Logger *slog.Logger
}

func (d *Dispatcher) Execute(ctx context.Context, request Request) Outcome {
	outcome := Outcome{
		Query:  TruncateQuery(request.Text),
		Target: request.Target,
		Mode:   request.Mode,
	}

	if strings.TrimSpace(request.Text) == "" {
		return d.fail(ctx, outcome, NewError(KindInvalidInput, emptyQueryMessage))
	}

	mode, modeErr := resolveMode(request)
	if modeErr != nil {
		return d.fail(ctx, outcome, modeErr)
	}
	outcome.Mode = mode

	var (
		native  any
		elapsed time.Duration
		err     error
	)
	switch mode {
	case ModeStatement:
		native, elapsed, err = d.executeStatement(ctx, request.Text)
	case ModeKubectl:
		native, elapsed, err = d.executeCommand(ctx, request.Text)
	case ModeResource:
		native, elapsed, err = d.executeResourceQuery(ctx, request.Text)
	}
	if err != nil {
		return d.fail(ctx, outcome, err)
	}

	outcome.Success = true
	outcome.Envelope = Normalize(native)
	outcome.Elapsed = elapsed
	return outcome
}

func resolveMode(request Request) (Mode, *Error) {
	switch request.Target {
	case TargetWarehouse:
		if request.Mode != "" && request.Mode != ModeStatement {
			return "", NewError(KindInvalidInput, fmt.Sprintf("query type %q is not supported for the warehouse", request.Mode))
		}
		return ModeStatement, nil
	case TargetCluster:
		switch request.Mode {
		case "", ModeKubectl:
			return ModeKubectl, nil
		case ModeResource:
			return ModeResource, nil
		default:
			return "", NewError(KindInvalidInput, fmt.Sprintf("query type %q is not supported; use %q or %q", request.Mode, ModeKubectl, ModeResource))
		}
	default:
		return "", NewError(KindInvalidInput, fmt.Sprintf("unknown connection target %q", request.Target))
	}
}

func (d *Dispatcher) executeStatement(ctx context.Context, statement string) (any, time.Duration, error) {
	if IsSuspicious(statement) {
		return nil, 0, NewError(KindBlocked, blockedQueryMessage)
	}
	if d.Warehouse == nil {
		return nil, 0, NewError(KindBackendConnectionFailure, "warehouse is not configured")
	}
	return d.timed(ctx, d.WarehouseTimeout, KindBackendExecutionFailure, func(ctx context.Context) (any, error) {
		return d.Warehouse.Execute(ctx, statement)
	})
}

func (d *Dispatcher) executeCommand(ctx context.Context, text string) (any, time.Duration, error) {
	args := strings.Fields(text)
	if len(args) > 0 && args[0] == "kubectl" {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, 0, NewError(KindInvalidInput, "kubectl command is missing a verb")
	}
	verb := args[0]
	if !IsAllowedVerb(verb) {
		return nil, 0, NewError(KindCommandNotAllowed, fmt.Sprintf("Command %q is not allowed. Allowed commands: %s", verb, strings.Join(AllowedVerbs(), ", ")))
	}
	if d.Commands == nil {
		return nil, 0, NewError(KindBackendConnectionFailure, "cluster command runner is not configured")
	}

	return d.timed(ctx, d.CommandTimeout, KindBackendExecutionFailure, func(ctx context.Context) (any, error) {
		result, err := d.Commands.Run(ctx, args)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, WrapError(KindToolSpawnFailure, "failed to start kubectl: "+observability.Mask(err.Error()), err)
		}
		if result.ExitCode != 0 {
			return nil, NewError(KindBackendExecutionFailure, commandFailureMessage(result))
		}
		return result.Stdout, nil
	})
}

func commandFailureMessage(result CommandResult) string {
	if message := strings.TrimSpace(result.Stderr); message != "" {
		return observability.Mask(message)
	}
	if message := strings.TrimSpace(result.Stdout); message != "" {
		return observability.Mask(message)
	}
	return fmt.Sprintf("kubectl exited with code %d", result.ExitCode)
}

func (d *Dispatcher) executeResourceQuery(ctx context.Context, statement string) (any, time.Duration, error) {
	if d.Resources == nil {
		return nil, 0, NewError(KindBackendConnectionFailure, "cluster API client is not configured")
	}
	return d.timed(ctx, d.ResourceTimeout, KindBackendExecutionFailure, func(ctx context.Context) (any, error) {
		return d.Resources.Translate(ctx, statement)
	})
}

// timed runs call under timeout and measures only the call itself. Errors
// are converted to *Error: deadline expiry becomes KindTimeout, an existing
// *Error keeps its kind, anything else becomes fallback.
func (d *Dispatcher) timed(ctx context.Context, timeout time.Duration, fallback Kind, call func(context.Context) (any, error)) (native any, elapsed time.Duration, err error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if recovered := recover(); recovered != nil {
			native = nil
			err = NewError(fallback, "internal error during query execution")
			d.logger().ErrorContext(ctx, "query backend panicked", slog.Any("panic", recovered))
		}
	}()

	native, err = call(callCtx)
	if err == nil {
		return native, elapsed, nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return nil, elapsed, WrapError(KindTimeout, fmt.Sprintf("query did not complete within %s", timeout), err)
	}
	var qe *Error
	if errors.As(err, &qe) {
		return nil, elapsed, qe
	}
	return nil, elapsed, WrapError(fallback, err.Error(), err)
}

func (d *Dispatcher) fail(ctx context.Context, outcome Outcome, err error) Outcome {
	var qe *Error
	if !errors.As(err, &qe) {
		qe = WrapError(KindBackendExecutionFailure, err.Error(), err)
	}
	outcome.Success = false
	outcome.Err = qe

	attrs := []any{
		slog.String("kind", string(qe.Kind)),
		slog.String("target", string(outcome.Target)),
		slog.String("mode", string(outcome.Mode)),
		slog.String("query", outcome.Query),
	}
	if qe.Err != nil {
		attrs = append(attrs, slog.String("error", observability.Mask(qe.Err.Error())))
	}
	d.logger().WarnContext(ctx, "query failed", attrs...)
	return outcome
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

// TruncateQuery bounds echoed query text to MaxEchoedQueryLength runes.
func TruncateQuery(text string) string {
	if utf8.RuneCountInString(text) <= MaxEchoedQueryLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxEchoedQueryLength])
}
