package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
)

// Warehouse executes statements against a pooled *sql.DB, one dedicated
// connection per call.
type Warehouse struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

func New(db *sql.DB, driverName string, logger *slog.Logger) *Warehouse {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Warehouse{db: db, driver: driverName, logger: logger}
}

func (w *Warehouse) HealthCheck(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping warehouse: %s", observability.Mask(err.Error()))
	}
	return nil
}

// WithConn acquires one connection, runs fn on it and releases it on every
// exit path, including a panic in fn.
func (w *Warehouse) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	return w.withConn(ctx, false, fn)
}

// withConn is WithConn with the option to discard the connection instead of
// returning it to the pool, so session state never leaks into another request.
func (w *Warehouse) withConn(ctx context.Context, discard bool, fn func(conn *sql.Conn) error) error {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.logger.WarnContext(ctx, "warehouse connection failed",
			slog.String("driver", w.driver),
			slog.String("error", observability.Mask(err.Error())),
		)
		return query.WrapError(query.KindBackendConnectionFailure, "failed to connect to warehouse", err)
	}
	defer func() {
		if discard {
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			w.logger.WarnContext(ctx, "warehouse connection release failed", slog.Any("error", err))
		}
	}()

	return fn(conn)
}

func (w *Warehouse) Execute(ctx context.Context, statement string) (any, error) {
	var native any
	err := w.withConn(ctx, mutatesSession(statement), func(conn *sql.Conn) error {
		if !returnsRows(statement) {
			result, err := conn.ExecContext(ctx, statement)
			if err != nil {
				return executionError(err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				affected = 0
			}
			native = query.ExecSummary{RowsAffected: affected}
			return nil
		}

		rows, err := conn.QueryContext(ctx, statement)
		if err != nil {
			return executionError(err)
		}
		defer func() { _ = rows.Close() }()

		columns, err := rows.Columns()
		if err != nil {
			return executionError(err)
		}
		if len(columns) == 0 {
			if err := rows.Err(); err != nil {
				return executionError(err)
			}
			native = query.ExecSummary{}
			return nil
		}

		objects, err := scanObjects(rows, uniqueColumnNames(columns))
		if err != nil {
			return executionError(err)
		}
		native = objects
		return nil
	})
	if err != nil {
		return nil, err
	}
	return native, nil
}

func executionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return query.WrapError(query.KindBackendExecutionFailure, observability.Mask(err.Error()), err)
}

// uniqueColumnNames keeps the first occurrence of each driver column name and
// suffixes later duplicates (ID, ID_2, ...), skipping names another column
// already uses.
func uniqueColumnNames(columns []string) []string {
	reserved := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		reserved[column] = struct{}{}
	}
	used := make(map[string]struct{}, len(columns))
	names := make([]string, len(columns))
	for i, column := range columns {
		name := column
		if _, dup := used[name]; dup {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", column, n)
				_, isReserved := reserved[candidate]
				_, isUsed := used[candidate]
				if !isReserved && !isUsed {
					name = candidate
					break
				}
			}
		}
		used[name] = struct{}{}
		names[i] = name
	}
	return names
}

func scanObjects(rows *sql.Rows, columns []string) ([]query.Object, error) {
	objects := make([]query.Object, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		object := make(query.Object, len(columns))
		for i, column := range columns {
			object[i] = query.Field{Key: column, Value: jsonSafe(values[i])}
		}
		objects = append(objects, object)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return objects, nil
}

func jsonSafe(value any) any {
	switch typed := value.(type) {
	case []byte:
		if utf8.Valid(typed) {
			return string(typed)
		}
		return base64.StdEncoding.EncodeToString(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return typed
	}
}

var rowKeywords = map[string]struct{}{
	"select":    {},
	"with":      {},
	"from":      {},
	"show":      {},
	"describe":  {},
	"desc":      {},
	"explain":   {},
	"values":    {},
	"list":      {},
	"ls":        {},
	"call":      {},
	"table":     {},
	"pragma":    {},
	"summarize": {},
}

var returningClause = regexp.MustCompile(`(?i)\breturning\b`)

// returnsRows decides between QueryContext and ExecContext. DML with a
// RETURNING clause produces rows too.
func returnsRows(statement string) bool {
	keyword := leadingKeyword(statement)
	if _, ok := rowKeywords[keyword]; ok {
		return true
	}
	switch keyword {
	case "insert", "update", "delete", "merge":
		return returningClause.MatchString(statement)
	}
	return false
}

// mutatesSession reports statements whose effect outlives the statement on
// the same connection (current database, role, session parameters).
func mutatesSession(statement string) bool {
	switch leadingKeyword(statement) {
	case "use", "set", "unset", "reset":
		return true
	case "alter":
		fields := strings.Fields(strings.ToLower(stripLeadingNoise(statement)))
		return len(fields) > 1 && fields[1] == "session"
	default:
		return false
	}
}

func leadingKeyword(statement string) string {
	fields := strings.Fields(stripLeadingNoise(statement))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(fields[0], ";"))
}

// stripLeadingNoise drops whitespace, "--" and "/* */" comments and opening
// parentheses in front of the first keyword. An unterminated block comment
// leaves nothing.
func stripLeadingNoise(statement string) string {
	rest := statement
	for {
		rest = strings.TrimSpace(rest)
		switch {
		case strings.HasPrefix(rest, "--"):
			newline := strings.IndexByte(rest, '\n')
			if newline < 0 {
				return ""
			}
			rest = rest[newline+1:]
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return ""
			}
			rest = rest[end+4:]
		case strings.HasPrefix(rest, "("):
			rest = rest[1:]
		default:
			return rest
		}
	}
}
