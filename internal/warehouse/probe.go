package warehouse

import (
	"context"
	"database/sql"
)

type ProbeResult struct {
	Version  string `json:"version"`
	User     string `json:"user"`
	Database string `json:"database"`
}

// duckdb is embedded and has no session user.
var probeStatements = map[string]string{
	DriverSnowflake: `SELECT CURRENT_VERSION(), CURRENT_USER(), CURRENT_DATABASE()`,
	DriverPostgres:  `SELECT version(), current_user, current_database()`,
	DriverDuckDB:    `SELECT version(), NULL, current_database()`,
}

// Probe runs a lightweight identity query on a fresh connection.
func (w *Warehouse) Probe(ctx context.Context) (ProbeResult, error) {
	statement, ok := probeStatements[w.driver]
	if !ok {
		statement = probeStatements[DriverPostgres]
	}

	var result ProbeResult
	err := w.WithConn(ctx, func(conn *sql.Conn) error {
		var version, user, database sql.NullString
		if err := conn.QueryRowContext(ctx, statement).Scan(&version, &user, &database); err != nil {
			return executionError(err)
		}
		result = ProbeResult{Version: version.String, User: user.String, Database: database.String}
		return nil
	})
	if err != nil {
		return ProbeResult{}, err
	}
	return result, nil
}
