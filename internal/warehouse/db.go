package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/snowflakedb/gosnowflake"
)

const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "pgx"
	DriverDuckDB    = "duckdb"
)

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if !IsSupportedDriver(driver) {
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
	// duckdb treats an empty DSN as an in-memory database.
	if cfg.DSN == "" && driver != DriverDuckDB {
		return nil, fmt.Errorf("warehouse dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse db: %w", err)
	}

	return db, nil
}

func IsSupportedDriver(driver string) bool {
	switch driver {
	case DriverSnowflake, DriverPostgres, DriverDuckDB:
		return true
	default:
		return false
	}
}
