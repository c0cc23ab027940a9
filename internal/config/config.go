package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Warehouse     WarehouseConfig
	Cluster       ClusterConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WarehouseConfig struct {
	Enabled         bool
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type ClusterConfig struct {
	Enabled        bool
	Kubeconfig     string
	Context        string
	InCluster      bool
	Namespace      string
	KubectlPath    string
	CommandTimeout time.Duration
	APITimeout     time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYDESK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYDESK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "QUERYDESK_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYDESK_WAREHOUSE_ENABLED", &cfg.Warehouse.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_WAREHOUSE_DRIVER", &cfg.Warehouse.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_WAREHOUSE_DSN", &cfg.Warehouse.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYDESK_WAREHOUSE_MAX_OPEN_CONNS", &cfg.Warehouse.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYDESK_WAREHOUSE_MAX_IDLE_CONNS", &cfg.Warehouse.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_WAREHOUSE_CONN_MAX_IDLE_TIME", &cfg.Warehouse.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_WAREHOUSE_CONN_MAX_LIFETIME", &cfg.Warehouse.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_WAREHOUSE_QUERY_TIMEOUT", &cfg.Warehouse.QueryTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYDESK_CLUSTER_ENABLED", &cfg.Cluster.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_CLUSTER_KUBECONFIG", &cfg.Cluster.Kubeconfig); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_CLUSTER_CONTEXT", &cfg.Cluster.Context); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYDESK_CLUSTER_IN_CLUSTER", &cfg.Cluster.InCluster); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_CLUSTER_NAMESPACE", &cfg.Cluster.Namespace); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYDESK_CLUSTER_KUBECTL_PATH", &cfg.Cluster.KubectlPath); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_CLUSTER_COMMAND_TIMEOUT", &cfg.Cluster.CommandTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYDESK_CLUSTER_API_TIMEOUT", &cfg.Cluster.APITimeout); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "QUERYDESK_CORS_ALLOWED_ORIGINS", &cfg.CORS.AllowedOrigins); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYDESK_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYDESK_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	cfg.Warehouse.Driver = strings.ToLower(cfg.Warehouse.Driver)
	if err := cfg.Warehouse.validate(); err != nil {
		return Config{}, err
	}
	if cfg.Cluster.Enabled && cfg.Cluster.KubectlPath == "" {
		return Config{}, fmt.Errorf("QUERYDESK_CLUSTER_KUBECTL_PATH is required when the cluster is enabled")
	}
	return cfg, nil
}

func (w WarehouseConfig) validate() error {
	if !w.Enabled {
		return nil
	}
	switch w.Driver {
	case "snowflake", "pgx":
		if w.DSN == "" {
			return fmt.Errorf("QUERYDESK_WAREHOUSE_DSN is required for driver %q", w.Driver)
		}
	case "duckdb":
	default:
		return fmt.Errorf("invalid QUERYDESK_WAREHOUSE_DRIVER: %q", w.Driver)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querydesk-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Enabled:         true,
			Driver:          "duckdb",
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    60 * time.Second,
		},
		Cluster: ClusterConfig{
			Enabled:        false,
			KubectlPath:    "kubectl",
			CommandTimeout: 30 * time.Second,
			APITimeout:     15 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Warehouse.QueryTimeout = 10 * time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Warehouse.Driver = "snowflake"
		cfg.Cluster.Enabled = true
		cfg.CORS.AllowedOrigins = nil
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyStringList reads a comma separated list. An empty value clears dst.
func applyStringList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if value < 0 {
		return fmt.Errorf("invalid %s: must not be negative", key)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
