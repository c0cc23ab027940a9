package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querydesk/querydesk/internal/api"
	"github.com/querydesk/querydesk/internal/cluster"
	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/warehouse"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("querydesk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	dispatcher := &query.Dispatcher{
		WarehouseTimeout: cfg.Warehouse.QueryTimeout,
		CommandTimeout:   cfg.Cluster.CommandTimeout,
		ResourceTimeout:  cfg.Cluster.APITimeout,
		Logger:           logger,
	}
	deps := api.Dependencies{
		Logger:            logger,
		Dispatcher:        dispatcher,
		DependencyTimeout: 2 * time.Second,
		ProbeTimeout:      10 * time.Second,
	}
	var readiness []api.ReadinessCheck

	if cfg.Warehouse.Enabled {
		db, err := warehouse.Open(context.Background(), warehouse.DBConfig{
			Driver:          cfg.Warehouse.Driver,
			DSN:             cfg.Warehouse.DSN,
			MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
			MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
			ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open warehouse db", slog.String("driver", cfg.Warehouse.Driver), slog.String("error", observability.Mask(err.Error())))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		wh := warehouse.New(db, cfg.Warehouse.Driver, logger)
		dispatcher.Warehouse = wh
		deps.WarehouseProbe = func(ctx context.Context) (any, error) {
			return wh.Probe(ctx)
		}
		readiness = append(readiness, wh.HealthCheck)
		logger.Info("warehouse connected", slog.String("driver", cfg.Warehouse.Driver))
	}

	if cfg.Cluster.Enabled {
		clusterCfg := cluster.Config{
			Kubeconfig:  cfg.Cluster.Kubeconfig,
			Context:     cfg.Cluster.Context,
			InCluster:   cfg.Cluster.InCluster,
			Namespace:   cfg.Cluster.Namespace,
			KubectlPath: cfg.Cluster.KubectlPath,
		}
		clientset, err := cluster.NewClientset(clusterCfg)
		if err != nil {
			logger.Error("failed to create cluster client", slog.Any("error", err))
			os.Exit(1)
		}
		dispatcher.Commands = cluster.NewExecRunner(clusterCfg)
		dispatcher.Resources = cluster.NewTranslator(clientset, cfg.Cluster.Namespace)
		deps.ClusterProbe = func(ctx context.Context) (any, error) {
			return cluster.Probe(ctx, clientset)
		}
		logger.Info("cluster client configured",
			slog.String("context", cfg.Cluster.Context),
			slog.Bool("in_cluster", cfg.Cluster.InCluster),
			slog.String("namespace", cfg.Cluster.Namespace),
		)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
