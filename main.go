package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"studentperf/config"
	"studentperf/db"
	shttp "studentperf/http"
	"studentperf/inference"
	"studentperf/logging"
	"studentperf/ml"
	"studentperf/monitoring"
)

func main() {
	// 1. Load config
	configPath := "config.yaml"
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2. Load model; the service does not start without one
	model, err := ml.LoadModel(cfg.Model.Path)
	if err != nil {
		logger.Fatal("failed to load model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	logger.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.Strings("classes", model.Classes()),
		zap.Strings("categories", model.Transform().Categories()),
	)

	// 3. Initialize training log database
	var store shttp.TrainingLogReader
	sqlStore, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Warn("training log disabled", zap.String("path", cfg.Database.Path), zap.Error(err))
	} else {
		defer sqlStore.Close()
		store = sqlStore
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	metrics := monitoring.NewMetrics(nil)
	service, err := inference.NewService(model, inference.Options{
		Normalizer: ml.Normalizer{FoldFeatureCase: cfg.Schema.FoldFeatureCase},
		CacheSize:  cfg.Model.CacheSize,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to create prediction service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Watch the artifact for retrained models
	if cfg.Model.Watch {
		watcher, err := inference.NewWatcher(service, cfg.Model.Path, inference.DefaultDebounce)
		if err != nil {
			logger.Fatal("failed to watch model", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 5. Start HTTP server
	server := shttp.NewServer(shttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxUploadBytes: cfg.Http.MaxUploadBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, shttp.Dependencies{
		Service: service,
		Store:   store,
		Metrics: metrics,
		Logger:  logger,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Handle graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("addr", server.Addr()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exiting")
}
