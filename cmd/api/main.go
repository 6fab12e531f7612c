//	@title			Image Compression API
//	@version		1.0
//	@description	Accepts image uploads, shrinks them to at most 800px wide and stores them in public object storage.
//
//	@host		localhost:8080
//	@BasePath	/

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/imgpress/service/internal/compress"
	"github.com/imgpress/service/internal/config"
	"github.com/imgpress/service/internal/logging"
	"github.com/imgpress/service/internal/metrics"
	appMiddleware "github.com/imgpress/service/internal/middleware"
	"github.com/imgpress/service/internal/objectkey"
	"github.com/imgpress/service/internal/response"
	"github.com/imgpress/service/internal/storage"
	"github.com/imgpress/service/internal/transcode"

	_ "github.com/imgpress/service/docs/swagger"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	backend, closeBackend, err := openBackend(initCtx, cfg, logger)
	cancelInit()
	if err != nil {
		logger.Error("object storage init failed", "backend", cfg.StorageBackend, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("closing object storage", "err", err)
		}
	}()

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("metrics registration failed", "err", err)
		os.Exit(1)
	}

	// Wire dependencies: transcoder + key generator + uploader → service → handler
	pool := transcode.NewPool(cfg.TranscodeWorkers)
	uploader := storage.NewUploader(backend)
	svc := compress.NewService(pool, objectkey.NewGenerator(), uploader, logger, m)
	compressHandler := compress.NewHandler(svc, cfg.MaxUploadBytes, logger)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(appMiddleware.Recover(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		response.Text(w, http.StatusOK, "Image processor is running")
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Post("/compress", compressHandler.Compress)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"port", cfg.Port,
			"env", cfg.AppEnv,
			"backend", cfg.StorageBackend,
			"bucket", uploader.Bucket(),
			"transcode_workers", pool.Workers(),
		)
		if !cfg.IsProduction() {
			logger.Info("swagger UI available", "url", "http://localhost:"+cfg.Port+"/swagger/")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	case err := <-serveErr:
		logger.Error("server error", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "err", err)
		return
	}

	logger.Info("server stopped")
}

// openBackend builds the configured storage backend. The returned close
// function is always non-nil.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StorageBackend {
	case config.BackendGCS:
		s, err := storage.NewGCSStorage(ctx, storage.GCSOptions{
			Bucket:          cfg.StorageBucket,
			CredentialsFile: cfg.GCSCredentials,
			PublicBase:      cfg.StoragePublicBase,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.BackendS3:
		s, err := storage.NewS3Storage(ctx, storage.S3Options{
			Region:     cfg.StorageRegion,
			Bucket:     cfg.StorageBucket,
			Endpoint:   cfg.StorageEndpoint,
			PublicBase: cfg.StoragePublicBase,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.BackendMinio:
		s, err := storage.NewMinioStorage(ctx, storage.MinioOptions{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			UseSSL:     cfg.StorageUseSSL,
			PublicBase: cfg.StoragePublicBase,
			Logger:     logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
