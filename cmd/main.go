/*
Package main is the entry point for the geomap server.

It loads configuration, initializes logging and metrics, restores the record store from
its last snapshot, starts the presence hub, the snapshot loop and the retention sweeper,
serves HTTP and WebSocket traffic, and on SIGINT/SIGTERM stops accepting events and
writes a final snapshot before exiting.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geomap/internal/app/db"
	"geomap/internal/app/presence"
	"geomap/internal/app/snapshot"
	"geomap/internal/app/storage"
	"geomap/internal/configs"
	"geomap/internal/handler"
	"geomap/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("snapshot_interval", cfg.SnapshotInterval).
		Dur("retention", cfg.Retention).
		Bool("postgres", cfg.UsesPostgres()).
		Bool("s3", cfg.UsesS3()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Restore the record store
	store := presence.NewStore(nil)

	backend, closeBackend, err := newSnapshotBackend(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize snapshot backend")
	}
	defer closeBackend()

	snapshots := snapshot.NewManager(store, backend, snapshot.NewMetrics(reg))
	if n, err := snapshots.Load(ctx); err != nil {
		logx.Error(err, "Snapshot unreadable, starting with an empty store")
	} else {
		logx.Info("Record store restored.", "records", n)
	}

	storageService, err := storage.NewStorageService(ctx, storage.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3PublicURL:       cfg.S3PublicURL,
		UploadDir:         cfg.UploadDir,
		PublicBaseURL:     cfg.PublicBaseURL,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize storage service")
	}

	// Start the hub and its background loops
	hub := presence.NewHub(store, presence.NewRegistry(), presence.NewMetrics(reg))
	go hub.Run()

	go snapshots.Run(ctx, cfg.SnapshotInterval)
	go presence.NewSweeper(hub, cfg.Retention, cfg.SweepInterval, snapshots).Run(ctx)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Hub:            hub,
		Config:         cfg,
		StorageService: storageService,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info("geomap server starting.", "addr", serverAddr, "storage", storageService.Backend(), "snapshots", backend.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal, then drain in order: HTTP, hub, final snapshot.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Stop()
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logx.Warn("Hub did not stop before the shutdown deadline.")
	}

	if err := snapshots.Flush(shutdownCtx); err != nil {
		logx.Error(err, "Final snapshot failed")
	} else {
		logx.Info("Final snapshot written.", "records", store.Len())
	}

	logx.Info("Server gracefully stopped.")
}

// newSnapshotBackend selects PostgreSQL when DATABASE_URL is set and the snapshot file otherwise.
func newSnapshotBackend(ctx context.Context, cfg *configs.AppConfig) (snapshot.Backend, func(), error) {
	if !cfg.UsesPostgres() {
		return snapshot.NewFileBackend(cfg.SnapshotPath), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return snapshot.NewPostgresBackend(pool), pool.Close, nil
}
