// Package main is the entry point for the TopicDeck catalog server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/config"
	"github.com/topicdeck/topicdeck/internal/docstore"
	"github.com/topicdeck/topicdeck/internal/logging"
	"github.com/topicdeck/topicdeck/internal/metrics"
	"github.com/topicdeck/topicdeck/internal/server"
	"github.com/topicdeck/topicdeck/internal/topic"
)

func main() {
	configPath := flag.String("config", "topicdeck.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	store, err := newDocStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize document store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize blob store: %v\n", err)
		os.Exit(1)
	}

	busyCoord := busy.New(
		time.Duration(cfg.Busy.ShowDelayMS)*time.Millisecond,
		busy.WithMinVisible(time.Duration(cfg.Busy.MinVisibleMS)*time.Millisecond),
		busy.WithOnChange(func(visible bool) {
			if visible {
				metrics.BusyVisible.Set(1)
			} else {
				metrics.BusyVisible.Set(0)
			}
		}),
	)

	repo := topic.NewRepository(store, blobs, busyCoord)
	uploads := topic.NewUploadCoordinator(store, blobs, busyCoord)
	ordering := topic.NewOrderingCoordinator(repo)

	srv, err := server.New(cfg,
		server.WithRepository(repo),
		server.WithUploadCoordinator(uploads),
		server.WithOrderingCoordinator(ordering),
		server.WithBusyCoordinator(busyCoord),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("TopicDeck listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// newDocStore initializes the document store engine selected by config.
func newDocStore(cfg *config.Config) (docstore.Store, error) {
	switch cfg.DocStore.Engine {
	case "firestore":
		if cfg.DocStore.Firestore.ProjectID == "" {
			return nil, fmt.Errorf("docstore.firestore.project_id is required when engine is 'firestore'")
		}
		store, err := docstore.NewFirestoreStore(context.Background(), &cfg.DocStore.Firestore, cfg.DocStore.Collection)
		if err != nil {
			return nil, err
		}
		logging.Component("docstore").Info("Document store initialized", "engine", "firestore",
			"project", cfg.DocStore.Firestore.ProjectID, "collection", cfg.DocStore.Collection)
		return store, nil
	case "memory":
		logging.Component("docstore").Info("Document store initialized", "engine", "memory")
		return docstore.NewMemoryStore(), nil
	default:
		// Default to the SQLite engine.
		dbPath := cfg.DocStore.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating docstore directory: %w", err)
		}
		store, err := docstore.NewSQLiteStore(dbPath, time.Duration(cfg.DocStore.SQLite.WatchIntervalMS)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		logging.Component("docstore").Info("Document store initialized", "engine", "sqlite", "path", dbPath)
		return store, nil
	}
}

// newBlobStore initializes the blob store backend selected by config.
func newBlobStore(cfg *config.Config) (blobstore.Store, error) {
	bs := cfg.BlobStore
	switch bs.Backend {
	case "gcs":
		if bs.GCSBucket == "" {
			return nil, fmt.Errorf("blobstore.gcs_bucket is required when backend is 'gcs'")
		}
		return blobstore.NewGCSBackend(context.Background(), bs.GCSBucket, bs.GCSPrefix, bs.PublicBaseURL)
	case "s3":
		if bs.S3Bucket == "" {
			return nil, fmt.Errorf("blobstore.s3_bucket is required when backend is 's3'")
		}
		region := bs.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return blobstore.NewS3Backend(context.Background(), bs.S3Bucket, region, bs.S3Prefix,
			bs.PublicBaseURL, bs.S3AccessKeyID, bs.S3SecretAccessKey)
	case "azure":
		if bs.AzureContainer == "" {
			return nil, fmt.Errorf("blobstore.azure_container is required when backend is 'azure'")
		}
		accountURL := bs.AzureAccountURL
		if accountURL == "" {
			if bs.AzureAccount == "" {
				return nil, fmt.Errorf("blobstore.azure_account or blobstore.azure_account_url is required when backend is 'azure'")
			}
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", bs.AzureAccount)
		}
		return blobstore.NewAzureBackend(context.Background(), bs.AzureContainer, accountURL, bs.AzurePrefix, bs.PublicBaseURL)
	case "memory":
		return blobstore.NewMemory(), nil
	default:
		// Default to the local filesystem backend.
		local, err := blobstore.NewLocalBackend(bs.LocalRootDir, bs.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		// Crash-only recovery: clean orphan temp files from incomplete writes.
		if err := local.CleanTempFiles(); err != nil {
			logging.Component("blobstore").Warn("Failed to clean temp files", "error", err)
		}
		logging.Component("blobstore").Info("Blob store initialized", "backend", "local", "root", bs.LocalRootDir)
		return local, nil
	}
}
