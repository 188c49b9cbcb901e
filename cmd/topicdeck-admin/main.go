// Package main is the entry point for topicdeck-admin, the catalog
// maintenance tool. It talks to the configured document store directly,
// without going through the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/config"
	"github.com/topicdeck/topicdeck/internal/docstore"
	"github.com/topicdeck/topicdeck/internal/logging"
	"github.com/topicdeck/topicdeck/internal/topic"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: topicdeck-admin <list|create|remove|export> [flags]")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "list":
		os.Exit(runList(os.Args[2:]))
	case "create":
		os.Exit(runCreate(os.Args[2:]))
	case "remove":
		os.Exit(runRemove(os.Args[2:]))
	case "export":
		os.Exit(runExport(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nUsage: topicdeck-admin <list|create|remove|export> [flags]\n", command)
		os.Exit(1)
	}
}

// setup loads config and opens the document store and a repository over it.
// The returned cleanup func closes the store.
func setup(configPath string) (*topic.Repository, docstore.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Setup("warn", cfg.Logging.Format, os.Stderr)

	var store docstore.Store
	switch cfg.DocStore.Engine {
	case "firestore":
		store, err = docstore.NewFirestoreStore(context.Background(), &cfg.DocStore.Firestore, cfg.DocStore.Collection)
	case "memory":
		store = docstore.NewMemoryStore()
	default:
		dbPath := cfg.DocStore.SQLite.Path
		if mkErr := os.MkdirAll(filepath.Dir(dbPath), 0o755); mkErr != nil {
			return nil, nil, nil, fmt.Errorf("creating docstore directory: %w", mkErr)
		}
		store, err = docstore.NewSQLiteStore(dbPath, time.Duration(cfg.DocStore.SQLite.WatchIntervalMS)*time.Millisecond)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening document store: %w", err)
	}

	// Blob cleanup from the admin tool goes through the same repository
	// path as the server. The local backend is enough for key deletion when
	// running against a local data directory; cloud backends are configured
	// the same way as the server.
	blobs, err := adminBlobStore(cfg)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	repo := topic.NewRepository(store, blobs, busy.New(time.Duration(cfg.Busy.ShowDelayMS)*time.Millisecond))
	cleanup := func() { store.Close() }
	return repo, store, cleanup, nil
}

func adminBlobStore(cfg *config.Config) (blobstore.Store, error) {
	bs := cfg.BlobStore
	switch bs.Backend {
	case "gcs":
		return blobstore.NewGCSBackend(context.Background(), bs.GCSBucket, bs.GCSPrefix, bs.PublicBaseURL)
	case "s3":
		region := bs.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return blobstore.NewS3Backend(context.Background(), bs.S3Bucket, region, bs.S3Prefix,
			bs.PublicBaseURL, bs.S3AccessKeyID, bs.S3SecretAccessKey)
	case "azure":
		accountURL := bs.AzureAccountURL
		if accountURL == "" {
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", bs.AzureAccount)
		}
		return blobstore.NewAzureBackend(context.Background(), bs.AzureContainer, accountURL, bs.AzurePrefix, bs.PublicBaseURL)
	case "memory":
		return blobstore.NewMemory(), nil
	default:
		return blobstore.NewLocalBackend(bs.LocalRootDir, bs.PublicBaseURL)
	}
}

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "topicdeck.yaml", "Config file path")
	fs.Parse(args)

	repo, _, cleanup, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	topics, err := repo.All(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing topics: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIMAGES\tACTIVE\tUPDATED")
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", t.ID, t.Name, len(t.Images), t.Active, t.UpdatedAt)
	}
	w.Flush()
	return 0
}

func runCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	configPath := fs.String("config", "topicdeck.yaml", "Config file path")
	name := fs.String("name", "", "Topic name (required)")
	description := fs.String("description", "", "Topic description (markdown)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		return 1
	}

	repo, _, cleanup, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	created, err := repo.Create(context.Background(), *name, *description)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating topic: %v\n", err)
		return 1
	}
	fmt.Println(created.ID)
	return 0
}

func runRemove(args []string) int {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", "topicdeck.yaml", "Config file path")
	id := fs.String("id", "", "Topic id (required)")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		return 1
	}

	repo, _, cleanup, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	tasks, err := repo.Remove(context.Background(), *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error removing topic: %v\n", err)
		return 1
	}
	repo.RunCleanup(context.Background(), tasks)
	return 0
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "topicdeck.yaml", "Config file path")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	fs.Parse(args)

	_, store, cleanup, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	docs, err := store.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding export: %v\n", err)
		return 1
	}

	if *output == "-" {
		fmt.Println(string(data))
		return 0
	}
	if err := os.WriteFile(*output, append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return 1
	}
	return 0
}
