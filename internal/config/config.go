// Package config handles loading and parsing of TopicDeck configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for TopicDeck.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	DocStore  DocStoreConfig  `yaml:"docstore"`
	BlobStore BlobStoreConfig `yaml:"blobstore"`
	Busy      BusyConfig      `yaml:"busy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text, json.
	Format string `yaml:"format"`
}

// DocStoreConfig holds document store settings.
type DocStoreConfig struct {
	// Engine is the document store engine ("firestore", "sqlite", "memory").
	Engine string `yaml:"engine"`
	// Collection is the logical collection name topics are stored under.
	Collection string          `yaml:"collection"`
	Firestore  FirestoreConfig `yaml:"firestore"`
	SQLite     SQLiteConfig    `yaml:"sqlite"`
}

// FirestoreConfig holds Firestore-specific document store settings.
type FirestoreConfig struct {
	// ProjectID is the GCP project hosting the Firestore database.
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is an optional path to a service account key file.
	// If empty, Application Default Credentials are used.
	CredentialsFile string `yaml:"credentials_file"`
}

// SQLiteConfig holds SQLite-specific document store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
	// WatchIntervalMS is the polling interval for live watches, in milliseconds.
	WatchIntervalMS int `yaml:"watch_interval_ms"`
}

// BlobStoreConfig holds blob storage backend settings.
type BlobStoreConfig struct {
	// Backend is the blob store backend type ("gcs", "s3", "azure", "local").
	Backend string `yaml:"backend"`
	// GCSBucket is the bucket name for the GCS backend.
	GCSBucket string `yaml:"gcs_bucket"`
	// GCSPrefix is the optional key prefix for all blobs in the GCS bucket.
	GCSPrefix string `yaml:"gcs_prefix"`
	// S3Bucket is the bucket name for the S3 backend.
	S3Bucket string `yaml:"s3_bucket"`
	// S3Region is the AWS region for the S3 backend.
	S3Region string `yaml:"s3_region"`
	// S3Prefix is the optional key prefix for all blobs in the S3 bucket.
	S3Prefix string `yaml:"s3_prefix"`
	// S3AccessKeyID and S3SecretAccessKey optionally pin static credentials
	// for the S3 backend. If empty, the default AWS credential chain is used.
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	// AzureContainer is the container name for the Azure backend.
	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is the storage account name for the Azure backend.
	// Used to construct the account URL: https://{account}.blob.core.windows.net
	AzureAccount string `yaml:"azure_account"`
	// AzureAccountURL is the full Azure storage account URL. If empty, it is
	// constructed from AzureAccount.
	AzureAccountURL string `yaml:"azure_account_url"`
	// AzurePrefix is the optional key prefix for all blobs in the Azure container.
	AzurePrefix string `yaml:"azure_prefix"`
	// LocalRootDir is the base directory for the local filesystem backend.
	LocalRootDir string `yaml:"local_root_dir"`
	// PublicBaseURL overrides the base URL used to build public retrieval
	// references. Required for the local backend; optional for cloud backends.
	PublicBaseURL string `yaml:"public_base_url"`
}

// BusyConfig holds busy-signal debounce settings.
type BusyConfig struct {
	// ShowDelayMS is the delay before the busy signal becomes visible, in
	// milliseconds. Avoids flicker on very fast operations.
	ShowDelayMS int `yaml:"show_delay_ms"`
	// MinVisibleMS is the default minimum visible duration for immediate
	// begins, in milliseconds.
	MinVisibleMS int `yaml:"min_visible_ms"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to topicdeck.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "topicdeck.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "topicdeck.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		DocStore: DocStoreConfig{
			Engine:     "sqlite",
			Collection: "topics",
			SQLite: SQLiteConfig{
				Path:            "./data/topics.db",
				WatchIntervalMS: 500,
			},
		},
		BlobStore: BlobStoreConfig{
			Backend:       "local",
			LocalRootDir:  "./data/blobs",
			PublicBaseURL: "http://localhost:8080/blobs",
		},
		Busy: BusyConfig{
			ShowDelayMS:  180,
			MinVisibleMS: 150,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.DocStore.Engine == "" {
		cfg.DocStore.Engine = "sqlite"
	}
	if cfg.DocStore.Collection == "" {
		cfg.DocStore.Collection = "topics"
	}
	if cfg.DocStore.SQLite.Path == "" {
		cfg.DocStore.SQLite.Path = "./data/topics.db"
	}
	if cfg.DocStore.SQLite.WatchIntervalMS == 0 {
		cfg.DocStore.SQLite.WatchIntervalMS = 500
	}
	if cfg.BlobStore.Backend == "" {
		cfg.BlobStore.Backend = "local"
	}
	if cfg.BlobStore.LocalRootDir == "" {
		cfg.BlobStore.LocalRootDir = "./data/blobs"
	}
	if cfg.Busy.ShowDelayMS == 0 {
		cfg.Busy.ShowDelayMS = 180
	}
	if cfg.Busy.MinVisibleMS == 0 {
		cfg.Busy.MinVisibleMS = 150
	}
}
