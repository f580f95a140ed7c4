package config

import (
	"errors"
	"fmt"
	"time"
)

// Remote backends.
const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config holds runtime settings for the MediaKeeper engine.
//
// Fields:
//   - DatabasePath: SQLite file holding the catalog and job history.
//   - LibraryDir: root of the local media library.
//   - RemoteBackend: "s3" or "memory" (in-process, nothing persisted remotely).
//   - S3AccessKey / S3SecretKey / S3Bucket / S3Region / S3BaseEndpoint: object storage.
//   - RemotePrefix: key prefix under which media objects live.
//   - SnapshotKey: the single well-known key of the catalog snapshot.
//   - RemotePoolSize / FSPoolSize / CatalogPoolSize: blocking-call ceilings per domain.
//   - TransferJobs / MutationJobs: concurrent job bodies per job domain.
//   - RemoteCallTimeout / RemoteRetries / RemoteRetryBackoff: idempotent remote call policy.
//   - JobRetention / CleanupInterval: terminal job expiry and sweep cadence.
//   - AutoPublish: publish the snapshot after every remote-mutating job.
//   - LegacyListingFallback: answer sync queries from a live remote listing
//     while the remote catalog has never been populated.
//   - LogFormat / LogLevel: see logging.New.
//   - MetricsAddr: listen address for /metrics; empty disables it.
type Config struct {
	DatabasePath          string
	LibraryDir            string
	RemoteBackend         string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3Region              string
	S3BaseEndpoint        string
	RemotePrefix          string
	SnapshotKey           string
	RemotePoolSize        int
	FSPoolSize            int
	CatalogPoolSize       int
	TransferJobs          int
	MutationJobs          int
	RemoteCallTimeout     time.Duration
	RemoteRetries         int
	RemoteRetryBackoff    time.Duration
	JobRetention          time.Duration
	CleanupInterval       time.Duration
	AutoPublish           bool
	LegacyListingFallback bool
	LogFormat             string
	LogLevel              string
	MetricsAddr           string
}

// LoadDefaults populates c with development defaults.
// NOTE: the S3 credentials match a local MinIO and must be overridden in real use.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "mediakeeper.db"
	c.LibraryDir = "library"
	c.RemoteBackend = BackendS3
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "media"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.RemotePrefix = "library/"
	c.SnapshotKey = ".mediakeeper/catalog.snapshot"
	c.RemotePoolSize = 4
	c.FSPoolSize = 4
	c.CatalogPoolSize = 2
	c.TransferJobs = 2
	c.MutationJobs = 2
	c.RemoteCallTimeout = 30 * time.Second
	c.RemoteRetries = 3
	c.RemoteRetryBackoff = 500 * time.Millisecond
	c.JobRetention = 24 * time.Hour
	c.CleanupInterval = 10 * time.Minute
	c.AutoPublish = true
	c.LegacyListingFallback = false
	c.LogFormat = "json"
	c.LogLevel = "info"
	c.MetricsAddr = ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the config file (if any) and command-line flags. Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if c.LibraryDir == "" {
		errs = append(errs, errors.New("library dir is empty"))
	}
	if c.SnapshotKey == "" {
		errs = append(errs, errors.New("snapshot key is empty"))
	}
	switch c.RemoteBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown remote backend %q", c.RemoteBackend))
	}

	sizes := []struct {
		name string
		v    int
	}{
		{"remote pool size", c.RemotePoolSize},
		{"fs pool size", c.FSPoolSize},
		{"catalog pool size", c.CatalogPoolSize},
		{"transfer jobs", c.TransferJobs},
		{"mutation jobs", c.MutationJobs},
	}
	for _, s := range sizes {
		if s.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", s.name, s.v))
		}
	}
	if c.RemoteRetries < 0 {
		errs = append(errs, fmt.Errorf("remote retries must not be negative, got %d", c.RemoteRetries))
	}
	if c.RemoteCallTimeout <= 0 {
		errs = append(errs, errors.New("remote call timeout must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup interval must be positive"))
	}

	return errors.Join(errs...)
}
