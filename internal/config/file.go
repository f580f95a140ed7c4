package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mediakeeper/internal/flagx"
	"github.com/dmitrijs2005/mediakeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is a DTO used exclusively for file unmarshalling. Pointer
// fields distinguish "absent" from "zero", so a file only overrides what it
// mentions.
type FileConfig struct {
	DatabasePath          *string         `json:"database_path" yaml:"database_path"`
	LibraryDir            *string         `json:"library_dir" yaml:"library_dir"`
	RemoteBackend         *string         `json:"remote_backend" yaml:"remote_backend"`
	S3AccessKey           *string         `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey           *string         `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Bucket              *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region              *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint        *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	RemotePrefix          *string         `json:"remote_prefix" yaml:"remote_prefix"`
	SnapshotKey           *string         `json:"snapshot_key" yaml:"snapshot_key"`
	RemotePoolSize        *int            `json:"remote_pool_size" yaml:"remote_pool_size"`
	FSPoolSize            *int            `json:"fs_pool_size" yaml:"fs_pool_size"`
	CatalogPoolSize       *int            `json:"catalog_pool_size" yaml:"catalog_pool_size"`
	TransferJobs          *int            `json:"transfer_jobs" yaml:"transfer_jobs"`
	MutationJobs          *int            `json:"mutation_jobs" yaml:"mutation_jobs"`
	RemoteCallTimeout     *timex.Duration `json:"remote_call_timeout" yaml:"remote_call_timeout"`
	RemoteRetries         *int            `json:"remote_retries" yaml:"remote_retries"`
	RemoteRetryBackoff    *timex.Duration `json:"remote_retry_backoff" yaml:"remote_retry_backoff"`
	JobRetention          *timex.Duration `json:"job_retention" yaml:"job_retention"`
	CleanupInterval       *timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	AutoPublish           *bool           `json:"auto_publish" yaml:"auto_publish"`
	LegacyListingFallback *bool           `json:"legacy_listing_fallback" yaml:"legacy_listing_fallback"`
	LogFormat             *string         `json:"log_format" yaml:"log_format"`
	LogLevel              *string         `json:"log_level" yaml:"log_level"`
	MetricsAddr           *string         `json:"metrics_addr" yaml:"metrics_addr"`
}

// parseFile overlays cfg with values from the file named by -c/-config.
// It panics on read or decode errors (caller should recover if desired).
func parseFile(cfg *Config) {
	path := flagx.ConfigPath()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.LibraryDir, fc.LibraryDir)
	setString(&cfg.RemoteBackend, fc.RemoteBackend)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&cfg.RemotePrefix, fc.RemotePrefix)
	setString(&cfg.SnapshotKey, fc.SnapshotKey)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)

	setInt(&cfg.RemotePoolSize, fc.RemotePoolSize)
	setInt(&cfg.FSPoolSize, fc.FSPoolSize)
	setInt(&cfg.CatalogPoolSize, fc.CatalogPoolSize)
	setInt(&cfg.TransferJobs, fc.TransferJobs)
	setInt(&cfg.MutationJobs, fc.MutationJobs)
	setInt(&cfg.RemoteRetries, fc.RemoteRetries)

	if fc.RemoteCallTimeout != nil {
		cfg.RemoteCallTimeout = fc.RemoteCallTimeout.Duration
	}
	if fc.RemoteRetryBackoff != nil {
		cfg.RemoteRetryBackoff = fc.RemoteRetryBackoff.Duration
	}
	if fc.JobRetention != nil {
		cfg.JobRetention = fc.JobRetention.Duration
	}
	if fc.CleanupInterval != nil {
		cfg.CleanupInterval = fc.CleanupInterval.Duration
	}
	if fc.AutoPublish != nil {
		cfg.AutoPublish = *fc.AutoPublish
	}
	if fc.LegacyListingFallback != nil {
		cfg.LegacyListingFallback = *fc.LegacyListingFallback
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
