package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "mediakeeper.db", c.DatabasePath)
	assert.Equal(t, BackendS3, c.RemoteBackend)
	assert.Equal(t, ".mediakeeper/catalog.snapshot", c.SnapshotKey)
	assert.Equal(t, 30*time.Second, c.RemoteCallTimeout)
	assert.True(t, c.AutoPublish)
	assert.False(t, c.LegacyListingFallback)
	require.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "library", cfg.LibraryDir)
	assert.Equal(t, 4, cfg.RemotePoolSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok memory backend", mutate: func(c *Config) { c.RemoteBackend = BackendMemory; c.S3Bucket = "" }},
		{name: "unknown backend", mutate: func(c *Config) { c.RemoteBackend = "ftp" }, wantErr: "unknown remote backend"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.S3Bucket = "" }, wantErr: "s3 bucket is empty"},
		{name: "zero pool", mutate: func(c *Config) { c.RemotePoolSize = 0 }, wantErr: "remote pool size must be positive"},
		{name: "negative retries", mutate: func(c *Config) { c.RemoteRetries = -1 }, wantErr: "remote retries"},
		{name: "no snapshot key", mutate: func(c *Config) { c.SnapshotKey = "" }, wantErr: "snapshot key is empty"},
		{name: "no timeout", mutate: func(c *Config) { c.RemoteCallTimeout = 0 }, wantErr: "remote call timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
