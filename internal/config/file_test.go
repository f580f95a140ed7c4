package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_parseFile_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("json overrides only mentioned fields", func(t *testing.T) {
		path := writeTemp(t, "cfg.json", `{
			"library_dir": "/srv/media",
			"remote_call_timeout": "5s",
			"auto_publish": false,
			"remote_pool_size": 8
		}`)
		os.Args = []string{"testbin", "-config", path}

		var cfg Config
		cfg.LoadDefaults()
		parseFile(&cfg)

		assert.Equal(t, "/srv/media", cfg.LibraryDir)
		assert.Equal(t, 5*time.Second, cfg.RemoteCallTimeout)
		assert.False(t, cfg.AutoPublish)
		assert.Equal(t, 8, cfg.RemotePoolSize)
		assert.Equal(t, "mediakeeper.db", cfg.DatabasePath, "untouched default")
	})

	t.Run("yaml by extension", func(t *testing.T) {
		path := writeTemp(t, "cfg.yaml", "remote_backend: memory\njob_retention: 2h\nlegacy_listing_fallback: true\n")
		os.Args = []string{"testbin", "-c", path}

		var cfg Config
		cfg.LoadDefaults()
		parseFile(&cfg)

		assert.Equal(t, BackendMemory, cfg.RemoteBackend)
		assert.Equal(t, 2*time.Hour, cfg.JobRetention)
		assert.True(t, cfg.LegacyListingFallback)
	})

	t.Run("flags win over file", func(t *testing.T) {
		path := writeTemp(t, "cfg.json", `{"database_path": "from-file.db"}`)
		os.Args = []string{"testbin", "-c", path, "-d", "from-flag.db"}

		cfg := LoadConfig()
		assert.Equal(t, "from-flag.db", cfg.DatabasePath)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{DatabasePath: "keep.db"}
		parseFile(cfg)
		assert.Equal(t, "keep.db", cfg.DatabasePath)
	})

	t.Run("invalid file → panics", func(t *testing.T) {
		path := writeTemp(t, "bad.json", `{ this is not valid json`)
		os.Args = []string{"testbin", "-config", path}

		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(t.TempDir(), "absent.yml")}
		require.Panics(t, func() { parseFile(&Config{}) })
	})
}
