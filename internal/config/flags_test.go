package config

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "paths and backend",
			args: []string{"cmd", "-d", "/tmp/c.db", "-l", "/srv/media", "-r", "memory", "-auto=false"},
			expected: &Config{
				DatabasePath:  "/tmp/c.db",
				LibraryDir:    "/srv/media",
				RemoteBackend: "memory",
				AutoPublish:   false,
			},
		},
		{
			name: "s3 settings and unknown flags ignored",
			args: []string{"cmd", "-b", "bkt", "-e", "http://minio:9000", "-x", "1", "-c", "cfg.json"},
			expected: &Config{
				S3Bucket:       "bkt",
				S3BaseEndpoint: "http://minio:9000",
				AutoPublish:    true,
			},
		},
		{name: "bad bool", args: []string{"cmd", "-auto=maybe"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			cfg := &Config{AutoPublish: true}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg) })
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
