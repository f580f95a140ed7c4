package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/mediakeeper/internal/flagx"
)

var knownFlags = []string{"-d", "-l", "-r", "-b", "-e", "-g", "-u", "-p", "-k", "-m", "-f", "-v", "-auto"}

// parseFlags populates selected Config fields from command-line flags.
//
// Note: os.Args is filtered with flagx.FilterArgs first, so flags owned by
// other components (e.g. -c) do not break parsing. Invalid values panic.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "catalog database path")
	fs.StringVar(&cfg.LibraryDir, "l", cfg.LibraryDir, "local library directory")
	fs.StringVar(&cfg.RemoteBackend, "r", cfg.RemoteBackend, "remote backend (s3|memory)")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.StringVar(&cfg.SnapshotKey, "k", cfg.SnapshotKey, "remote snapshot key")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format (json|text|console|zerolog)")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.AutoPublish, "auto", cfg.AutoPublish, "publish snapshot after every remote-mutating job")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
