// Package config loads runtime configuration for MediaKeeper.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config; ".yaml"/".yml" files
//     are read as YAML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   catalog database path
//	-l string   local library directory
//	-r string   remote backend (s3|memory)
//	-b string   S3 bucket
//	-e string   S3 base endpoint
//	-g string   S3 region
//	-u string   S3 access key
//	-p string   S3 secret key
//	-k string   snapshot key
//	-m string   metrics listen address
//	-f string   log format (json|text|console|zerolog)
//	-v string   log level
//	-auto bool  publish after every remote-mutating job
//
// # File schema
//
// Intervals use timex.Duration, so they may be strings like "30s" or integer
// nanoseconds:
//
//	{
//	  "database_path": "mediakeeper.db",
//	  "library_dir": "/srv/media",
//	  "remote_call_timeout": "30s",
//	  "auto_publish": false
//	}
//
// Note: environment variables are not read; use the file or flags.
package config
