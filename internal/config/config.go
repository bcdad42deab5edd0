// Package config provides functionality for managing configuration options
// for the application using command-line flags, environment variables and an
// optional JSON config file.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Options holds the configuration values for the application.
type Options struct {
	// DataDir is the directory holding accounts, history and updater state.
	DataDir string

	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string

	// HTTPTimeoutSeconds bounds every outbound request; 0 means no timeout.
	HTTPTimeoutSeconds int

	// Config is the path to an optional JSON config file.
	Config string
}

// HTTPTimeout returns the request timeout as a duration.
func (o *Options) HTTPTimeout() time.Duration {
	return time.Duration(o.HTTPTimeoutSeconds) * time.Second
}

// Default returns the built-in option values.
func Default() *Options {
	return &Options{
		DataDir:            defaultDataDir(),
		LogLevel:           "info",
		HTTPTimeoutSeconds: 30,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "altman")
	}
	return "."
}

// Parse resolves options from the given flag values, an optional JSON config
// file and environment variable overrides, in that order (environment wins).
func Parse(opts *Options) *Options {
	if opts == nil {
		opts = Default()
	}

	// Override flags with environment variables if set
	if configPath := os.Getenv("ALTMAN_CONFIG"); configPath != "" {
		opts.Config = configPath
	}

	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); err == nil {
			data, err := os.ReadFile(opts.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, opts); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if dir := os.Getenv("ALTMAN_DATA_DIR"); dir != "" {
		opts.DataDir = dir
	}
	if level := os.Getenv("ALTMAN_LOG_LEVEL"); level != "" {
		opts.LogLevel = level
	}

	return opts
}
