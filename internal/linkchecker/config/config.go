// Repology Link Checker re-checks link availability for Repology.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config resolves the fully-typed Config and hosts.Hosts table
// the core consumes: it loads the builtin hosts.toml, an optional
// operator-supplied TOML file, and merges CLI overrides on top,
// mirroring the original's config.rs (clap::Parser + toml +
// include_str! builtin hosts). The core itself never parses TOML or
// flags; only cmd/repology-linkchecker/main.go and build.go's hosts-lint
// step call into this package.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"repology-linkchecker/internal/linkchecker/hosts"
)

//go:embed hosts.toml
var builtinHostsConfig []byte

// Defaults mirror config.rs's DEFAULT_* constants.
const (
	DefaultDSN          = "postgresql://repology@localhost/repology"
	DefaultRepologyHost = "https://repology.org"

	DefaultBatchSize            = 1000
	DefaultBatchPeriod          = 60 * time.Second
	DefaultDatabaseRetryPeriod  = 60 * time.Second
	DefaultMaxQueuedURLs        = 100000
	DefaultMaxQueuedURLsPerBkt  = 1000
	DefaultMaxBuckets           = 1000
	DefaultMaxParallelUpdates   = 0 // unbounded
)

// FileConfig is the on-disk TOML shape: every field optional so a
// partial file only overrides what it names.
type FileConfig struct {
	DSN                       *string                 `toml:"dsn"`
	PrometheusExport          *string                 `toml:"prometheus_export"`
	RepologyHost              *string                 `toml:"repology_host"`
	Hosts                     map[string]hosts.Patch  `toml:"hosts"`
	DryRun                    *bool                   `toml:"dry_run"`
	OnceOnly                  *bool                   `toml:"once_only"`
	BatchSize                 *int                    `toml:"batch_size"`
	BatchPeriodSeconds        *int64                  `toml:"batch_period"`
	DatabaseRetryPeriodSecs   *int64                  `toml:"database_retry_period"`
	MaxQueuedURLs             *int                    `toml:"max_queued_urls"`
	MaxQueuedURLsPerBucket    *int                    `toml:"max_queued_urls_per_bucket"`
	MaxBuckets                *int                    `toml:"max_buckets"`
	DisableIPv4               *bool                   `toml:"disable_ipv4"`
	DisableIPv6               *bool                   `toml:"disable_ipv6"`
	SatisfyWithIPv6           *bool                   `toml:"satisfy_with_ipv6"`
	FastFailureRecheck        *bool                   `toml:"fast_failure_recheck"`
	DisableBuiltinHostsConfig *bool                   `toml:"disable_builtin_hosts_config"`
	MaxParallelUpdates        *int                    `toml:"max_parallel_updates"`
}

// Overrides carries the CLI-flag values that take precedence over the
// file config when set; nil/zero means "not passed on the command
// line, defer to the file or built-in default".
type Overrides struct {
	DSN                       *string
	RepologyHost              *string
	DryRun                    bool
	OnceOnly                  bool
	DisableIPv4               bool
	DisableIPv6               bool
	SatisfyWithIPv6           bool
	FastFailureRecheck        bool
	DisableBuiltinHostsConfig bool
	BatchSize                 *int
	BatchPeriodSeconds        *int64
	DatabaseRetryPeriodSecs   *int64
	MaxQueuedURLs             *int
	MaxQueuedURLsPerBucket    *int
	MaxBuckets                *int
	MaxParallelUpdates        *int
}

// Config is the fully-resolved process configuration; the core reads
// this (and the Hosts table built alongside it) but never builds one
// itself.
type Config struct {
	DSN                    string
	PrometheusExport       string
	RepologyHost           string
	DryRun                 bool
	OnceOnly               bool
	BatchSize              int
	BatchPeriod            time.Duration
	DatabaseRetryPeriod    time.Duration
	MaxQueuedURLs          int
	MaxQueuedURLsPerBucket int
	MaxBuckets             int
	DisableIPv4            bool
	DisableIPv6            bool
	SatisfyWithIPv6        bool
	FastFailureRecheck     bool
	MaxParallelUpdates     int
}

// Load reads path (if non-empty) as a TOML FileConfig, merges the
// builtin hosts.toml beneath it (unless disabled), applies overrides,
// and returns the resolved Config plus its Hosts table.
func Load(path string, overrides Overrides) (Config, *hosts.Hosts, error) {
	var file FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if _, err := toml.Decode(string(data), &file); err != nil {
			return Config{}, nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	disableBuiltin := overrides.DisableBuiltinHostsConfig || boolOr(file.DisableBuiltinHostsConfig, false)

	merged := make(map[string]hosts.Patch)
	if !disableBuiltin {
		var builtin map[string]hosts.Patch
		if _, err := toml.Decode(string(builtinHostsConfig), &builtin); err != nil {
			return Config{}, nil, fmt.Errorf("config: parsing builtin hosts.toml: %w", err)
		}
		for host, p := range builtin {
			merged[host] = p
		}
	}
	for host, p := range file.Hosts {
		merged[host] = p
	}

	defaultSettings := hosts.DefaultSettings()
	if d, ok := merged["default"]; ok {
		if err := d.Check(); err != nil {
			return Config{}, nil, fmt.Errorf("config: host \"default\": %w", err)
		}
		defaultSettings = applyPatch(defaultSettings, d)
		delete(merged, "default")
	}

	h, err := hosts.Build(defaultSettings, merged)
	if err != nil {
		return Config{}, nil, err
	}

	cfg := Config{
		DSN:                    strOr(overrides.DSN, file.DSN, DefaultDSN),
		PrometheusExport:       strOr(nil, file.PrometheusExport, ""),
		RepologyHost:           strOr(overrides.RepologyHost, file.RepologyHost, DefaultRepologyHost),
		DryRun:                 overrides.DryRun || boolOr(file.DryRun, false),
		OnceOnly:               overrides.OnceOnly || boolOr(file.OnceOnly, false),
		BatchSize:              intOr(overrides.BatchSize, file.BatchSize, DefaultBatchSize),
		BatchPeriod:            secondsOr(overrides.BatchPeriodSeconds, file.BatchPeriodSeconds, DefaultBatchPeriod),
		DatabaseRetryPeriod:    secondsOr(overrides.DatabaseRetryPeriodSecs, file.DatabaseRetryPeriodSecs, DefaultDatabaseRetryPeriod),
		MaxQueuedURLs:          intOr(overrides.MaxQueuedURLs, file.MaxQueuedURLs, DefaultMaxQueuedURLs),
		MaxQueuedURLsPerBucket: intOr(overrides.MaxQueuedURLsPerBucket, file.MaxQueuedURLsPerBucket, DefaultMaxQueuedURLsPerBkt),
		MaxBuckets:             intOr(overrides.MaxBuckets, file.MaxBuckets, DefaultMaxBuckets),
		DisableIPv4:            overrides.DisableIPv4 || boolOr(file.DisableIPv4, false),
		DisableIPv6:            overrides.DisableIPv6 || boolOr(file.DisableIPv6, false),
		SatisfyWithIPv6:        overrides.SatisfyWithIPv6 || boolOr(file.SatisfyWithIPv6, false),
		FastFailureRecheck:     overrides.FastFailureRecheck || boolOr(file.FastFailureRecheck, false),
		MaxParallelUpdates:     intOr(overrides.MaxParallelUpdates, file.MaxParallelUpdates, DefaultMaxParallelUpdates),
	}

	return cfg, h, nil
}

func applyPatch(base hosts.Settings, p hosts.Patch) hosts.Settings {
	built, err := hosts.Build(base, map[string]hosts.Patch{"default": p})
	if err != nil {
		return base
	}
	return built.GetSettings("default")
}

func strOr(override, file *string, fallback string) string {
	if override != nil && *override != "" {
		return *override
	}
	if file != nil {
		return *file
	}
	return fallback
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}

func intOr(override, file *int, fallback int) int {
	if override != nil {
		return *override
	}
	if file != nil {
		return *file
	}
	return fallback
}

func secondsOr(override, file *int64, fallback time.Duration) time.Duration {
	if override != nil {
		return time.Duration(*override) * time.Second
	}
	if file != nil {
		return time.Duration(*file) * time.Second
	}
	return fallback
}
