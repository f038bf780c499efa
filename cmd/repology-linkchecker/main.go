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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repology-linkchecker/internal/linkchecker/checker"
	"repology-linkchecker/internal/linkchecker/config"
	"repology-linkchecker/internal/linkchecker/delayer"
	"repology-linkchecker/internal/linkchecker/httpclient"
	"repology-linkchecker/internal/linkchecker/mainloop"
	"repology-linkchecker/internal/linkchecker/metrics"
	"repology-linkchecker/internal/linkchecker/queuer"
	"repology-linkchecker/internal/linkchecker/resolver"
	"repology-linkchecker/internal/linkchecker/storage/sqlitestore"
	"repology-linkchecker/internal/linkchecker/task"
	"repology-linkchecker/internal/linkchecker/updater"
	"repology-linkchecker/internal/logging"
)

var version = "dev"

func main() {
	var (
		configPath   = flag.String("config", "", "Path to an optional TOML config file")
		dsn          = flag.String("dsn", "", "Database DSN (overrides config file)")
		repologyHost = flag.String("repology-host", "", "Repology API host (overrides config file)")
		prom         = flag.String("prometheus-export", "", "Address to serve Prometheus metrics on, e.g. :9090")
		dryRun       = flag.Bool("dry-run", false, "Check links but never write results back")
		onceOnly     = flag.Bool("once-only", false, "Process a single batch and exit")
		disableIPv4  = flag.Bool("disable-ipv4", false, "Never probe over IPv4")
		disableIPv6  = flag.Bool("disable-ipv6", false, "Never probe over IPv6")
		satisfyIPv6  = flag.Bool("satisfy-with-ipv6", false, "Skip the IPv4 probe when IPv6 already succeeded")
		fastFailure  = flag.Bool("fast-failure-recheck", false, "Use the escalating fast-failure recheck table")
		noBuiltin    = flag.Bool("disable-builtin-hosts-config", false, "Do not merge the built-in per-host policy table")
		batchSize    = flag.Int("batch-size", 0, "Tasks fetched per feeder batch (0 = config/default)")
		maxBuckets   = flag.Int("max-buckets", 0, "Maximum concurrent aggregation-key buckets (0 = config/default)")
		maxQueued    = flag.Int("max-queued-urls", 0, "Maximum globally queued URLs (0 = config/default)")
		logLevel     = flag.String("log-level", "info", "Log level: debug|info|warn|error")
		printVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	logger := logging.New(*logLevel)
	logger = logger.With(slog.String("component", "linkchecker"))

	overrides := config.Overrides{
		DryRun:                    *dryRun,
		OnceOnly:                  *onceOnly,
		DisableIPv4:               *disableIPv4,
		DisableIPv6:               *disableIPv6,
		SatisfyWithIPv6:           *satisfyIPv6,
		FastFailureRecheck:        *fastFailure,
		DisableBuiltinHostsConfig: *noBuiltin,
	}
	if *dsn != "" {
		overrides.DSN = dsn
	}
	if *repologyHost != "" {
		overrides.RepologyHost = repologyHost
	}
	if *batchSize > 0 {
		overrides.BatchSize = batchSize
	}
	if *maxBuckets > 0 {
		overrides.MaxBuckets = maxBuckets
	}
	if *maxQueued > 0 {
		overrides.MaxQueuedURLs = maxQueued
	}

	cfg, hostsTable, err := config.Load(*configPath, overrides)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *prom != "" {
		cfg.PrometheusExport = *prom
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlitestore.Open(ctx, cfg.DSN)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	res, err := resolver.New(resolver.DefaultCacheSize, resolver.DefaultTTL)
	if err != nil {
		logger.Error("failed to build resolver", slog.Any("error", err))
		os.Exit(1)
	}

	client := httpclient.NewNativeClient("")
	d := delayer.New()

	globalCfg := checker.GlobalConfig{
		DisableIPv4:        cfg.DisableIPv4,
		DisableIPv6:        cfg.DisableIPv6,
		SatisfyWithIPv6:    cfg.SatisfyWithIPv6,
		FastFailureRecheck: cfg.FastFailureRecheck,
	}

	var sink checker.EventSink = metrics.Sink{}
	c := checker.New(hostsTable, d, client, res, globalCfg, nil, sink, logger)

	if cfg.DryRun {
		logger.Info("dry run: check results will be logged, not persisted")
	}
	var upd updater.Updater = store
	if cfg.DryRun {
		upd = dryRunUpdater{inner: store, logger: logger}
	}

	q := queuer.New(queuer.Limits{
		MaxQueuedURLs:          cfg.MaxQueuedURLs,
		MaxQueuedURLsPerBucket: cfg.MaxQueuedURLsPerBucket,
		MaxBuckets:             cfg.MaxBuckets,
	}, c, upd, hostsTable, nil, logger)
	defer q.Close()

	if cfg.PrometheusExport != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.PrometheusExport, Handler: mux}
		go func() {
			logger.Info("serving prometheus metrics", slog.String("addr", cfg.PrometheusExport))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	loop := mainloop.New(store, q, mainloop.Config{
		BatchSize:           cfg.BatchSize,
		BatchPeriod:         cfg.BatchPeriod,
		DatabaseRetryPeriod: cfg.DatabaseRetryPeriod,
		OnceOnly:            cfg.OnceOnly,
	}, logger, metrics.SetQueueDepth)

	logger.Info("starting repology-linkchecker", slog.String("version", version), slog.String("repology_host", cfg.RepologyHost))

	if err := loop.Run(ctx); err != nil {
		logger.Error("main loop exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("repology-linkchecker shut down cleanly")
}

// dryRunUpdater satisfies updater.Updater by logging every push and
// deferral instead of writing through to inner, so --dry-run never
// mutates storage while still exercising the rest of the pipeline.
type dryRunUpdater struct {
	inner  *sqlitestore.Store
	logger *slog.Logger
}

func (u dryRunUpdater) Push(ctx context.Context, result task.CheckResult) error {
	u.logger.Info("dry run: would push check result",
		slog.Int64("task_id", result.TaskID),
		slog.String("ipv4", result.IPv4.Status.String()),
		slog.String("ipv6", result.IPv6.Status.String()),
		slog.Time("next_check", result.NextCheck))
	return nil
}

func (u dryRunUpdater) DeferBy(ctx context.Context, id int64, d time.Duration) error {
	u.logger.Debug("dry run: would defer task", slog.Int64("task_id", id), slog.Duration("by", d))
	return nil
}
