// Package main is the entry point for the fathom plugin daemon. It hosts
// the Lua plugin runtime, watches the install directory for package
// changes and serves runtime metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fathomhq/fathom/internal/config"
	"github.com/fathomhq/fathom/internal/intel"
	"github.com/fathomhq/fathom/internal/plugin"
	"github.com/fathomhq/fathom/internal/plugin/store"
	"github.com/fathomhq/fathom/internal/watcher"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("fathom-plugind %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := newLogger(cfg.Logging)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Error("cannot create data directory")
		return 1
	}
	if err := os.MkdirAll(cfg.Plugins.Dir, 0o755); err != nil {
		log.WithError(err).Error("cannot create plugin directory")
		return 1
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		log.WithError(err).Error("cannot open plugin database")
		return 1
	}
	defer db.Close()

	api := plugin.HostAPI{
		Notifier: intel.NewLogNotifier(log),
		Analyzer: intel.NewFileAnalyzer(),
		Searcher: intel.NewFSSearcher(cfg.WatchDir),
	}

	opts := plugin.DefaultOptions()
	opts.Logger = log
	opts.MaxConcurrentInvocations = cfg.Plugins.MaxConcurrentInvocations
	opts.InvocationTimeout = cfg.Plugins.InvocationTimeout.Std()
	opts.BreakerThreshold = cfg.Plugins.BreakerThreshold
	opts.BreakerWindow = cfg.Plugins.BreakerWindow.Std()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		opts.Metrics = plugin.NewMetrics(registry)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.WithField("addr", cfg.Metrics.Addr).Info("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	manager := plugin.NewManager(api, db, opts)
	if err := manager.Restore(context.Background()); err != nil {
		log.WithError(err).Error("cannot restore plugin table")
		return 1
	}

	var pkgWatcher *watcher.PackageWatcher
	if cfg.Plugins.WatchPackages {
		pkgWatcher, err = watcher.New(cfg.Plugins.Dir, watcher.DefaultDebounce, func(pkgDir string) {
			id, ok := manager.PluginIDForPath(pkgDir)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := manager.Reload(ctx, id); err != nil {
				log.WithField("dir", pkgDir).WithError(err).Warn("plugin reload failed")
			}
		}, log)
		if err != nil {
			log.WithError(err).Error("cannot watch plugin directory")
			return 1
		}
	}

	log.WithFields(logrus.Fields{
		"version": version,
		"plugins": len(manager.List()),
	}).Info("fathom plugin daemon started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if pkgWatcher != nil {
		if err := pkgWatcher.Close(); err != nil {
			log.WithError(err).Warn("watcher close failed")
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("metrics server shutdown failed")
		}
	}
	if err := manager.Close(ctx); err != nil {
		log.WithError(err).Warn("plugin manager close failed")
	}
	return 0
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
