package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/darshan-rambhia/nab/internal/alerter"
	"github.com/darshan-rambhia/nab/internal/api"
	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/collector"
	"github.com/darshan-rambhia/nab/internal/config"
	"github.com/darshan-rambhia/nab/internal/harness"
	"github.com/darshan-rambhia/nab/internal/liveness"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/probe"
	"github.com/darshan-rambhia/nab/internal/scheduler"
	"github.com/darshan-rambhia/nab/internal/store"
	"github.com/darshan-rambhia/nab/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// @title nab API
// @version 1.0
// @description Backup status, harness runs and alert history of a nab backup server.
// @host localhost:3900
// @BasePath /

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// Exit codes of a one-shot run.
const (
	exitOK      = 0
	exitFailed  = 1
	exitRefused = 2
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

// newLogger builds the process logger from the configured level and format.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// exitCode maps the outcome of a one-shot run to a process exit status.
func exitCode(out harness.Outcome, err error) int {
	switch {
	case out.State == model.StateRefused:
		return exitRefused
	case err != nil, out.State != model.StateFinalized:
		return exitFailed
	default:
		return exitOK
	}
}

func main() {
	configPath := flag.String("config", "", "path to nab.yml config file")
	runHost := flag.String("run-host", "", "back up one host now and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("nab %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(exitOK)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp nab.example.yml %s\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(exitFailed)
	}

	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *runHost != "" {
		os.Exit(runOnce(ctx, cfg, *runHost))
	}

	slog.Info("starting nab",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"server", cfg.ServerName,
		"listen", cfg.Listen,
	)
	if err := serve(ctx, cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(exitFailed)
	}
	slog.Info("nab stopped gracefully")
}

// components is everything both modes share.
type components struct {
	store    *store.Store
	server   model.BackupServer
	cache    *cache.Cache
	liveness *liveness.Controller
	alerter  *alerter.Alerter
	harness  *harness.Harness
}

func setup(cfg *config.Config) (*components, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := st.Init(); err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	bs, err := st.BackupServerByName(cfg.ServerName)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("backup server %q: %w", cfg.ServerName, err)
	}

	c := cache.New()
	lc := liveness.New(st, nil)
	a := alerter.NewAlerter(c, st, bs.ID, cfg.Providers(), cfg.AlerterConfig(), cfg.Alerts.Interval.Duration)
	rsync := &transfer.Rsync{
		Path:      cfg.RsyncPath,
		IOTimeout: cfg.RsyncIOTimeout.Duration,
		Timeout:   cfg.TransferTimeout.Duration,
	}
	h := harness.New(st, lc, rsync, harness.Options{Cache: c, Notifier: a})

	return &components{store: st, server: bs, cache: c, liveness: lc, alerter: a, harness: h}, nil
}

// runOnce backs up one host and returns the process exit code.
func runOnce(ctx context.Context, cfg *config.Config, hostname string) int {
	comp, err := setup(cfg)
	if err != nil {
		slog.Error("setup failed", "error", err)
		return exitFailed
	}
	defer comp.store.Close()

	out, err := comp.harness.RunHost(ctx, hostname)
	code := exitCode(out, err)
	switch code {
	case exitOK:
		slog.Info("backup finished", "host", hostname, "run_id", out.RunID)
	case exitRefused:
		slog.Warn("backup refused", "host", hostname, "reason", out.Reason)
	default:
		slog.Error("backup failed", "host", hostname, "state", out.State, "error", err)
	}
	return code
}

// serve runs the daemon loops until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	comp, err := setup(cfg)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(comp.store, comp.server, comp.harness, comp.liveness, probe.New(), scheduler.Options{
			Interval:       cfg.Scheduler.Interval.Duration,
			BackupInterval: cfg.Scheduler.BackupInterval.Duration,
			Cache:          comp.cache,
		})
		g.Go(func() error { return sched.Run(ctx) })
	} else {
		slog.Info("scheduler disabled")
	}

	if cfg.UsageInterval.Duration > 0 {
		pool := collector.NewWorkerPool(cfg.WorkerPoolSize)
		usage := collector.NewUsageCollector(comp.store, comp.server, comp.cache, pool, cfg.UsageInterval.Duration)
		g.Go(func() error { return collector.Run(ctx, usage) })
	}

	pruner := store.NewPruner(comp.store, cfg.StoreRetention())
	g.Go(func() error { return pruner.Run(ctx) })

	g.Go(func() error { return comp.alerter.Run(ctx) })

	server := api.NewServer(cfg.Listen, comp.cache, comp.store, comp.server)
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"scheduler", cfg.Scheduler.Enabled,
		"slots", comp.server.SchedulerSlots,
		"notifications", len(cfg.Notifications),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
