package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/codegraph/internal/config"
	"github.com/efebarandurmaz/codegraph/internal/extract"
	"github.com/efebarandurmaz/codegraph/internal/factlog"
	"github.com/efebarandurmaz/codegraph/internal/graph"
	"github.com/efebarandurmaz/codegraph/internal/graph/memgraph"
	"github.com/efebarandurmaz/codegraph/internal/graph/neo4j"
	"github.com/efebarandurmaz/codegraph/internal/logging"
	"github.com/efebarandurmaz/codegraph/internal/observability"
	"github.com/efebarandurmaz/codegraph/internal/pipeline"
	"github.com/efebarandurmaz/codegraph/internal/server"
	"github.com/efebarandurmaz/codegraph/internal/source"
	"github.com/efebarandurmaz/codegraph/internal/watcher"
)

type globalFlags struct {
	configPath string
	root       string
	out        string
	dryRun     bool
	workers    int
	logLevel   string
	jsonOut    bool
}

type app struct {
	cfg      *config.Config
	flags    globalFlags
	logger   *slog.Logger
	shutdown *server.ShutdownHandler
	metrics  *observability.Metrics
	store    graph.Store
	stdout   io.Writer
}

// withApp loads configuration, installs logging, tracing and signal
// handling, opens the graph store when needStore is set, runs fn and
// then shuts everything down in hook order.
func withApp(cmd *cobra.Command, flags globalFlags, needStore bool, fn func(*app) error) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, flags, cfg)
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}

	a := &app{
		cfg:      cfg,
		flags:    flags,
		logger:   logger,
		shutdown: server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger}),
		metrics:  observability.NewMetrics(),
		stdout:   cmd.OutOrStdout(),
	}
	a.shutdown.Register(server.LogShutdownHook(logCloser.Close))
	defer a.shutdown.Shutdown()

	ctx := a.shutdown.Start(cmd.Context())
	cmd.SetContext(ctx)

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "codegraph",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	a.shutdown.Register(server.TracingShutdownHook(tp.Shutdown))
	if cfg.Metrics.Textfile != "" {
		a.shutdown.Register(server.MetricsShutdownHook(func(context.Context) error {
			return a.metrics.WriteTextfile(cfg.Metrics.Textfile)
		}))
	}

	if needStore {
		if err := a.openStore(ctx); err != nil {
			return err
		}
	}
	return fn(a)
}

func applyFlags(cmd *cobra.Command, flags globalFlags, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("root") {
		cfg.Source.Root = flags.root
	}
	if f.Changed("out") {
		cfg.FactLog.Dir = flags.out
		cfg.FactLog.Enabled = true
	}
	if f.Changed("workers") {
		cfg.Pipeline.Workers = flags.workers
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
}

func (a *app) openStore(ctx context.Context) error {
	if a.flags.dryRun || !a.cfg.Graph.Enabled {
		a.logger.Info("using in-memory graph store", "dry_run", a.flags.dryRun)
		a.store = memgraph.New()
		return nil
	}
	ns, err := neo4j.New(ctx, neo4j.Config{
		URI:      a.cfg.Graph.URI,
		Username: a.cfg.Graph.Username,
		Password: a.cfg.Graph.Password,
		Database: a.cfg.Graph.Database,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := ns.EnsureSchema(ctx); err != nil {
		_ = ns.Close(ctx)
		return err
	}
	retry := graph.DefaultRetryConfig()
	retry.MaxRetries = a.cfg.Graph.MaxRetries
	if a.cfg.Graph.RetryDelay > 0 {
		retry.RetryDelay = a.cfg.Graph.RetryDelay
	}
	retry.Retryable = neo4j.IsRetryable
	a.store = graph.NewRetryStore(ns, retry)
	a.shutdown.Register(server.StoreShutdownHook(a.store.Close))
	return nil
}

func (a *app) runner(project bool) (*pipeline.Runner, error) {
	cfg := pipeline.Config{
		Walker: source.NewWalker(source.WalkerConfig{
			Root:       a.cfg.Source.Root,
			Extensions: a.cfg.Source.Extensions,
			Exclude:    a.cfg.Source.Exclude,
		}),
		Reader:    source.NewReader(source.WithMaxFileBytes(a.cfg.Source.MaxFileBytes)),
		Extractor: extract.New(extract.Options{ParametersAsVariables: a.cfg.Extract.ParametersAsVariables}).WithLogger(a.logger),
		Metrics:   a.metrics,
		Workers:   a.cfg.Pipeline.Workers,
		Logger:    a.logger,
	}
	if a.cfg.FactLog.Enabled {
		mode, err := factlog.ParseMode(a.cfg.FactLog.Mode)
		if err != nil {
			return nil, err
		}
		cfg.FactLog = factlog.NewWriter(a.cfg.FactLog.Dir, mode, a.logger)
	}
	if project && a.store != nil {
		cfg.Projector = a.projector()
	}
	return pipeline.New(cfg), nil
}

func (a *app) projector() *graph.Projector {
	p := graph.NewProjector(a.store, graph.PlanOptions{ResolveCrossFile: a.cfg.Graph.ResolveCrossFile}, a.logger)
	p.OnApply = func(_ graph.Operation, err error) { a.metrics.RecordGraphOp(err) }
	return p
}

func (a *app) run(ctx context.Context, project bool) error {
	r, err := a.runner(project)
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		if perr := a.print(rep); perr != nil {
			return perr
		}
	}
	return err
}

func (a *app) replay(ctx context.Context) error {
	cb, err := factlog.Load(a.cfg.FactLog.Dir)
	if err != nil {
		return fmt.Errorf("load fact log: %w", err)
	}
	a.logger.Info("replaying fact log", "dir", a.cfg.FactLog.Dir, "files", len(cb.Files))
	sum := a.projector().Project(ctx, cb)
	if a.flags.jsonOut {
		return writeJSON(a.stdout, sum)
	}
	fmt.Fprintf(a.stdout, "planned %d, applied %d, failed %d\n", sum.Planned, sum.Applied, sum.FailedCount())
	for _, op := range sum.FailedOps() {
		fmt.Fprintf(a.stdout, "  failed: %s\n", op)
	}
	if sum.Canceled {
		return ctx.Err()
	}
	return nil
}

func (a *app) clear(ctx context.Context) error {
	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	a.logger.Info("graph cleared")
	return nil
}

func (a *app) callees(ctx context.Context, file, qualname string) error {
	names, err := a.store.Callees(ctx, file, qualname)
	if err != nil {
		return err
	}
	if a.flags.jsonOut {
		return writeJSON(a.stdout, names)
	}
	for _, n := range names {
		fmt.Fprintln(a.stdout, n)
	}
	return nil
}

// watch runs the pipeline once, then again after every batch of changes.
func (a *app) watch(ctx context.Context) error {
	r, err := a.runner(true)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		last    *pipeline.Report
		lastErr error
	)
	runOnce := func(ctx context.Context) {
		rep, err := r.Run(ctx)
		if err == nil {
			_ = a.print(rep)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("watch run failed", "error", err)
		}
		mu.Lock()
		last, lastErr = rep, err
		mu.Unlock()
	}

	if addr := a.cfg.Watch.Listen; addr != "" {
		hs := server.NewHealthServer(version)
		hs.Handle("/metrics", a.metrics.Handler())
		hs.RegisterCheck("graph_store", server.StoreHealthChecker(func(ctx context.Context) error {
			_, err := a.store.Callees(ctx, "", "")
			return err
		}))
		hs.RegisterCheck("last_run", server.LastRunHealthChecker(func() (int, int, error) {
			mu.Lock()
			defer mu.Unlock()
			if last == nil {
				return 0, 0, lastErr
			}
			failed := 0
			if last.Projection != nil {
				failed = last.Projection.FailedCount()
			}
			return len(last.Skipped), failed, lastErr
		}))
		a.shutdown.Register(server.HTTPServerShutdownHook("health", hs.Shutdown))
		go func() {
			a.logger.Info("health endpoints listening", "addr", addr)
			if err := hs.ListenAndServe(addr); err != nil {
				a.logger.Error("health server failed", "error", err)
			}
		}()
		defer hs.SetReady(false)
		hs.SetReady(true)
	}

	w, err := watcher.New(watcher.Config{
		Root:       a.cfg.Source.Root,
		Extensions: a.cfg.Source.Extensions,
		Debounce:   a.cfg.Watch.Debounce,
		IgnoreDir:  source.IgnoredDir,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	runOnce(ctx)
	a.logger.Info("watching for changes", "root", a.cfg.Source.Root, "debounce", a.cfg.Watch.Debounce.String())
	return w.Run(ctx, func(ctx context.Context, paths []string) {
		a.logger.Info("change detected, re-running", "files", len(paths))
		start := time.Now()
		runOnce(ctx)
		a.logger.Debug("watch run finished", "duration", time.Since(start).String())
		if path := a.cfg.Metrics.Textfile; path != "" {
			if err := a.metrics.WriteTextfile(path); err != nil {
				a.logger.Warn("write metrics textfile", "error", err)
			}
		}
	})
}

func (a *app) print(rep *pipeline.Report) error {
	if a.flags.jsonOut {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.stdout, string(data))
		return err
	}
	rep.PrintSummary(a.stdout)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
