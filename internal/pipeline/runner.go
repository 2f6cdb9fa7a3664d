// Package pipeline runs discovery, extraction, fact logging and graph
// projection over a source tree.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/codegraph/internal/aggregate"
	"github.com/efebarandurmaz/codegraph/internal/extract"
	"github.com/efebarandurmaz/codegraph/internal/factlog"
	"github.com/efebarandurmaz/codegraph/internal/facts"
	"github.com/efebarandurmaz/codegraph/internal/graph"
	"github.com/efebarandurmaz/codegraph/internal/observability"
	"github.com/efebarandurmaz/codegraph/internal/source"
)

// Config wires a Runner. FactLog and Projector are optional; a nil value
// disables that stage.
type Config struct {
	Walker    *source.Walker
	Reader    *source.Reader
	Extractor *extract.Extractor
	FactLog   *factlog.Writer
	Projector *graph.Projector
	Metrics   *observability.Metrics
	Workers   int
	Logger    *slog.Logger
}

// Runner executes a pipeline run. A Runner may be reused; each Run starts
// from an empty aggregator.
type Runner struct {
	walker    *source.Walker
	reader    *source.Reader
	extractor *extract.Extractor
	factlog   *factlog.Writer
	projector *graph.Projector
	metrics   *observability.Metrics
	workers   int
	logger    *slog.Logger
}

// New creates a Runner from cfg.
func New(cfg Config) *Runner {
	r := &Runner{
		walker:    cfg.Walker,
		reader:    cfg.Reader,
		extractor: cfg.Extractor,
		factlog:   cfg.FactLog,
		projector: cfg.Projector,
		metrics:   cfg.Metrics,
		workers:   cfg.Workers,
		logger:    cfg.Logger,
	}
	if r.reader == nil {
		r.reader = source.NewReader()
	}
	if r.extractor == nil {
		r.extractor = extract.New(extract.Options{})
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.projector != nil && r.metrics != nil && r.projector.OnApply == nil {
		m := r.metrics
		r.projector.OnApply = func(_ graph.Operation, err error) { m.RecordGraphOp(err) }
	}
	return r
}

// Run walks the tree, extracts every file and then writes the fact log and
// projects the graph. Per-file failures are recorded as skips. A missing
// root, a walk failure or cancellation is returned as an error together
// with the partial report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := newReport(r.walker.Root())
	ctx, span := observability.StartRunSpan(ctx, rep.Root)
	defer span.End()
	defer func() {
		rep.finish()
		r.metrics.RecordRun(rep.Duration)
		observability.RecordRunResult(span, rep.Discovered, rep.Processed, len(rep.Skipped), rep.Counts)
	}()

	cb, err := r.extractAll(ctx, rep)
	if err != nil {
		observability.RecordError(span, err)
		return rep, err
	}
	rep.Counts = cb.Counts()

	if rep.Discovered == 0 {
		rep.Empty = true
		r.logger.Warn("no source files found", "root", rep.Root)
		return rep, nil
	}
	r.logger.Info("extraction finished",
		"discovered", rep.Discovered,
		"processed", rep.Processed,
		"skipped", len(rep.Skipped),
		"functions", rep.Counts.Functions,
		"classes", rep.Counts.Classes,
	)

	if r.factlog != nil {
		rep.FactLog = r.writeFactLog(cb)
	}
	if r.projector != nil {
		sum := r.Project(ctx, cb)
		rep.Projection = sum
		rep.ProjectDuration = sum.Duration
		if sum.Canceled {
			return rep, ctx.Err()
		}
	}
	return rep, nil
}

// Project applies cb to the graph store under a projection span.
func (r *Runner) Project(ctx context.Context, cb *facts.Codebase) *graph.Summary {
	if r.projector == nil {
		return &graph.Summary{}
	}
	ctx, span := observability.StartProjectionSpan(ctx, len(cb.Files))
	defer span.End()
	sum := r.projector.Project(ctx, cb)
	observability.RecordProjectionResult(span, sum.Planned, sum.Applied, sum.FailedCount(), sum.Canceled)
	return sum
}

func (r *Runner) extractAll(ctx context.Context, rep *Report) (*facts.Codebase, error) {
	start := time.Now()
	defer func() { rep.ExtractDuration = time.Since(start) }()

	agg := aggregate.New(r.logger)
	var mu sync.Mutex
	skip := func(s Skip) {
		mu.Lock()
		rep.Skipped = append(rep.Skipped, s)
		mu.Unlock()
		r.metrics.RecordSkip(string(s.Kind))
		r.logger.Error("file skipped", "file", s.Path, "kind", s.Kind, "reason", s.Reason)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var walkErr error
	for path, err := range r.walker.Files(gctx) {
		if err != nil {
			var re *source.ReadError
			if errors.As(err, &re) {
				skip(Skip{Path: re.Path, Kind: SkipRead, Reason: re.Err.Error()})
				continue
			}
			walkErr = err
			break
		}
		rep.Discovered++
		g.Go(func() error {
			ok, err := r.processFile(gctx, path, agg, skip)
			if ok {
				mu.Lock()
				rep.Processed++
				mu.Unlock()
			}
			return err
		})
	}
	werr := g.Wait()

	sort.Slice(rep.Skipped, func(i, j int) bool { return rep.Skipped[i].Path < rep.Skipped[j].Path })

	switch {
	case walkErr != nil:
		var pnf *source.PathNotFoundError
		if errors.As(walkErr, &pnf) || errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("walk %s: %w", rep.Root, walkErr)
	case werr != nil:
		return nil, werr
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return agg.Snapshot(), nil
}

// processFile reads and extracts one file. It returns an error only when
// the run must stop.
func (r *Runner) processFile(ctx context.Context, path string, agg *aggregate.Aggregator, skip func(Skip)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ctx, span := observability.StartFileSpan(ctx, path)
	defer span.End()
	start := time.Now()

	f, err := r.reader.Read(path)
	if err != nil {
		observability.RecordError(span, err)
		skip(skipFor(path, err))
		return false, nil
	}
	ff, err := r.extractor.Extract(ctx, path, f.Text)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		observability.RecordError(span, err)
		skip(skipFor(path, err))
		return false, nil
	}
	ff.Hash = f.Hash
	ff.Encoding = f.Encoding

	agg.Add(ff)
	var c facts.Counts
	c.Add(ff)
	r.metrics.RecordFile(time.Since(start), c)
	return true, nil
}

func (r *Runner) writeFactLog(cb *facts.Codebase) *FactLogResult {
	res := &FactLogResult{Dir: r.factlog.Dir()}
	runID, err := r.factlog.Write(cb)
	if err != nil {
		r.logger.Error("fact log write failed", "dir", res.Dir, "error", err)
		res.Error = err.Error()
		return res
	}
	res.RunID = runID
	return res
}

func skipFor(path string, err error) Skip {
	var (
		de *source.DecodeError
		re *source.ReadError
		pe *extract.ParseError
	)
	switch {
	case errors.As(err, &de):
		return Skip{Path: path, Kind: SkipDecode, Reason: err.Error()}
	case errors.As(err, &re):
		return Skip{Path: path, Kind: SkipRead, Reason: err.Error()}
	case errors.As(err, &pe):
		return Skip{Path: path, Kind: SkipParse, Reason: pe.Error()}
	}
	return Skip{Path: path, Kind: SkipParse, Reason: err.Error()}
}
