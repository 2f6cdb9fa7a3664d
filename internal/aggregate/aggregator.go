// Package aggregate merges per-file facts into a codebase.
package aggregate

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// Aggregator collects FileFacts from concurrent workers.
type Aggregator struct {
	mu     sync.Mutex
	files  []*facts.FileFacts
	counts facts.Counts
	logger *slog.Logger
}

// New creates an empty Aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Add records ff and returns the running totals.
func (a *Aggregator) Add(ff *facts.FileFacts) facts.Counts {
	a.mu.Lock()
	a.files = append(a.files, ff)
	a.counts.Add(ff)
	c := a.counts
	a.mu.Unlock()

	a.logger.Debug("aggregated file",
		"file", ff.Path,
		"files", c.Files,
		"functions", c.Functions,
		"classes", c.Classes,
		"imports", c.Imports,
		"variables", c.Variables,
	)
	return c
}

// Counts returns the running totals.
func (a *Aggregator) Counts() facts.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

// Snapshot returns the facts gathered so far ordered by file path,
// independent of the order Add was called in.
func (a *Aggregator) Snapshot() *facts.Codebase {
	a.mu.Lock()
	files := make([]*facts.FileFacts, len(a.files))
	copy(files, a.files)
	a.mu.Unlock()

	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	cb := facts.NewCodebase()
	for _, ff := range files {
		cb.Append(ff)
	}
	return cb
}
