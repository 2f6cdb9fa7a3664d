package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/codegraph/internal/facts"
	"github.com/efebarandurmaz/codegraph/internal/graph"
	"github.com/efebarandurmaz/codegraph/internal/observability"
)

// SkipKind classifies why a file produced no facts.
type SkipKind string

const (
	SkipRead   SkipKind = observability.SkipRead
	SkipDecode SkipKind = observability.SkipDecode
	SkipParse  SkipKind = observability.SkipParse
)

// Skip is a file left out of the run.
type Skip struct {
	Path   string   `json:"path"`
	Kind   SkipKind `json:"kind"`
	Reason string   `json:"reason"`
}

// FactLogResult describes the fact log written by a run.
type FactLogResult struct {
	Dir   string `json:"dir"`
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Report collects statistics for a pipeline run.
type Report struct {
	Root            string         `json:"root"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at,omitempty"`
	Duration        time.Duration  `json:"-"`
	ExtractDuration time.Duration  `json:"-"`
	ProjectDuration time.Duration  `json:"-"`
	Discovered      int            `json:"discovered"`
	Processed       int            `json:"processed"`
	Skipped         []Skip         `json:"skipped"`
	Counts          facts.Counts   `json:"counts"`
	Empty           bool           `json:"empty"`
	FactLog         *FactLogResult `json:"factlog,omitempty"`
	Projection      *graph.Summary `json:"projection,omitempty"`
	// FailedOps lists failed graph operations; filled by finish. JSON
	// output carries them under projection.
	FailedOps []string `json:"-"`
}

func newReport(root string) *Report {
	return &Report{Root: root, StartedAt: time.Now(), Skipped: []Skip{}}
}

func (r *Report) finish() {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	if r.Projection != nil {
		r.FailedOps = r.Projection.FailedOps()
	}
}

// MarshalJSON reports durations in milliseconds.
func (r *Report) MarshalJSON() ([]byte, error) {
	type report Report
	out := struct {
		*report
		DurationMS int64  `json:"duration_ms"`
		ExtractMS  int64  `json:"extract_ms"`
		ProjectMS  *int64 `json:"project_ms,omitempty"`
	}{
		report:     (*report)(r),
		DurationMS: r.Duration.Milliseconds(),
		ExtractMS:  r.ExtractDuration.Milliseconds(),
	}
	if r.Projection != nil {
		ms := r.ProjectDuration.Milliseconds()
		out.ProjectMS = &ms
	}
	return json.Marshal(out)
}

// OK reports whether every discovered file was processed and every graph
// operation applied.
func (r *Report) OK() bool {
	if len(r.Skipped) > 0 {
		return false
	}
	if r.Projection != nil && (r.Projection.FailedCount() > 0 || r.Projection.Canceled) {
		return false
	}
	return r.FactLog == nil || r.FactLog.Error == ""
}

const maxListed = 10

// PrintSummary writes a human-readable summary.
func (r *Report) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║         CODEGRAPH RUN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Root:        %-23s║\n", truncate(r.Root, 23))
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ SOURCE\n")
	fmt.Fprintf(w, "║   Discovered:  %d\n", r.Discovered)
	fmt.Fprintf(w, "║   Processed:   %d\n", r.Processed)
	fmt.Fprintf(w, "║   Skipped:     %d\n", len(r.Skipped))
	if r.Empty {
		fmt.Fprintf(w, "║   (no source files found)\n")
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ FACTS\n")
	fmt.Fprintf(w, "║   Functions:   %d\n", r.Counts.Functions)
	fmt.Fprintf(w, "║   Classes:     %d\n", r.Counts.Classes)
	fmt.Fprintf(w, "║   Imports:     %d\n", r.Counts.Imports)
	fmt.Fprintf(w, "║   Variables:   %d\n", r.Counts.Variables)
	if r.FactLog != nil {
		fmt.Fprintf(w, "║   Fact log:    %s\n", r.FactLog.Dir)
		if r.FactLog.Error != "" {
			fmt.Fprintf(w, "║   Fact log error: %s\n", r.FactLog.Error)
		}
	}
	if p := r.Projection; p != nil {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ GRAPH\n")
		fmt.Fprintf(w, "║   Planned:     %d\n", p.Planned)
		fmt.Fprintf(w, "║   Applied:     %d\n", p.Applied)
		fmt.Fprintf(w, "║   Failed:      %d\n", p.FailedCount())
		if p.Unlinked > 0 {
			fmt.Fprintf(w, "║   Unlinked:    %d\n", p.Unlinked)
		}
		if p.Canceled {
			fmt.Fprintf(w, "║   (canceled)\n")
		}
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ SKIPPED\n")
		for i, s := range r.Skipped {
			if i == maxListed {
				fmt.Fprintf(w, "║   … %d more\n", len(r.Skipped)-maxListed)
				break
			}
			fmt.Fprintf(w, "║   • [%s] %s\n", s.Kind, s.Path)
		}
	}
	if len(r.FailedOps) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for i, e := range r.FailedOps {
			if i == maxListed {
				fmt.Fprintf(w, "║   … %d more\n", len(r.FailedOps)-maxListed)
				break
			}
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return "…" + string(rs[len(rs)-n+1:])
}
