package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/codegraph/internal/extract"
	"github.com/efebarandurmaz/codegraph/internal/factlog"
	"github.com/efebarandurmaz/codegraph/internal/graph"
	"github.com/efebarandurmaz/codegraph/internal/graph/memgraph"
	"github.com/efebarandurmaz/codegraph/internal/observability"
	"github.com/efebarandurmaz/codegraph/internal/source"
)

const (
	srcA = `import os

def helper():
    return os.getcwd()

def main():
    x = helper()
    print(x)
`
	srcB = `def helper():
    pass

class Repo:
    def save(self):
        helper()
`
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

type fixture struct {
	runner  *Runner
	store   *memgraph.Store
	metrics *observability.Metrics
	factDir string
	logs    *bytes.Buffer
}

// records decodes the JSON log lines written at level.
func (f *fixture) records(t *testing.T, level string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(f.logs.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec[slog.LevelKey] == level {
			out = append(out, rec)
		}
	}
	return out
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()
	store := memgraph.New()
	metrics := observability.NewMetrics()
	factDir := filepath.Join(t.TempDir(), "facts")
	logs := &bytes.Buffer{}
	r := New(Config{
		Walker:    source.NewWalker(source.WalkerConfig{Root: root}),
		Extractor: extract.New(extract.Options{}),
		FactLog:   factlog.NewWriter(factDir, factlog.ModeSnapshot, nil),
		Projector: graph.NewProjector(store, graph.PlanOptions{ResolveCrossFile: true}, nil),
		Metrics:   metrics,
		Workers:   4,
		Logger:    slog.New(slog.NewJSONHandler(logs, nil)),
	})
	return &fixture{runner: r, store: store, metrics: metrics, factDir: factDir, logs: logs}
}

func TestRun_EndToEnd(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py":       srcA,
		"pkg/b.py":   srcB,
		"bad.py":     "def f(:\n",
		"nul.py":     "x = 1\x00\n",
		"readme.txt": "not python",
	})
	fx := newFixture(t, root)

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Discovered)
	assert.Equal(t, 2, rep.Processed)
	require.Len(t, rep.Skipped, 2)
	assert.Equal(t, filepath.Join(root, "bad.py"), rep.Skipped[0].Path)
	assert.Equal(t, SkipParse, rep.Skipped[0].Kind)
	assert.Equal(t, filepath.Join(root, "nul.py"), rep.Skipped[1].Path)
	assert.Equal(t, SkipDecode, rep.Skipped[1].Kind)
	assert.False(t, rep.Empty)
	assert.False(t, rep.OK())

	assert.Equal(t, 2, rep.Counts.Files)
	assert.Equal(t, 4, rep.Counts.Functions)
	assert.Equal(t, 1, rep.Counts.Classes)

	a := filepath.Join(root, "a.py")
	b := filepath.Join(root, "pkg", "b.py")
	require.NotNil(t, rep.Projection)
	assert.Zero(t, rep.Projection.FailedCount())
	assert.True(t, fx.store.HasEdge(graph.FunctionRef(a, "main"), graph.RelCalls, graph.FunctionRef(a, "helper")))
	assert.True(t, fx.store.HasEdge(graph.FunctionRef(b, "Repo.save"), graph.RelCalls, graph.FunctionRef(b, "helper")))
	assert.True(t, fx.store.HasEdge(graph.FunctionRef(a, "helper"), graph.RelUsesImport, graph.ImportRef("os")))
	assert.True(t, fx.store.HasEdge(graph.ClassRef(b, "Repo"), graph.RelHasMethod, graph.FunctionRef(b, "Repo.save")))

	file, ok := fx.store.Node(graph.FileRef(a))
	require.True(t, ok)
	assert.Equal(t, "utf-8", file.Props["encoding"])
	assert.NotEmpty(t, file.Props["hash"])

	assert.Equal(t, float64(2), testutil.ToFloat64(fx.metrics.FilesProcessed))
	assert.Equal(t, float64(1), testutil.ToFloat64(fx.metrics.FilesSkipped.WithLabelValues("parse")))
	assert.Equal(t, float64(rep.Projection.Applied), testutil.ToFloat64(fx.metrics.GraphOps.WithLabelValues("applied")))

	require.NotNil(t, rep.FactLog)
	assert.Empty(t, rep.FactLog.Error)
	cb, err := factlog.Load(fx.factDir)
	require.NoError(t, err)
	assert.Equal(t, rep.Counts, cb.Counts())

	skipped := map[string]string{}
	for _, rec := range fx.records(t, "ERROR") {
		if rec[slog.MessageKey] == "file skipped" {
			skipped[rec["file"].(string)] = rec["kind"].(string)
		}
	}
	assert.Equal(t, map[string]string{
		filepath.Join(root, "bad.py"): "parse",
		filepath.Join(root, "nul.py"): "decode",
	}, skipped)
}

func TestRun_IsIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA, "b.py": srcB})
	fx := newFixture(t, root)

	_, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	nodes, edges := fx.store.NodeCount(""), fx.store.EdgeCount("")

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, nodes, fx.store.NodeCount(""))
	assert.Equal(t, edges, fx.store.EdgeCount(""))
}

func TestRun_EmptyTree(t *testing.T) {
	root := writeTree(t, map[string]string{"notes.md": "# hi"})
	fx := newFixture(t, root)

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Empty)
	assert.Zero(t, rep.Discovered)
	assert.Nil(t, rep.Projection)
	assert.Nil(t, rep.FactLog)
	assert.Zero(t, fx.store.NodeCount(""))

	warns := fx.records(t, "WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, "no source files found", warns[0][slog.MessageKey])
	assert.Empty(t, fx.records(t, "ERROR"))
}

func TestRun_MissingRoot(t *testing.T) {
	fx := newFixture(t, filepath.Join(t.TempDir(), "missing"))

	_, err := fx.runner.Run(context.Background())
	var pnf *source.PathNotFoundError
	require.ErrorAs(t, err, &pnf)
}

func TestRun_Canceled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA})
	fx := newFixture(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fx.store.NodeCount(""))
}

func TestRun_ParseOnly(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA})
	r := New(Config{Walker: source.NewWalker(source.WalkerConfig{Root: root})})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.Nil(t, rep.Projection)
	assert.Nil(t, rep.FactLog)
}

func TestRun_ProjectionFailuresAreReported(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA})
	fx := newFixture(t, root)
	fx.store.FailOn = func(op graph.Operation) error {
		if op.Type == graph.RelImports {
			return errors.New("constraint violated")
		}
		return nil
	}

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Projection.FailedCount())
	require.Len(t, rep.FailedOps, 1)
	assert.Contains(t, rep.FailedOps[0], "constraint violated")
	assert.False(t, rep.OK())
}

func TestRun_FactLogFailureDoesNotStopProjection(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA})
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	store := memgraph.New()
	r := New(Config{
		Walker:    source.NewWalker(source.WalkerConfig{Root: root}),
		FactLog:   factlog.NewWriter(filepath.Join(blocker, "facts"), factlog.ModeSnapshot, nil),
		Projector: graph.NewProjector(store, graph.PlanOptions{}, nil),
	})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.FactLog)
	assert.NotEmpty(t, rep.FactLog.Error)
	assert.NotZero(t, store.NodeCount(graph.LabelFunction))
}

func TestReport_Output(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": srcA, "bad.py": "def f(:\n"})
	fx := newFixture(t, root)
	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	rep.PrintSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "CODEGRAPH RUN REPORT")
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "[parse]")
	assert.Contains(t, out, "Functions:   2")

	data, err := rep.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(2), decoded["discovered"])
	assert.Len(t, decoded["skipped"], 1)

	wantMS := float64(rep.Duration.Milliseconds())
	assert.Equal(t, wantMS, decoded["duration_ms"])
	assert.Less(t, decoded["duration_ms"].(float64), float64(60_000))
	proj, ok := decoded["projection"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(rep.Projection.Duration.Milliseconds()), proj["duration_ms"])
	assert.Equal(t, []any{}, proj["failed_operations"])
	assert.NotContains(t, proj, "duration")
}
