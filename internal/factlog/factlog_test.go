package factlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

func codebase(fns ...string) *facts.Codebase {
	ret := "int"
	ff := &facts.FileFacts{Path: "a.py", Imports: []string{"os"}}
	for _, fn := range fns {
		ff.Functions = append(ff.Functions, facts.Function{
			Name: fn, QualName: fn, File: "a.py",
			Parameters: []string{"x"}, ReturnAnnotation: &ret,
			Calls: []string{"g"}, Decorators: []string{}, UsedImports: []string{}, UsedVariables: []string{},
		})
	}
	ff.Classes = []facts.Class{{Name: "C", QualName: "C", File: "a.py", Methods: []string{}}}
	ff.Variables = []facts.Variable{{Name: "x", File: "a.py", ValueRepr: "integer(1)"}}
	return ff.Codebase()
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSnapshot, m)

	m, err = ParseMode("journal")
	require.NoError(t, err)
	assert.Equal(t, ModeJournal, m)

	_, err = ParseMode("append")
	assert.Error(t, err)
}

func TestWriter_SnapshotReplacesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, ModeSnapshot, nil)

	_, err := w.Write(codebase("f", "g"))
	require.NoError(t, err)
	_, err = w.Write(codebase("h"))
	require.NoError(t, err)

	got := lines(t, filepath.Join(dir, FunctionsFile))
	require.Len(t, got, 1)
	var fn facts.Function
	require.NoError(t, json.Unmarshal([]byte(got[0]), &fn))
	assert.Equal(t, "h", fn.Name)
	assert.Equal(t, []string{"g"}, fn.Calls)

	for _, name := range []string{ClassesFile, ImportsFile, VariablesFile, FilesFile} {
		assert.Len(t, lines(t, filepath.Join(dir, name)), 1, name)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.Name()[0] == '.', "temp file %s left behind", e.Name())
	}
}

func TestWriter_JournalAppendsWithDistinctRunIDs(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, ModeJournal, nil)
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	id1, err := w.Write(codebase("f"))
	require.NoError(t, err)
	id2, err := w.Write(codebase("g"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got := lines(t, filepath.Join(dir, FunctionsFile))
	require.Len(t, got, 2)
	var env Envelope[facts.Function]
	require.NoError(t, json.Unmarshal([]byte(got[1]), &env))
	assert.Equal(t, id2, env.RunID)
	assert.Equal(t, "g", env.Record.Name)
	assert.True(t, env.RecordedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.Len(t, lines(t, filepath.Join(dir, RunsFile)), 2)
}

func TestLoad_Snapshot(t *testing.T) {
	dir := t.TempDir()
	want := codebase("f", "g")
	_, err := NewWriter(dir, ModeSnapshot, nil).Write(want)
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, want.Counts(), got.Counts())
	assert.Equal(t, want.Functions, got.Functions)
	assert.Equal(t, want.Imports, got.Imports)
}

func TestLoad_JournalReturnsLatestRun(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, ModeJournal, nil)
	_, err := w.Write(codebase("f", "g"))
	require.NoError(t, err)
	_, err = w.Write(codebase("h"))
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, got.Functions, 1)
	assert.Equal(t, "h", got.Functions[0].Name)
	assert.Len(t, got.Files, 1)
}

func TestLoad_SnapshotAfterJournal(t *testing.T) {
	dir := t.TempDir()
	_, err := NewWriter(dir, ModeJournal, nil).Write(codebase("f"))
	require.NoError(t, err)
	_, err = NewWriter(dir, ModeSnapshot, nil).Write(codebase("g", "h"))
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, got.Functions, 2)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNoFactLog)
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FunctionsFile), []byte("{not json\n"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}
