// Package factlog writes codebase facts as JSON Lines, one file per
// category, and reads them back.
package factlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// Mode selects how repeated writes interact.
type Mode string

const (
	// ModeSnapshot replaces the previous contents atomically.
	ModeSnapshot Mode = "snapshot"
	// ModeJournal appends; every record carries the run that wrote it.
	ModeJournal Mode = "journal"
)

// File names within the log directory.
const (
	FilesFile     = "files.jsonl"
	FunctionsFile = "functions.jsonl"
	ClassesFile   = "classes.jsonl"
	ImportsFile   = "imports.jsonl"
	VariablesFile = "variables.jsonl"
	RunsFile      = "runs.jsonl"
)

// ParseMode validates a mode name. The empty string selects snapshot.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSnapshot:
		return ModeSnapshot, nil
	case ModeJournal:
		return ModeJournal, nil
	}
	return "", fmt.Errorf("unknown fact log mode %q (want %q or %q)", s, ModeSnapshot, ModeJournal)
}

// Envelope wraps a journal record.
type Envelope[T any] struct {
	RunID      string    `json:"run_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Record     T         `json:"record"`
}

// Run is one line of the journal run index.
type Run struct {
	RunID      string       `json:"run_id"`
	RecordedAt time.Time    `json:"recorded_at"`
	Counts     facts.Counts `json:"counts"`
}

// Writer writes fact logs to a directory.
type Writer struct {
	dir    string
	mode   Mode
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewWriter creates a Writer. The directory is created on first write.
func NewWriter(dir string, mode Mode, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, mode: mode, logger: logger, now: time.Now, newID: uuid.NewString}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write records cb. It returns the run id in journal mode and "" otherwise.
func (w *Writer) Write(cb *facts.Codebase) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create fact log dir: %w", err)
	}
	if w.mode == ModeJournal {
		return w.journal(cb)
	}
	if err := w.snapshot(cb); err != nil {
		return "", err
	}
	w.logger.Info("fact log written", "dir", w.dir, "mode", w.mode)
	return "", nil
}

func (w *Writer) snapshot(cb *facts.Codebase) error {
	writes := []struct {
		name string
		fn   func(*json.Encoder) error
	}{
		{FilesFile, each(cb.Files)},
		{FunctionsFile, each(cb.Functions)},
		{ClassesFile, each(cb.Classes)},
		{ImportsFile, each(cb.Imports)},
		{VariablesFile, each(cb.Variables)},
	}
	for _, wr := range writes {
		if err := w.replace(wr.name, wr.fn); err != nil {
			return err
		}
	}
	// A snapshot supersedes any journal previously kept here.
	if err := os.Remove(filepath.Join(w.dir, RunsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", RunsFile, err)
	}
	return nil
}

// replace writes name through a temp file in the same directory and renames
// it into place.
func (w *Writer) replace(name string, fn func(*json.Encoder) error) error {
	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fn(json.NewEncoder(bw)); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (w *Writer) journal(cb *facts.Codebase) (string, error) {
	runID := w.newID()
	at := w.now().UTC()

	appends := []struct {
		name string
		fn   func(*json.Encoder) error
	}{
		{FilesFile, eachWrapped(runID, at, cb.Files)},
		{FunctionsFile, eachWrapped(runID, at, cb.Functions)},
		{ClassesFile, eachWrapped(runID, at, cb.Classes)},
		{ImportsFile, eachWrapped(runID, at, cb.Imports)},
		{VariablesFile, eachWrapped(runID, at, cb.Variables)},
		// The run index goes last so a reader never sees a run whose
		// records are incomplete.
		{RunsFile, func(enc *json.Encoder) error {
			return enc.Encode(Run{RunID: runID, RecordedAt: at, Counts: cb.Counts()})
		}},
	}
	for _, a := range appends {
		if err := w.append(a.name, a.fn); err != nil {
			return "", err
		}
	}
	w.logger.Info("fact log appended", "dir", w.dir, "run_id", runID)
	return runID, nil
}

func (w *Writer) append(name string, fn func(*json.Encoder) error) error {
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(json.NewEncoder(bw)); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	return f.Close()
}

func each[T any](records []T) func(*json.Encoder) error {
	return func(enc *json.Encoder) error {
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
}

func eachWrapped[T any](runID string, at time.Time, records []T) func(*json.Encoder) error {
	return func(enc *json.Encoder) error {
		for _, r := range records {
			if err := enc.Encode(Envelope[T]{RunID: runID, RecordedAt: at, Record: r}); err != nil {
				return err
			}
		}
		return nil
	}
}

// ErrNoFactLog is returned by Load when dir holds no fact log.
var ErrNoFactLog = errors.New("no fact log")

// Load reads a fact log back. A journal yields its most recent run.
func Load(dir string) (*facts.Codebase, error) {
	runs, err := readAll[Run](filepath.Join(dir, RunsFile))
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		return loadRun(dir, runs[len(runs)-1].RunID)
	}
	if _, err := os.Stat(filepath.Join(dir, FunctionsFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoFactLog, dir)
		}
		return nil, err
	}

	cb := facts.NewCodebase()
	if cb.Files, err = readInto(filepath.Join(dir, FilesFile), cb.Files); err != nil {
		return nil, err
	}
	if cb.Functions, err = readInto(filepath.Join(dir, FunctionsFile), cb.Functions); err != nil {
		return nil, err
	}
	if cb.Classes, err = readInto(filepath.Join(dir, ClassesFile), cb.Classes); err != nil {
		return nil, err
	}
	if cb.Imports, err = readInto(filepath.Join(dir, ImportsFile), cb.Imports); err != nil {
		return nil, err
	}
	if cb.Variables, err = readInto(filepath.Join(dir, VariablesFile), cb.Variables); err != nil {
		return nil, err
	}
	return cb, nil
}

func loadRun(dir, runID string) (*facts.Codebase, error) {
	cb := facts.NewCodebase()
	var err error
	if cb.Files, err = readRun(filepath.Join(dir, FilesFile), runID, cb.Files); err != nil {
		return nil, err
	}
	if cb.Functions, err = readRun(filepath.Join(dir, FunctionsFile), runID, cb.Functions); err != nil {
		return nil, err
	}
	if cb.Classes, err = readRun(filepath.Join(dir, ClassesFile), runID, cb.Classes); err != nil {
		return nil, err
	}
	if cb.Imports, err = readRun(filepath.Join(dir, ImportsFile), runID, cb.Imports); err != nil {
		return nil, err
	}
	if cb.Variables, err = readRun(filepath.Join(dir, VariablesFile), runID, cb.Variables); err != nil {
		return nil, err
	}
	return cb, nil
}

func readInto[T any](path string, dst []T) ([]T, error) {
	recs, err := readAll[T](path)
	if err != nil {
		return nil, err
	}
	return append(dst, recs...), nil
}

func readRun[T any](path, runID string, dst []T) ([]T, error) {
	envs, err := readAll[Envelope[T]](path)
	if err != nil {
		return nil, err
	}
	for _, e := range envs {
		if e.RunID == runID {
			dst = append(dst, e.Record)
		}
	}
	return dst, nil
}

// readAll decodes every line of path. A missing file yields no records.
func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		out = append(out, rec)
	}
}
