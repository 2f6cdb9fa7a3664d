// Package watcher reports batches of changed source files under a tree.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/efebarandurmaz/codegraph/internal/source"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	Root       string
	Extensions []string
	Debounce   time.Duration
	// IgnoreDir reports directory names that are neither watched nor walked.
	IgnoreDir func(name string) bool
	Logger    *slog.Logger
}

// ChangeHandler receives the sorted, de-duplicated paths changed during
// one quiet period.
type ChangeHandler func(ctx context.Context, paths []string)

// Watcher watches a directory tree with fsnotify.
type Watcher struct {
	root      string
	exts      map[string]bool
	debounce  time.Duration
	ignoreDir func(string) bool
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	found     chan string
}

// New creates a watcher and registers every directory under cfg.Root.
// Directories created later are added as they appear.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := &Watcher{
		root:      cfg.Root,
		exts:      source.ExtensionSet(cfg.Extensions),
		debounce:  cfg.Debounce,
		ignoreDir: cfg.IgnoreDir,
		logger:    cfg.Logger,
		fsw:       fsw,
		found:     make(chan string, 64),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.ignoreDir == nil {
		w.ignoreDir = func(string) bool { return false }
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if _, err := w.addTree(cfg.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers change batches to fn until ctx is canceled. fn runs on the
// watcher goroutine, so events arriving during a slow run are coalesced
// into the next batch.
func (w *Watcher) Run(ctx context.Context, fn ChangeHandler) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time
	mark := func(path string) {
		pending[path] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && w.isDir(event.Name) {
				files, err := w.addTree(event.Name)
				if err != nil {
					w.logger.Warn("watch new directory", "path", event.Name, "error", err)
				}
				for _, f := range files {
					mark(f)
				}
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.matches(event.Name) {
				mark(event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timerC:
			timerC = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			w.logger.Debug("source change detected", "files", len(paths))
			fn(ctx, paths)
		}
	}
}

// addTree watches dir and its subdirectories, returning the matching
// files already present in them.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if w.matches(p) {
				files = append(files, p)
			}
			return nil
		}
		if p != dir && w.ignoreDir(d.Name()) {
			return fs.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) matches(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[filepath.Ext(path)]
}

func (w *Watcher) isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir() && !w.ignoreDir(filepath.Base(path))
}
