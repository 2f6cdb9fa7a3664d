// Package source discovers and decodes the Python files of a code tree.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions are the file extensions walked when none are configured.
var DefaultExtensions = []string{".py"}

// ignoredDirs are directory names never descended into.
var ignoredDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".idea": true, ".vscode": true,
	"__pycache__": true, ".mypy_cache": true, ".pytest_cache": true, ".ruff_cache": true,
	".tox": true, ".nox": true, ".eggs": true, ".venv": true, "venv": true,
	"site-packages": true, "node_modules": true,
}

// PathNotFoundError is returned when the walk root does not exist.
type PathNotFoundError struct {
	Path string
	Err  error
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

func (e *PathNotFoundError) Unwrap() error { return e.Err }

// WalkerConfig configures a Walker.
type WalkerConfig struct {
	Root       string
	Extensions []string // e.g. ".py"; DefaultExtensions when empty
	Exclude    []string // glob patterns matched against base names and root-relative paths
}

// Walker enumerates source files under a root directory.
type Walker struct {
	root    string
	exts    map[string]bool
	exclude []string
}

// NewWalker creates a walker for cfg.
func NewWalker(cfg WalkerConfig) *Walker {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return &Walker{root: cfg.Root, exts: ExtensionSet(exts), exclude: cfg.Exclude}
}

// ExtensionSet normalizes file extensions to the form filepath.Ext returns:
// surrounding space trimmed and a leading dot added. Blank entries are
// dropped.
func ExtensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// Root returns the directory being walked.
func (w *Walker) Root() string { return w.root }

// Files yields matching file paths in lexical order. Each range over the
// returned sequence walks the tree again. A missing root yields a single
// *PathNotFoundError; an unreadable entry yields a *ReadError and the walk
// goes on.
func (w *Walker) Files(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := os.Stat(w.root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = &PathNotFoundError{Path: w.root, Err: err}
			}
			yield("", err)
			return
		}
		if !info.IsDir() {
			if w.matches(w.root) {
				yield(w.root, nil)
			}
			return
		}

		stopped := false
		walkErr := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err != nil {
				// Unreadable subtrees are reported but do not end the walk.
				if p == w.root {
					return err
				}
				if !yield(p, &ReadError{Path: p, Err: err}) {
					stopped = true
					return fs.SkipAll
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(w.root, p)
			if d.IsDir() {
				if p != w.root && w.skipDir(d.Name(), rel) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !w.matches(p) || w.excluded(d.Name(), rel) {
				return nil
			}
			if !yield(p, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield("", walkErr)
		}
	}
}

// Collect drains Files into a slice. The first error ends collection.
func (w *Walker) Collect(ctx context.Context) ([]string, error) {
	var out []string
	for p, err := range w.Files(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (w *Walker) matches(p string) bool {
	return w.exts[filepath.Ext(p)]
}

func (w *Walker) skipDir(name, rel string) bool {
	return IgnoredDir(name) || w.excluded(name, rel)
}

// IgnoredDir reports whether a directory name is never descended into.
func IgnoredDir(name string) bool {
	return ignoredDirs[name]
}

func (w *Walker) excluded(name, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
