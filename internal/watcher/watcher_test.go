package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batches struct {
	mu  sync.Mutex
	all [][]string
}

func (b *batches) handle(_ context.Context, paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, paths)
}

func (b *batches) flat() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, batch := range b.all {
		out = append(out, batch...)
	}
	return out
}

func start(t *testing.T, cfg Config) *batches {
	t.Helper()
	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	b := &batches{}
	go func() { done <- w.Run(ctx, b.handle) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return b
}

func TestWatcher_ReportsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	b := start(t, Config{Root: root, Extensions: []string{".py"}, Debounce: 50 * time.Millisecond})

	py := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(py, []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	require.Eventually(t, func() bool { return len(b.flat()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	for _, p := range b.flat() {
		assert.Equal(t, py, p)
	}
}

func TestWatcher_ExtensionWithoutDot(t *testing.T) {
	root := t.TempDir()
	b := start(t, Config{Root: root, Extensions: []string{" py "}, Debounce: 50 * time.Millisecond})

	py := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(py, []byte("x = 1\n"), 0o644))

	require.Eventually(t, func() bool { return len(b.flat()) > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, b.flat(), py)
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	root := t.TempDir()
	b := start(t, Config{Root: root, Extensions: []string{".py"}, Debounce: 200 * time.Millisecond})

	py := filepath.Join(root, "a.py")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(py, []byte("x = 1\n"), 0o644))
	}

	require.Eventually(t, func() bool { return len(b.flat()) > 0 }, 3*time.Second, 20*time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.all, 1)
	assert.Equal(t, []string{py}, b.all[0])
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	b := start(t, Config{Root: root, Extensions: []string{".py"}, Debounce: 50 * time.Millisecond})

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	py := filepath.Join(sub, "mod.py")
	require.NoError(t, os.WriteFile(py, []byte("def f(): pass\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range b.flat() {
			if p == py {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoredDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "__pycache__"), 0o755))
	b := start(t, Config{
		Root:       root,
		Extensions: []string{".py"},
		Debounce:   50 * time.Millisecond,
		IgnoreDir:  func(name string) bool { return name == "__pycache__" },
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "__pycache__", "x.py"), []byte(""), 0o644))
	keep := filepath.Join(root, "keep.py")
	require.NoError(t, os.WriteFile(keep, []byte(""), 0o644))

	require.Eventually(t, func() bool { return len(b.flat()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	for _, p := range b.flat() {
		assert.Equal(t, keep, p)
	}
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(Config{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
