package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShutdownHandler_HooksRunInPriorityOrder(t *testing.T) {
	h := NewShutdownHandler(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	h.Register(LogShutdownHook(func() error { return record("log")(context.Background()) }))
	h.Register(StoreShutdownHook(record("store")))
	h.Register(HTTPServerShutdownHook("health", record("http")))
	h.Register(TracingShutdownHook(record("tracing")))
	h.Register(MetricsShutdownHook(record("metrics")))

	h.Start(context.Background())
	h.Shutdown()

	want := []string{"http", "store", "tracing", "metrics", "log"}
	if len(order) != len(want) {
		t.Fatalf("expected %d hooks to run, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook %d: expected %s, got %s (order %v)", i, want[i], order[i], order)
		}
	}
}

func TestShutdownHandler_CancelsContext(t *testing.T) {
	h := NewShutdownHandler(nil)
	ctx := h.Start(context.Background())

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before shutdown")
	default:
	}

	h.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after shutdown")
	}
}

func TestShutdownHandler_HookErrorDoesNotStopOthers(t *testing.T) {
	h := NewShutdownHandler(nil)
	ran := false
	h.RegisterHook("broken", 1, func(context.Context) error { return errors.New("close failed") })
	h.RegisterHook("after", 2, func(context.Context) error {
		ran = true
		return nil
	})

	h.Shutdown()
	if !ran {
		t.Fatal("hook after a failing hook did not run")
	}
}

func TestShutdownHandler_ShutdownIsIdempotent(t *testing.T) {
	h := NewShutdownHandler(nil)
	calls := 0
	h.RegisterHook("count", 1, func(context.Context) error {
		calls++
		return nil
	})

	h.Shutdown()
	h.Shutdown()
	if calls != 1 {
		t.Fatalf("expected hooks to run once, ran %d times", calls)
	}
	if !h.WaitWithTimeout(time.Second) {
		t.Fatal("Done not closed after shutdown")
	}
}

func TestShutdownHandler_SecondStartReturnsParent(t *testing.T) {
	h := NewShutdownHandler(nil)
	parent := context.Background()
	first := h.Start(parent)
	if first == parent {
		t.Fatal("first Start should derive a new context")
	}
	if second := h.Start(parent); second != parent {
		t.Fatal("second Start should return parent")
	}
	h.Shutdown()
}

func TestShutdownHandler_HookTimeout(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 20 * time.Millisecond})
	var hookErr error
	h.RegisterHook("slow", 1, func(ctx context.Context) error {
		<-ctx.Done()
		hookErr = ctx.Err()
		return hookErr
	})

	h.Shutdown()
	if !errors.Is(hookErr, context.DeadlineExceeded) {
		t.Fatalf("expected hook context deadline, got %v", hookErr)
	}
}

func TestShutdownHandler_WaitWithTimeoutBeforeShutdown(t *testing.T) {
	h := NewShutdownHandler(nil)
	if h.WaitWithTimeout(10 * time.Millisecond) {
		t.Fatal("expected timeout before shutdown")
	}
}
