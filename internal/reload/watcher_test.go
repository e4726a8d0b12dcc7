package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "initial")

	w := NewWatcher(WatcherConfig{ConfigPath: path, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeFile(t, path, "modified")

	select {
	case evt := <-w.Events():
		if evt.ConfigPath != path {
			t.Errorf("got config path %q, want %q", evt.ConfigPath, path)
		}
		if len(evt.Digest) != 64 {
			t.Errorf("digest %q is not a hex sha256", evt.Digest)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file change event")
	}
}

func TestWatcher_IgnoresIdenticalRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "same")

	w := NewWatcher(WatcherConfig{ConfigPath: path, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeFile(t, path, "same")

	select {
	case evt := <-w.Events():
		t.Errorf("unexpected event: %+v", evt)
	case <-ctx.Done():
	}
}

func TestWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "data")

	w := NewWatcher(WatcherConfig{ConfigPath: path, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "data")

	w := NewWatcher(WatcherConfig{ConfigPath: path, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	w := NewWatcher(WatcherConfig{ConfigPath: "/any/path"})

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop before Start deadlocked")
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	w := NewWatcher(WatcherConfig{
		ConfigPath:   "/nonexistent/file.yaml",
		PollInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case evt := <-w.Events():
		t.Errorf("unexpected event: %+v", evt)
	case <-ctx.Done():
	}
}
