package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{DataWritesPerMin: 5})

	for i := range 5 {
		if err := rl.Allow(KindDataWrite, "1"); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}

	if err := rl.Allow(KindDataWrite, "1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{TriggeredRunsPerMin: 1})

	if err := rl.Allow(KindTriggeredRun, "1"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow(KindTriggeredRun, "2"); err != nil {
		t.Fatalf("app 2 should have its own bucket: %v", err)
	}
	if err := rl.Allow(KindTriggeredRun, "1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for app 1, got %v", err)
	}
	if err := rl.Allow(KindDataWrite, "1"); err != nil {
		t.Fatalf("kinds should not share buckets: %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{DataWritesPerMin: 2})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindDataWrite, "a")
	_ = rl.Allow(KindDataWrite, "a")

	if err := rl.Allow(KindDataWrite, "a"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	now = now.Add(61 * time.Second)

	if err := rl.Allow(KindDataWrite, "a"); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_UnknownKind(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	if err := rl.AllowN("unknown_kind", "x", 999); err != nil {
		t.Fatalf("expected nil for unknown kind, got %v", err)
	}
}

func TestRateLimiter_AllowN_AllOrNothing(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{TriggeredRunsPerMin: 5})

	if err := rl.AllowN(KindTriggeredRun, "a", 4); err != nil {
		t.Fatal(err)
	}
	if err := rl.AllowN(KindTriggeredRun, "a", 2); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := rl.Allow(KindTriggeredRun, "a"); err != nil {
		t.Fatalf("rejected AllowN must not consume budget: %v", err)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	if rl.config.DataWritesPerMin != 120 {
		t.Errorf("default DataWritesPerMin = %d, want 120", rl.config.DataWritesPerMin)
	}
	if rl.config.TriggeredRunsPerMin != 60 {
		t.Errorf("default TriggeredRunsPerMin = %d, want 60", rl.config.TriggeredRunsPerMin)
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindDataWrite, "a")
	_ = rl.Allow(KindDataWrite, "b")
	now = now.Add(2 * time.Minute)
	_ = rl.Allow(KindDataWrite, "b")

	rl.Prune()

	if len(rl.buckets) != 1 {
		t.Fatalf("buckets after prune = %d, want 1", len(rl.buckets))
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{DataWritesPerMin: 50})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(KindDataWrite, "a") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed = %d, want 50", allowed)
	}
}

func TestRateLimiter_SetLimits(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{DataWritesPerMin: 1})
	if err := rl.Allow(KindDataWrite, "1"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow(KindDataWrite, "1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	rl.SetLimits(RateLimitConfig{DataWritesPerMin: 3})
	if got := rl.Limits(); got.DataWritesPerMin != 3 || got.TriggeredRunsPerMin != 60 {
		t.Fatalf("Limits() = %+v", got)
	}
	for i := range 2 {
		if err := rl.Allow(KindDataWrite, "1"); err != nil {
			t.Fatalf("Allow(%d) after raise: %v", i, err)
		}
	}
	if err := rl.Allow(KindDataWrite, "1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited at new limit, got %v", err)
	}
}
