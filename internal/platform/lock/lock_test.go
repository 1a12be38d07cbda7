package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "reminders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "reminders", time.Minute); ok {
		t.Fatal("expected second lock to fail")
	}
	if _, ok, _ := l.TryLock(ctx, "remittance", time.Minute); !ok {
		t.Fatal("expected a different key to be lockable")
	}
	if err := l.Unlock(ctx, "reminders", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "reminders", time.Minute); !ok {
		t.Fatal("expected lock to be free after unlock")
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	token, _, _ := l.TryLock(ctx, "k", 30*time.Second)
	now = now.Add(31 * time.Second)

	if _, ok, _ := l.TryLock(ctx, "k", 30*time.Second); !ok {
		t.Fatal("expected expired lock to be reacquirable")
	}
	if err := l.Unlock(ctx, "k", token); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected stale token to get ErrNotHeld, got %v", err)
	}
}

func TestMemoryLocker_WrongToken(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	l.TryLock(ctx, "k", time.Minute)
	if err := l.Unlock(ctx, "k", "someone-else"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}
}

func TestWithLock_SingleRunner(t *testing.T) {
	l := NewMemoryLocker()
	var running, ran int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = WithLock(context.Background(), l, "batch", time.Minute, func(context.Context) error {
				if atomic.AddInt32(&running, 1) > 1 {
					t.Error("two holders ran concurrently")
				}
				atomic.AddInt32(&ran, 1)
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()
	if ran < 1 {
		t.Error("expected at least one runner")
	}
}

func TestWithLock_PropagatesError(t *testing.T) {
	l := NewMemoryLocker()
	boom := errors.New("boom")
	ran, err := WithLock(context.Background(), l, "k", time.Minute, func(context.Context) error { return boom })
	if !ran || !errors.Is(err, boom) {
		t.Errorf("expected ran=true err=boom, got ran=%v err=%v", ran, err)
	}
	if _, ok, _ := l.TryLock(context.Background(), "k", time.Minute); !ok {
		t.Error("expected lock released after fn error")
	}
}

func TestWithLock_Skipped(t *testing.T) {
	l := NewMemoryLocker()
	l.TryLock(context.Background(), "k", time.Minute)
	ran, err := WithLock(context.Background(), l, "k", time.Minute, func(context.Context) error {
		t.Error("fn must not run while lock is held")
		return nil
	})
	if ran || err != nil {
		t.Errorf("expected skip, got ran=%v err=%v", ran, err)
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient("not-a-url"); err == nil {
		t.Error("expected error for invalid url")
	}
	c, err := NewRedisClient("redis://localhost:6379/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Options().DB != 2 {
		t.Errorf("expected db 2, got %d", c.Options().DB)
	}
	_ = c.Close()
}
