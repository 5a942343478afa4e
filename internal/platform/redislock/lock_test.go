package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestTryAcquireIsMutuallyExclusive(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	var acquired int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			lease, err := locker.TryAcquire(ctx, "lock:irt-scheduler", 30*time.Second)
			if err != nil {
				t.Errorf("TryAcquire: %v", err)
				return
			}
			if lease != nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly one holder, got %d", acquired)
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	first, err := locker.TryAcquire(ctx, "lock:a", time.Second)
	if err != nil || first == nil {
		t.Fatalf("first acquire: lease=%v err=%v", first, err)
	}

	// Let the first lease expire and a second holder take over.
	mr.FastForward(2 * time.Second)
	second, err := locker.TryAcquire(ctx, "lock:a", time.Minute)
	if err != nil || second == nil {
		t.Fatalf("second acquire: lease=%v err=%v", second, err)
	}

	if err := first.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release: expected ErrNotHeld, got %v", err)
	}
	if !mr.Exists("lock:a") {
		t.Fatalf("stale release must not delete the new holder's key")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if mr.Exists("lock:a") {
		t.Fatalf("key should be gone after owner release")
	}
}

func TestTryAcquireValidatesInput(t *testing.T) {
	locker, _ := newLocker(t)
	if _, err := locker.TryAcquire(context.Background(), " ", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := locker.TryAcquire(context.Background(), "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
