package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"relowatch/models"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(client, RedisConfig{
		Prefix:     "test:",
		TTL:        time.Minute,
		RetryDelay: 5 * time.Millisecond,
		MaxRetries: 3,
	})
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	release, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !mr.Exists("test:site-1") {
		t.Fatalf("expected lock key to be set")
	}
	if ttl := mr.TTL("test:site-1"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", ttl)
	}

	release()
	if mr.Exists("test:site-1") {
		t.Fatalf("expected lock key removed on release")
	}

	release, err = l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	release()
}

func TestRedisLockerHeldKeyIsInProgress(t *testing.T) {
	l, _ := newTestRedisLocker(t)

	release, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	_, err = l.Acquire(context.Background(), "site-1")
	if !errors.Is(err, models.ErrScrapeInProgress) {
		t.Fatalf("expected ErrScrapeInProgress, got %v", err)
	}

	other, err := l.Acquire(context.Background(), "site-2")
	if err != nil {
		t.Fatalf("other key must not be blocked: %v", err)
	}
	other()
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	l, _ := newTestRedisLocker(t)
	l.cfg.MaxRetries = 50

	release, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	time.AfterFunc(20*time.Millisecond, release)

	second, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	second()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	release, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// the lock expired and another process took it over
	mr.FastForward(2 * time.Minute)
	if mr.Exists("test:site-1") {
		t.Fatalf("expected lock to expire")
	}
	mr.Set("test:site-1", "someone-else")

	release()
	got, err := mr.Get("test:site-1")
	if err != nil || got != "someone-else" {
		t.Fatalf("release removed a lock it did not own: %q %v", got, err)
	}
}

func TestRedisLockerCanceledContext(t *testing.T) {
	l, _ := newTestRedisLocker(t)
	l.cfg.MaxRetries = 1000

	release, err := l.Acquire(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "site-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
