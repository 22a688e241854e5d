package redis

import (
	"context"
	"testing"
	"time"
)

func TestLocker_Exclusive(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client)
	ctx := context.Background()

	lock, ok, err := locker.Acquire(ctx, "payout:method:bank", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	if _, ok, err := locker.Acquire(ctx, "payout:method:bank", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if _, ok, err := locker.Acquire(ctx, "payout:method:paypal", time.Minute); err != nil || !ok {
		t.Fatalf("other method should be free: ok=%v err=%v", ok, err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, ok, err := locker.Acquire(ctx, "payout:method:bank", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release failed: ok=%v err=%v", ok, err)
	}
}

func TestLocker_ReleaseKeepsSuccessorLock(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client)
	ctx := context.Background()

	stale, ok, err := locker.Acquire(ctx, "job", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, err := locker.Acquire(ctx, "job", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after expiry failed: ok=%v err=%v", ok, err)
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}

	if !mr.Exists("lock:job") {
		t.Fatalf("stale holder released the successor's lock")
	}
}
