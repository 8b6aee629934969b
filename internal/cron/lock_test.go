package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockIsExclusiveAndOwned(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	ctx := context.Background()

	a, err := NewRedisLock(store, "rl:lock:test:cron", "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	b, err := NewRedisLock(store, "rl:lock:test:cron", "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire to win, got %v %v", ok, err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("second instance must not acquire a held lock")
	}
	holder, err := b.Holder(ctx)
	if err != nil || !strings.HasPrefix(holder, "worker-a/") {
		t.Fatalf("expected holder worker-a, got %q (%v)", holder, err)
	}

	if err := b.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, ok := store.values["rl:lock:test:cron"]; !ok {
		t.Fatal("non-owner release must not delete the lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if holder, _ := a.Holder(ctx); holder != "" {
		t.Fatalf("expected lock to be free, held by %q", holder)
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", "w", time.Minute); err == nil {
		t.Fatal("expected missing client error")
	}
	if _, err := NewRedisLock(&memoryStore{}, "", "w", time.Minute); err == nil {
		t.Fatal("expected missing key error")
	}
}
