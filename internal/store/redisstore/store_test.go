package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

// openTestStore connects to REDIS_TEST_ADDR, or to an in-process miniredis
// when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	s := New(addr, os.Getenv("REDIS_TEST_PASSWORD"), 0)
	s.prefix = "test:" + uuid.NewString() + ":"
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReserveCompleteRelease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prior, ok, err := s.Reserve(ctx, "1:k")
	if err != nil || !ok || prior != "" {
		t.Fatalf("first reserve = (%q, %v, %v), want (\"\", true, nil)", prior, ok, err)
	}

	prior, ok, err = s.Reserve(ctx, "1:k")
	if err != nil || ok || prior != "" {
		t.Fatalf("in-flight reserve = (%q, %v, %v), want (\"\", false, nil)", prior, ok, err)
	}

	if err := s.Complete(ctx, "1:k", "42"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	prior, ok, err = s.Reserve(ctx, "1:k")
	if err != nil || ok || prior != "42" {
		t.Fatalf("replay reserve = (%q, %v, %v), want (\"42\", false, nil)", prior, ok, err)
	}

	if err := s.Release(ctx, "1:k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := s.Reserve(ctx, "1:k"); err != nil || !ok {
		t.Fatalf("reserve after release = (%v, %v), want ok", ok, err)
	}
	_ = s.Release(ctx, "1:k")
}

func TestReserveTTL(t *testing.T) {
	m := miniredis.RunT(t)
	s := New(m.Addr(), "", 0)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if _, ok, err := s.Reserve(ctx, "2:k"); err != nil || !ok {
		t.Fatalf("reserve = (%v, %v), want ok", ok, err)
	}
	if got := m.TTL(s.key("2:k")); got != defaultTTL {
		t.Fatalf("ttl = %v, want %v", got, defaultTTL)
	}
	if err := s.Complete(ctx, "2:k", "7"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := m.TTL(s.key("2:k")); got != defaultTTL {
		t.Fatalf("ttl after complete = %v, want %v", got, defaultTTL)
	}

	// an expired record no longer blocks a new request
	m.FastForward(defaultTTL + time.Second)
	prior, ok, err := s.Reserve(ctx, "2:k")
	if err != nil || !ok || prior != "" {
		t.Fatalf("reserve after expiry = (%q, %v, %v), want (\"\", true, nil)", prior, ok, err)
	}
}

func TestReserveRedisDown(t *testing.T) {
	m := miniredis.RunT(t)
	s := New(m.Addr(), "", 0)
	t.Cleanup(func() { _ = s.Close() })
	m.Close()

	if _, ok, err := s.Reserve(context.Background(), "3:k"); err == nil || ok {
		t.Fatalf("reserve with redis down = (%v, %v), want error", ok, err)
	}
}

func TestKeyPrefix(t *testing.T) {
	s := NewWithClient(nil)
	if got := s.key("3:abc"); got != "idem:create-message:3:abc" {
		t.Fatalf("key = %q", got)
	}
}
