package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newClockedCache(start time.Time) (*Cache, *time.Time) {
	now := start
	c := NewCache()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheServesWithinTTL(t *testing.T) {
	c, _ := newClockedCache(time.Unix(1000, 0))

	fetches := 0
	fetch := func(context.Context) ([]byte, error) {
		fetches++
		return []byte(`{"feed":[1,2]}`), nil
	}

	for i := 0; i < 2; i++ {
		got, err := c.GetOrFetch(context.Background(), "feed:all", 30*time.Second, fetch)
		if err != nil {
			t.Fatalf("GetOrFetch: %v", err)
		}
		if string(got) != `{"feed":[1,2]}` {
			t.Errorf("payload = %q", got)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (second call within TTL must hit the cache)", fetches)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c, now := newClockedCache(time.Unix(1000, 0))

	fetches := 0
	fetch := func(context.Context) ([]byte, error) {
		fetches++
		return []byte("v"), nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", 30*time.Second, fetch); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(31 * time.Second)
	if _, err := c.GetOrFetch(context.Background(), "k", 30*time.Second, fetch); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 (entry past TTL must be refetched)", fetches)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c, _ := newClockedCache(time.Unix(1000, 0))

	fetches := 0
	fetch := func(context.Context) ([]byte, error) {
		fetches++
		return []byte("v"), nil
	}

	c.GetOrFetch(context.Background(), "a", time.Minute, fetch)
	c.GetOrFetch(context.Background(), "b", time.Minute, fetch)
	c.Invalidate("a")
	c.GetOrFetch(context.Background(), "a", time.Minute, fetch)
	c.GetOrFetch(context.Background(), "b", time.Minute, fetch)
	if fetches != 3 {
		t.Errorf("fetches = %d, want 3 (only the invalidated key refetches)", fetches)
	}

	c.InvalidateAll()
	c.GetOrFetch(context.Background(), "b", time.Minute, fetch)
	if fetches != 4 {
		t.Errorf("fetches = %d, want 4 after InvalidateAll", fetches)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	c, _ := newClockedCache(time.Unix(1000, 0))

	fetches := 0
	failing := func(context.Context) ([]byte, error) {
		fetches++
		return nil, errors.New("backend down")
	}

	if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, failing); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, failing); err == nil {
		t.Fatal("expected error")
	}
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 (failures must not be cached)", fetches)
	}
}
