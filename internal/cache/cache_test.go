package cache

import (
	"testing"
	"time"
)

func TestGetPutInvalidate(t *testing.T) {
	c := New(time.Minute, true)

	if _, ok := c.Get("/srv/a"); ok {
		t.Fatalf("empty cache should miss")
	}
	c.Put("/srv/a", "listing-a")
	v, ok := c.Get("/srv/a")
	if !ok || v != "listing-a" {
		t.Fatalf("got %v ok=%v, want listing-a", v, ok)
	}

	c.Invalidate("/srv/a")
	if _, ok := c.Get("/srv/a"); ok {
		t.Fatalf("invalidated entry should miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(time.Minute, true)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put("/srv/a", 1)
	c.now = func() time.Time { return base.Add(59 * time.Second) }
	if _, ok := c.Get("/srv/a"); !ok {
		t.Fatalf("entry should be fresh before TTL")
	}
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := c.Get("/srv/a"); ok {
		t.Fatalf("entry should expire after TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped, len=%d", c.Len())
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New(0, true)
	c.Put("/srv/a", 1)
	c.Put("/srv/a/sub", 2)
	c.Put("/srv/a/sub/deep", 3)
	c.Put("/srv/ab", 4)

	c.InvalidatePrefix("/srv/a")

	if _, ok := c.Get("/srv/a/sub"); ok {
		t.Fatalf("descendant should be invalidated")
	}
	if _, ok := c.Get("/srv/a"); ok {
		t.Fatalf("the directory itself should be invalidated")
	}
	// Sibling with a shared name prefix is untouched.
	if _, ok := c.Get("/srv/ab"); !ok {
		t.Fatalf("sibling /srv/ab should survive")
	}
}

func TestDisabledCacheNeverStores(t *testing.T) {
	c := New(time.Minute, false)
	c.Put("/srv/a", 1)
	if _, ok := c.Get("/srv/a"); ok {
		t.Fatalf("disabled cache must not hit")
	}
	if c.Len() != 0 {
		t.Fatalf("disabled cache must not store, len=%d", c.Len())
	}
}

func TestPurge(t *testing.T) {
	c := New(0, true)
	c.Put("/srv/a", 1)
	c.Put("/srv/b", 2)
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("purge should empty the cache, len=%d", c.Len())
	}
}
