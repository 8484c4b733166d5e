package backend

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestMemoryCertCacheSetGet(t *testing.T) {
	c := NewMemoryCertCache(nil)
	defer c.Close()

	cert := &tls.Certificate{}
	c.Set("example.com", cert)

	got, ok := c.Get("example.com")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != cert {
		t.Error("got different certificate than set")
	}
}

func TestMemoryCertCacheMiss(t *testing.T) {
	c := NewMemoryCertCache(nil)
	defer c.Close()

	if _, ok := c.Get("nowhere.example"); ok {
		t.Error("expected cache miss on empty cache")
	}
}

func TestMemoryCertCacheExpiry(t *testing.T) {
	c := NewMemoryCertCache(&MemoryCertCacheConfig{TTL: time.Millisecond})
	defer c.Close()

	c.Set("example.com", &tls.Certificate{})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("example.com"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCertCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCertCache(nil)
	defer c.Close()

	c.Set("a.example", &tls.Certificate{})
	c.Set("b.example", &tls.Certificate{})

	c.Delete("a.example")
	if _, ok := c.Get("a.example"); ok {
		t.Error("expected a.example to be deleted")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", c.Size())
	}
}

var _ CertCache = (*MemoryCertCache)(nil)
