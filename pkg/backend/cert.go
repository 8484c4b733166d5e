// Package backend provides pluggable caching for the MITM proxy capture
// backend's per-host leaf certificates. Trace persistence lives in its
// own LSM-tree store (pkg/store); CertCache stays a separate interface
// here since a leaf certificate is disposable per-host state with its
// own TTL and eviction policy, not a trace record.
package backend

import (
	"crypto/tls"
	"sync"
	"time"
)

// CertCache is the interface for caching generated TLS certificates.
// Implementations must be safe for concurrent use.
type CertCache interface {
	// Get retrieves a certificate for the given hostname.
	// Returns nil, false if not found or expired.
	Get(host string) (*tls.Certificate, bool)

	// Set stores a certificate for the given hostname.
	Set(host string, cert *tls.Certificate)

	// Delete removes a certificate from the cache.
	Delete(host string)

	// Clear removes all certificates from the cache.
	Clear()

	// Close releases any resources held by the cache.
	Close() error
}

// MemoryCertCache is an in-memory, TTL-expiring certificate cache. It is
// the default CertCache for mitmproxy: a long-running phantom process
// mints a leaf cert per captured host and reuses it until the entry's
// TTL expires, after which the next request for that host mints anew.
type MemoryCertCache struct {
	mu       sync.RWMutex
	certs    map[string]*certEntry
	ttl      time.Duration
	stopChan chan struct{}
}

type certEntry struct {
	cert      *tls.Certificate
	expiresAt time.Time
}

// MemoryCertCacheConfig configures a MemoryCertCache.
type MemoryCertCacheConfig struct {
	// TTL is how long certificates are cached (default: 1 hour).
	TTL time.Duration

	// CleanupInterval is how often expired entries are removed (default: 5 minutes).
	CleanupInterval time.Duration
}

// NewMemoryCertCache creates a new in-memory certificate cache.
func NewMemoryCertCache(cfg *MemoryCertCacheConfig) *MemoryCertCache {
	if cfg == nil {
		cfg = &MemoryCertCacheConfig{}
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	cache := &MemoryCertCache{
		certs:    make(map[string]*certEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go cache.cleanupLoop(cleanupInterval)

	return cache
}

// Get retrieves a certificate for the given hostname.
func (c *MemoryCertCache) Get(host string) (*tls.Certificate, bool) {
	c.mu.RLock()
	entry, ok := c.certs[host]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.Delete(host)
		return nil, false
	}

	return entry.cert, true
}

// Set stores a certificate for the given hostname.
func (c *MemoryCertCache) Set(host string, cert *tls.Certificate) {
	c.mu.Lock()
	c.certs[host] = &certEntry{
		cert:      cert,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Delete removes a certificate from the cache.
func (c *MemoryCertCache) Delete(host string) {
	c.mu.Lock()
	delete(c.certs, host)
	c.mu.Unlock()
}

// Clear removes all certificates from the cache.
func (c *MemoryCertCache) Clear() {
	c.mu.Lock()
	c.certs = make(map[string]*certEntry)
	c.mu.Unlock()
}

// Close stops the cleanup goroutine and releases resources.
func (c *MemoryCertCache) Close() error {
	close(c.stopChan)
	return nil
}

// Size returns the number of certificates in the cache.
func (c *MemoryCertCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.certs)
}

func (c *MemoryCertCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCertCache) cleanup() {
	now := time.Now()
	expired := make([]string, 0)

	c.mu.RLock()
	for host, entry := range c.certs {
		if now.After(entry.expiresAt) {
			expired = append(expired, host)
		}
	}
	c.mu.RUnlock()

	if len(expired) > 0 {
		c.mu.Lock()
		for _, host := range expired {
			delete(c.certs, host)
		}
		c.mu.Unlock()
	}
}
