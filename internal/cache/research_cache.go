// Package cache implements the Research Cache: a content-addressed,
// TTL-keyed store of Briefings shared across agents, with disk
// persistence, hit/miss/cost metrics, single-flight fills, and
// symbol- or market-wide invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dax-arena/core/internal/domain"
)

// TTLConfig holds the per-research-type lifetime (spec §4.5
// defaults: complete=2h, technical=1h, financial=4h, web=2h).
type TTLConfig struct {
	Complete  time.Duration
	Technical time.Duration
	Financial time.Duration
	Web       time.Duration
}

// DefaultTTLConfig returns the spec's default per-type TTLs.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Complete:  2 * time.Hour,
		Technical: 1 * time.Hour,
		Financial: 4 * time.Hour,
		Web:       2 * time.Hour,
	}
}

func (c TTLConfig) For(rt domain.ResearchType) time.Duration {
	switch rt {
	case domain.ResearchTechnical:
		return c.Technical
	case domain.ResearchFinancial:
		return c.Financial
	case domain.ResearchWeb:
		return c.Web
	default:
		return c.Complete
	}
}

// ResearchCache is the shared briefing cache. Get takes a shared read
// lock on the entry map: concurrent Gets do not block each other, but
// they wait while a Put or an invalidation holds the write lock. Fill
// is single-flight per key, matching spec §4.5's "at most one
// in-flight fill(key) per key" contract.
type ResearchCache struct {
	mu      sync.RWMutex
	entries map[string]*domain.CacheEntry

	group   singleflight.Group
	ttls    TTLConfig
	dir     string

	metricsMu   sync.Mutex
	hits        int64
	misses      int64
	costPerCall float64
	costSaved   float64
}

// NewResearchCache builds a cache persisted under dir, loading any
// existing entries from disk on construction.
func NewResearchCache(dir string, ttls TTLConfig, costPerResearch float64) *ResearchCache {
	rc := &ResearchCache{
		entries:     make(map[string]*domain.CacheEntry),
		ttls:        ttls,
		dir:         dir,
		costPerCall: costPerResearch,
	}
	rc.loadFromDisk()
	return rc
}

func cacheKey(symbol string, rt domain.ResearchType) string {
	sum := sha256.Sum256([]byte(string(rt) + ":" + symbol))
	return fmt.Sprintf("%x", sum)
}

func (rc *ResearchCache) diskPath(key string) string {
	return filepath.Join(rc.dir, key+".json")
}

func (rc *ResearchCache) loadFromDisk() {
	entries, err := os.ReadDir(rc.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(rc.dir, e.Name()))
		if err != nil {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		rc.entries[entry.Key] = &entry
	}
}

// Get returns the cached entry for (symbol, researchType) if present
// and not expired. An exact-equality (strict) comparison of
// `now < expires_at` governs expiry — an entry expiring exactly now
// is a miss (spec boundary B4).
func (rc *ResearchCache) Get(symbol string, rt domain.ResearchType) (*domain.CacheEntry, bool) {
	entry, ok := rc.peek(symbol, rt)
	if !ok {
		rc.recordMiss()
		return nil, false
	}
	rc.recordHit()
	return entry, true
}

// peek looks up (symbol, researchType) without touching the hit/miss
// counters, for internal callers (Fill) whose caller already recorded
// its own Get.
func (rc *ResearchCache) peek(symbol string, rt domain.ResearchType) (*domain.CacheEntry, bool) {
	key := cacheKey(symbol, rt)

	rc.mu.RLock()
	entry, ok := rc.entries[key]
	rc.mu.RUnlock()

	if !ok || !time.Now().Before(entry.ExpiresAt) {
		return nil, false
	}
	clone := *entry
	return &clone, true
}

// Put stores entry, persisting best-effort to disk. A persistence
// failure is logged only; the in-memory cache remains authoritative.
func (rc *ResearchCache) Put(entry *domain.CacheEntry) {
	rc.mu.Lock()
	rc.entries[entry.Key] = entry
	rc.mu.Unlock()

	go func() {
		if err := rc.persist(entry); err != nil {
			log.Printf("research cache: failed to persist key %s: %v", entry.Key, err)
		}
	}()
}

func (rc *ResearchCache) persist(entry *domain.CacheEntry) error {
	if err := os.MkdirAll(rc.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(rc.diskPath(entry.Key), data, 0o644)
}

// Fill ensures at most one in-flight computation per key: concurrent
// callers for the same (symbol, researchType) share the same future.
// A computed entry's ExpiresAt is reset to its CreatedAt plus the
// cache's configured TTL for researchType. Its own cache check is a non-counting peek, since callers (like
// Research) already recorded their own Get miss before calling Fill —
// counting again here would double-count every real miss.
func (rc *ResearchCache) Fill(ctx context.Context, symbol string, rt domain.ResearchType, compute func(ctx context.Context) (*domain.CacheEntry, error)) (*domain.CacheEntry, error) {
	key := cacheKey(symbol, rt)

	if entry, ok := rc.peek(symbol, rt); ok {
		return entry, nil
	}

	v, err, shared := rc.group.Do(key, func() (interface{}, error) {
		entry, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		entry.Key = key
		if ttl := rc.ttls.For(rt); ttl > 0 && !entry.CreatedAt.IsZero() {
			entry.ExpiresAt = entry.CreatedAt.Add(ttl)
		}
		rc.Put(entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		rc.recordHit()
	}
	entry := v.(*domain.CacheEntry)
	clone := *entry
	return &clone, nil
}

// Invalidate drops every entry referencing symbol. Idempotent.
func (rc *ResearchCache) Invalidate(symbol string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, rt := range []domain.ResearchType{domain.ResearchComplete, domain.ResearchTechnical, domain.ResearchFinancial, domain.ResearchWeb} {
		key := cacheKey(symbol, rt)
		delete(rc.entries, key)
		os.Remove(rc.diskPath(key))
	}
}

// InvalidateAll drops every entry, used on market-wide events. reason
// is logged for operator visibility. Idempotent.
func (rc *ResearchCache) InvalidateAll(reason string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	log.Printf("research cache: invalidating all entries: %s", reason)
	rc.entries = make(map[string]*domain.CacheEntry)
	entries, err := os.ReadDir(rc.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(rc.dir, e.Name()))
	}
}

func (rc *ResearchCache) recordHit() {
	rc.metricsMu.Lock()
	defer rc.metricsMu.Unlock()
	rc.hits++
}

func (rc *ResearchCache) recordMiss() {
	rc.metricsMu.Lock()
	defer rc.metricsMu.Unlock()
	rc.misses++
	rc.costSaved += rc.costPerCall
}

// Metrics is the running counter snapshot.
type Metrics struct {
	Hits           int64
	Misses         int64
	EstimatedCostSaved float64
}

// Stats returns the current hit/miss/cost-saved counters.
func (rc *ResearchCache) Stats() Metrics {
	rc.metricsMu.Lock()
	defer rc.metricsMu.Unlock()
	return Metrics{Hits: rc.hits, Misses: rc.misses, EstimatedCostSaved: rc.costSaved}
}
