package cache

import (
	"context"
	"testing"
	"time"

	"github.com/dax-arena/core/internal/domain"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	rc := NewResearchCache(t.TempDir(), DefaultTTLConfig(), 0.01)
	if _, ok := rc.Get("SAP.DE", domain.ResearchComplete); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if rc.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss recorded, got %d", rc.Stats().Misses)
	}
}

func TestPutThenGetHits(t *testing.T) {
	rc := NewResearchCache(t.TempDir(), DefaultTTLConfig(), 0.01)
	entry := &domain.CacheEntry{
		Key:          cacheKey("SAP.DE", domain.ResearchComplete),
		ResearchType: domain.ResearchComplete,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	rc.Put(entry)

	got, ok := rc.Get("SAP.DE", domain.ResearchComplete)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if got.Key != entry.Key {
		t.Fatalf("key mismatch: got %s want %s", got.Key, entry.Key)
	}
	if rc.Stats().Hits != 1 {
		t.Fatalf("expected 1 hit recorded, got %d", rc.Stats().Hits)
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	rc := NewResearchCache(t.TempDir(), DefaultTTLConfig(), 0.01)
	entry := &domain.CacheEntry{
		Key:          cacheKey("SAP.DE", domain.ResearchTechnical),
		ResearchType: domain.ResearchTechnical,
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	rc.Put(entry)

	if _, ok := rc.Get("SAP.DE", domain.ResearchTechnical); ok {
		t.Fatalf("expected miss on expired entry")
	}
}

func TestFillCallsComputeOnceOnMiss(t *testing.T) {
	rc := NewResearchCache(t.TempDir(), DefaultTTLConfig(), 0.01)
	calls := 0
	compute := func(ctx context.Context) (*domain.CacheEntry, error) {
		calls++
		return &domain.CacheEntry{
			ResearchType: domain.ResearchFinancial,
			CreatedAt:    time.Now(),
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}

	if _, err := rc.Fill(context.Background(), "SAP.DE", domain.ResearchFinancial, compute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rc.Fill(context.Background(), "SAP.DE", domain.ResearchFinancial, compute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected compute to run once, ran %d times", calls)
	}
}

func TestInvalidateDropsAllResearchTypes(t *testing.T) {
	rc := NewResearchCache(t.TempDir(), DefaultTTLConfig(), 0.01)
	for _, rt := range []domain.ResearchType{domain.ResearchComplete, domain.ResearchTechnical} {
		rc.Put(&domain.CacheEntry{
			Key:          cacheKey("SAP.DE", rt),
			ResearchType: rt,
			ExpiresAt:    time.Now().Add(time.Hour),
		})
	}

	rc.Invalidate("SAP.DE")

	if _, ok := rc.Get("SAP.DE", domain.ResearchComplete); ok {
		t.Fatalf("expected complete entry invalidated")
	}
	if _, ok := rc.Get("SAP.DE", domain.ResearchTechnical); ok {
		t.Fatalf("expected technical entry invalidated")
	}
}
