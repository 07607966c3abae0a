package news

import (
	"testing"
	"time"

	"github.com/dax-arena/core/internal/domain"
)

func newTestMonitor(symbolizer func(domain.NewsItem) []string) *Monitor {
	return NewMonitor(nil, "", time.Hour, false, symbolizer)
}

func TestIngestDedupesByURLAndByContent(t *testing.T) {
	m := newTestMonitor(func(it domain.NewsItem) []string { return []string{"SAP.DE"} })

	item := domain.NewsItem{Headline: "SAP raises guidance", Source: "reuters", URL: "https://a/1", PublishedAt: time.Now()}
	m.ingest([]domain.NewsItem{item})
	m.ingest([]domain.NewsItem{item})
	if got := len(m.index["SAP.DE"]); got != 1 {
		t.Fatalf("expected dedupe by URL, got %d items", got)
	}

	sameContentDifferentURL := item
	sameContentDifferentURL.URL = "https://a/1?utm_source=x"
	m.ingest([]domain.NewsItem{sameContentDifferentURL})
	if got := len(m.index["SAP.DE"]); got != 1 {
		t.Fatalf("expected dedupe by source+headline, got %d items", got)
	}

	distinct := domain.NewsItem{Headline: "SAP announces buyback", Source: "reuters", URL: "https://a/2", PublishedAt: time.Now()}
	m.ingest([]domain.NewsItem{distinct})
	if got := len(m.index["SAP.DE"]); got != 2 {
		t.Fatalf("expected distinct headline to be ingested, got %d items", got)
	}
}

func TestIngestAssignsSymbolsFromSymbolizer(t *testing.T) {
	m := newTestMonitor(func(it domain.NewsItem) []string { return []string{"SIE.DE", "ALV.DE"} })
	m.ingest([]domain.NewsItem{{Headline: "roundup", Source: "bloomberg", URL: "https://a/3", PublishedAt: time.Now()}})

	if len(m.index["SIE.DE"]) != 1 || len(m.index["ALV.DE"]) != 1 {
		t.Fatalf("expected item indexed under both symbols, got index=%v", m.index)
	}
}

func TestMomentumZeroWithNoItems(t *testing.T) {
	m := newTestMonitor(func(it domain.NewsItem) []string { return nil })
	if got := m.Momentum("SAP.DE"); got != 0 {
		t.Fatalf("Momentum() = %d, want 0", got)
	}
}

func TestMomentumCapsAt100(t *testing.T) {
	m := newTestMonitor(func(it domain.NewsItem) []string { return []string{"SAP.DE"} })
	now := time.Now()
	var items []domain.NewsItem
	for i := 0; i < 20; i++ {
		items = append(items, domain.NewsItem{
			Headline: "h" + string(rune('a'+i)), Source: "s",
			URL:         "https://a/" + string(rune('a'+i)),
			PublishedAt: now,
		})
	}
	m.ingest(items)
	if got := m.Momentum("SAP.DE"); got != 100 {
		t.Fatalf("Momentum() = %d, want capped at 100", got)
	}
}

func TestMomentumRecencyBonusDoublesWithinTwoHours(t *testing.T) {
	mRecent := newTestMonitor(func(it domain.NewsItem) []string { return []string{"SAP.DE"} })
	mRecent.ingest([]domain.NewsItem{{Headline: "h", Source: "s", URL: "https://a/1", PublishedAt: time.Now()}})

	mOld := newTestMonitor(func(it domain.NewsItem) []string { return []string{"SAP.DE"} })
	mOld.ingest([]domain.NewsItem{{Headline: "h", Source: "s", URL: "https://a/1", PublishedAt: time.Now().Add(-5 * time.Hour)}})

	if got, want := mRecent.Momentum("SAP.DE"), 12; got != want {
		t.Fatalf("recent Momentum() = %d, want %d", got, want)
	}
	if got, want := mOld.Momentum("SAP.DE"), 11; got != want {
		t.Fatalf("old Momentum() = %d, want %d", got, want)
	}
}

func TestTopTrendingOrdersByMomentumDescTieBrokenByRecency(t *testing.T) {
	m := newTestMonitor(func(it domain.NewsItem) []string { return it.Symbols })
	now := time.Now()

	m.ingest([]domain.NewsItem{
		{Headline: "a1", Source: "s", URL: "https://a/1", PublishedAt: now, Symbols: []string{"A.DE"}},
	})
	m.index["A.DE"][0].PublishedAt = now.Add(-1 * time.Hour)

	// B.DE: two items, higher momentum than A.DE (one item).
	m.index["B.DE"] = []domain.NewsItem{
		{Headline: "b1", Source: "s", URL: "https://b/1", PublishedAt: now},
		{Headline: "b2", Source: "s", URL: "https://b/2", PublishedAt: now},
	}
	m.seen["url:https://b/1"] = struct{}{}
	m.seen["url:https://b/2"] = struct{}{}

	// C.DE: same item count and momentum as A.DE but more recent.
	m.index["C.DE"] = []domain.NewsItem{
		{Headline: "c1", Source: "s", URL: "https://c/1", PublishedAt: now},
	}
	m.seen["url:https://c/1"] = struct{}{}

	got := m.TopTrending(3)
	want := []string{"B.DE", "C.DE", "A.DE"}
	if len(got) != len(want) {
		t.Fatalf("TopTrending() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TopTrending() = %v, want %v", got, want)
		}
	}
}

func TestTopTrendingCapsAtK(t *testing.T) {
	m := newTestMonitor(nil)
	now := time.Now()
	for _, sym := range []string{"A.DE", "B.DE", "C.DE"} {
		m.index[sym] = []domain.NewsItem{{Headline: sym, Source: "s", URL: "https://" + sym, PublishedAt: now}}
	}
	if got := m.TopTrending(2); len(got) != 2 {
		t.Fatalf("TopTrending(2) returned %d symbols, want 2", len(got))
	}
	if got := m.TopTrending(10); len(got) != 3 {
		t.Fatalf("TopTrending(10) returned %d symbols, want 3", len(got))
	}
}

func TestSelectResearchSetPrefersTopPositionsThenFillsWithTrending(t *testing.T) {
	m := newTestMonitor(nil)
	now := time.Now()
	for _, sym := range []string{"TRND1.DE", "TRND2.DE"} {
		m.index[sym] = []domain.NewsItem{{Headline: sym, Source: "s", URL: "https://" + sym, PublishedAt: now}}
	}

	positions := []PositionValue{
		{Symbol: "POS_LOW.DE", Value: 100},
		{Symbol: "POS_HIGH.DE", Value: 900},
	}

	got := m.SelectResearchSet(positions, 3)
	want := []string{"POS_HIGH.DE", "POS_LOW.DE"}
	if len(got) < 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("SelectResearchSet() = %v, want positions first (high value first), got %v", want, got)
	}
	if len(got) != 3 {
		t.Fatalf("SelectResearchSet() len = %d, want 3 (filled with trending)", len(got))
	}
}

func TestSelectResearchSetCapsPositionsAtFiveAndDedupesAgainstTrending(t *testing.T) {
	m := newTestMonitor(nil)
	now := time.Now()
	m.index["P3.DE"] = []domain.NewsItem{{Headline: "h", Source: "s", URL: "https://p3", PublishedAt: now}}

	var positions []PositionValue
	for i := 0; i < 7; i++ {
		positions = append(positions, PositionValue{Symbol: symFor(i), Value: float64(700 - i*10)})
	}
	// P3.DE is both an open position and top-trending; must not be duplicated.
	positions[2] = PositionValue{Symbol: "P3.DE", Value: 695}

	got := m.SelectResearchSet(positions, 6)
	if len(got) != 5 {
		t.Fatalf("SelectResearchSet() len = %d, want 5 (capped at top-5 positions)", len(got))
	}
	seen := map[string]int{}
	for _, s := range got {
		seen[s]++
	}
	for s, n := range seen {
		if n > 1 {
			t.Fatalf("symbol %s appeared %d times, want at most once", s, n)
		}
	}
}

func symFor(i int) string {
	return string(rune('A'+i)) + ".DE"
}
