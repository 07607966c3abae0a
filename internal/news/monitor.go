// Package news implements the News & Momentum Monitor: periodic feed
// refresh, a per-symbol 24h momentum score, and deterministic
// research-set selection.
package news

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/dax-arena/core/internal/dataflows"
	"github.com/dax-arena/core/internal/domain"
)

// Feed is one configured news source to poll.
type Feed struct {
	Name string
	URL  string
}

// Monitor holds the rolling 24h per-symbol news index and computes
// momentum/research-set selection over it.
type Monitor struct {
	client     *resty.Client
	feedCache  *dataflows.CacheManager
	retry      *dataflows.RetryConfig
	feeds      []Feed
	symbolizer func(item domain.NewsItem) []string

	mu    sync.RWMutex
	index map[string][]domain.NewsItem // symbol -> items within rolling window
	seen  map[string]struct{}          // dedupe key -> struct{}

	window time.Duration
}

// NewMonitor builds a Monitor. symbolizer maps a raw news item to the
// symbols it is relevant to (e.g. by matching configured company
// names/tickers in the headline); feeds are the configured URLs.
func NewMonitor(feeds []Feed, cacheDir string, cacheTTL time.Duration, cacheEnabled bool, symbolizer func(domain.NewsItem) []string) *Monitor {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; DAXArena/1.0)")

	return &Monitor{
		client:     client,
		feedCache:  dataflows.NewCacheManager(cacheDir, cacheTTL, cacheEnabled),
		retry:      dataflows.DefaultRetryConfig(),
		feeds:      feeds,
		symbolizer: symbolizer,
		index:      make(map[string][]domain.NewsItem),
		seen:       make(map[string]struct{}),
		window:     24 * time.Hour,
	}
}

// RefreshFeeds pulls every configured feed. Per-feed failures are
// isolated: one feed erroring never affects the others. The call has
// an upper time bound via ctx; on timeout the last-known data for
// slow feeds is simply not refreshed this round.
func (m *Monitor) RefreshFeeds(ctx context.Context) {
	var wg sync.WaitGroup
	for _, feed := range m.feeds {
		wg.Add(1)
		go func(f Feed) {
			defer wg.Done()
			items, ok := m.fetchFeed(ctx, f)
			if !ok {
				return
			}
			m.ingest(items)
		}(feed)
	}
	wg.Wait()
	m.evictStale()
}

func (m *Monitor) fetchFeed(ctx context.Context, f Feed) ([]domain.NewsItem, bool) {
	var cached []domain.NewsItem
	if m.feedCache.Get("news", "feed", f.URL, &cached) {
		return cached, true
	}

	var items []domain.NewsItem
	err := dataflows.WithRetry(m.retry, func() error {
		resp, err := m.client.R().SetContext(ctx).Get(f.URL)
		if err != nil {
			return fmt.Errorf("fetch feed %s: %w", f.Name, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("fetch feed %s: status %d", f.Name, resp.StatusCode())
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("parse feed %s: %w", f.Name, err)
		}

		items = parseFeedDocument(doc, f)
		return nil
	})
	if err != nil {
		return nil, false
	}

	m.feedCache.Set("news", "feed", f.URL, items)
	return items, true
}

// parseFeedDocument extracts headline/link/date triples from an HTML
// or RSS-as-XML-via-goquery document. Grounded on the teacher's
// Google-News scraping shape; only <item> elements are read.
func parseFeedDocument(doc *goquery.Document, f Feed) []domain.NewsItem {
	var items []domain.NewsItem

	doc.Find("item").Each(func(_ int, s *goquery.Selection) {
		headline := strings.TrimSpace(s.Find("title").First().Text())
		link := strings.TrimSpace(s.Find("link").First().Text())
		if nodes := s.Find("link").First().Nodes; link == "" && len(nodes) > 0 && nodes[0].NextSibling != nil {
			// The HTML parser treats <link> as a void element, so an RSS
			// link's URL ends up in the text node that follows it.
			link = strings.TrimSpace(nodes[0].NextSibling.Data)
		}
		pubDateRaw := strings.TrimSpace(s.Find("pubDate").First().Text())
		if headline == "" || link == "" {
			return
		}
		published, err := time.Parse(time.RFC1123Z, pubDateRaw)
		if err != nil {
			published = time.Now()
		}
		items = append(items, domain.NewsItem{
			Headline:    headline,
			Source:      f.Name,
			URL:         link,
			PublishedAt: published,
		})
	})

	return items
}

func (m *Monitor) ingest(items []domain.NewsItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		urlKey := "url:" + item.URL
		if _, dup := m.seen[urlKey]; dup {
			continue
		}
		contentKey := "c:" + item.Source + "|" + item.Headline
		if _, dup := m.seen[contentKey]; dup {
			continue
		}
		m.seen[urlKey] = struct{}{}
		m.seen[contentKey] = struct{}{}

		symbols := m.symbolizer(item)
		item.Symbols = symbols
		for _, sym := range symbols {
			m.index[sym] = append(m.index[sym], item)
		}
	}
}

func (m *Monitor) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.window)
	for sym, items := range m.index {
		kept := items[:0:0]
		for _, it := range items {
			if it.PublishedAt.After(cutoff) {
				kept = append(kept, it)
			}
		}
		if len(kept) == 0 {
			delete(m.index, sym)
		} else {
			m.index[sym] = kept
		}
	}
}

// Momentum scores symbol in [0,100]: articles_24h*10 + recency bonus,
// capped at 100. Items within the last 2 hours count double toward
// the bonus, per the spec's recency weighting.
func (m *Monitor) Momentum(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.index[symbol]
	if len(items) == 0 {
		return 0
	}

	base := len(items) * 10
	recencyBonus := 0
	now := time.Now()
	for _, it := range items {
		age := now.Sub(it.PublishedAt)
		if age <= 2*time.Hour {
			recencyBonus += 2
		} else {
			recencyBonus++
		}
	}

	score := base + recencyBonus
	if score > 100 {
		score = 100
	}
	return score
}

type trendingEntry struct {
	symbol       string
	momentum     int
	mostRecent   time.Time
}

// TopTrending returns up to k symbols ordered by momentum desc, tie
// broken by most recent item.
func (m *Monitor) TopTrending(k int) []string {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.index))
	for sym := range m.index {
		symbols = append(symbols, sym)
	}
	m.mu.RUnlock()

	entries := make([]trendingEntry, 0, len(symbols))
	for _, sym := range symbols {
		entries = append(entries, trendingEntry{
			symbol:     sym,
			momentum:   m.Momentum(sym),
			mostRecent: m.latestItemTime(sym),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].momentum != entries[j].momentum {
			return entries[i].momentum > entries[j].momentum
		}
		return entries[i].mostRecent.After(entries[j].mostRecent)
	})

	if k > len(entries) {
		k = len(entries)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = entries[i].symbol
	}
	return out
}

func (m *Monitor) latestItemTime(symbol string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, it := range m.index[symbol] {
		if it.PublishedAt.After(latest) {
			latest = it.PublishedAt
		}
	}
	return latest
}

// PositionValue is the minimal view of an open position needed to
// rank it by portfolio value for research-set selection.
type PositionValue struct {
	Symbol string
	Value  float64 // quantity * current_price, in EUR
}

// SelectResearchSet returns up to k symbols: the top-5 current
// positions by value (stable, in descending value order), followed
// by top-trending symbols not already included (stable by momentum),
// filled deterministically up to k.
func (m *Monitor) SelectResearchSet(openPositions []PositionValue, k int) []string {
	positions := append([]PositionValue(nil), openPositions...)
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].Value > positions[j].Value })
	if len(positions) > 5 {
		positions = positions[:5]
	}

	included := make(map[string]struct{}, k)
	result := make([]string, 0, k)
	for _, p := range positions {
		if len(result) >= k {
			break
		}
		if _, dup := included[p.Symbol]; dup {
			continue
		}
		included[p.Symbol] = struct{}{}
		result = append(result, p.Symbol)
	}

	if len(result) < k {
		for _, sym := range m.TopTrending(k) {
			if len(result) >= k {
				break
			}
			if _, dup := included[sym]; dup {
				continue
			}
			if m.Momentum(sym) == 0 {
				continue
			}
			included[sym] = struct{}{}
			result = append(result, sym)
		}
	}

	return result
}
