package structured

import (
	"context"

	"github.com/dax-arena/core/internal/domain"
)

// Aggregator composes a set of configured Clients into a single
// StructuredStockRecord per symbol, filling missing fields section
// by section: the first client to supply a given section wins,
// later clients only fill gaps, generalizing the teacher's
// GetMarketOverview composition style.
type Aggregator struct {
	clients []Client
}

// NewAggregator builds an Aggregator over the given clients, in
// priority order.
func NewAggregator(clients ...Client) *Aggregator {
	return &Aggregator{clients: clients}
}

// Get composes a StructuredStockRecord for symbol from every
// configured client. Each client's failure is isolated: one client's
// absence never prevents another from filling its section.
func (a *Aggregator) Get(ctx context.Context, symbol string) *domain.StructuredStockRecord {
	rec := &domain.StructuredStockRecord{Symbol: symbol}

	for _, c := range a.clients {
		if rec.Fundamentals == nil {
			if v, ok := c.Fundamentals(ctx, symbol); ok {
				rec.Fundamentals = v
			}
		}
		if rec.Earnings == nil {
			if v, ok := c.Earnings(ctx, symbol); ok {
				rec.Earnings = v
			}
		}
		if rec.Rating == nil {
			if v, ok := c.Rating(ctx, symbol); ok {
				rec.Rating = v
			}
		}
		if rec.Sentiment == nil {
			if v, ok := c.Sentiment(ctx, symbol); ok {
				rec.Sentiment = v
			}
		}
	}

	return rec
}

// News composes news items for symbol across every configured client,
// concatenated (deduplication happens at the News & Momentum Monitor
// layer, which owns the canonical index).
func (a *Aggregator) News(ctx context.Context, symbol string, days int) []domain.NewsItem {
	var out []domain.NewsItem
	for _, c := range a.clients {
		if items, ok := c.News(ctx, symbol, days); ok {
			out = append(out, items...)
		}
	}
	return out
}
