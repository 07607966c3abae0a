// Package structured implements the Structured Data Clients: rate
// limited upstreams for fundamentals, earnings, analyst ratings, and
// sentiment, composed by an Aggregator into one normalized record
// per symbol.
package structured

import (
	"context"

	"github.com/dax-arena/core/internal/domain"
)

// Client is the capability-subset contract every structured upstream
// implements. Implementations provide any subset of the methods
// below by returning (nil, false) for capabilities they lack; the
// Aggregator composes across whichever clients are configured.
type Client interface {
	Name() string
	Fundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, bool)
	Earnings(ctx context.Context, symbol string) (*domain.Earnings, bool)
	Rating(ctx context.Context, symbol string) (*domain.AnalystRating, bool)
	Sentiment(ctx context.Context, symbol string) (*domain.SentimentSummary, bool)
	News(ctx context.Context, symbol string, days int) ([]domain.NewsItem, bool)
}

// BaseClient is embedded by concrete clients that do not implement
// every capability; its methods all report absence, so a concrete
// client need only override what it supports.
type BaseClient struct{}

func (BaseClient) Fundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, bool) {
	return nil, false
}
func (BaseClient) Earnings(ctx context.Context, symbol string) (*domain.Earnings, bool) {
	return nil, false
}
func (BaseClient) Rating(ctx context.Context, symbol string) (*domain.AnalystRating, bool) {
	return nil, false
}
func (BaseClient) Sentiment(ctx context.Context, symbol string) (*domain.SentimentSummary, bool) {
	return nil, false
}
func (BaseClient) News(ctx context.Context, symbol string, days int) ([]domain.NewsItem, bool) {
	return nil, false
}
