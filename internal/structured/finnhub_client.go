package structured

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/dataflows"
	"github.com/dax-arena/core/internal/domain"
)

// FinnhubClient is a structured data upstream for company
// fundamentals-adjacent endpoints, rate-limited and cached per call,
// generalizing the teacher's finnhub integration.
type FinnhubClient struct {
	BaseClient
	client *resty.Client
	cache  *dataflows.CacheManager
	retry  *dataflows.RetryConfig
	budget *Budget
	apiKey string
}

// NewFinnhubClient builds a FinnhubClient. An empty apiKey makes
// every call return explicit absence, matching the teacher's
// guard clause.
func NewFinnhubClient(apiKey, cacheDir string, cacheEnabled bool, budget *Budget) *FinnhubClient {
	return &FinnhubClient{
		client: resty.New().
			SetBaseURL("https://finnhub.io/api/v1").
			SetTimeout(30 * time.Second),
		cache:  dataflows.NewCacheManager(cacheDir+"/finnhub", 6*time.Hour, cacheEnabled),
		retry:  dataflows.DefaultRetryConfig(),
		budget: budget,
		apiKey: apiKey,
	}
}

func (fc *FinnhubClient) Name() string { return "finnhub" }

type finnhubSentiment struct {
	Symbol string  `json:"symbol"`
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Change float64 `json:"change"`
	MSPR   float64 `json:"mspr"`
}

// Sentiment fetches insider sentiment (MSPR) for symbol.
func (fc *FinnhubClient) Sentiment(ctx context.Context, symbol string) (*domain.SentimentSummary, bool) {
	if fc.apiKey == "" {
		return nil, false
	}
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	var cached finnhubSentiment
	if fc.cache.Get("finnhub", "sentiment", symbol, &cached) {
		return toSentimentSummary(cached), true
	}

	if !fc.budget.Allow() {
		return nil, false
	}

	var result finnhubSentiment
	err := dataflows.WithRetry(fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetResult(&result).
			SetQueryParams(map[string]string{"symbol": symbol, "token": fc.apiKey}).
			Get("/stock/insider-sentiment")
		if err != nil {
			return fmt.Errorf("finnhub sentiment %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("finnhub sentiment %s: status %d", symbol, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	fc.cache.Set("finnhub", "sentiment", symbol, result)
	return toSentimentSummary(result), true
}

func toSentimentSummary(s finnhubSentiment) *domain.SentimentSummary {
	bullish := decimal.NewFromFloat(s.MSPR)
	return &domain.SentimentSummary{BullishPercent: &bullish}
}

type finnhubRating struct {
	Buy        int     `json:"buy"`
	Hold       int     `json:"hold"`
	Sell       int     `json:"sell"`
	TargetMean float64 `json:"targetMean"`
}

// Rating fetches analyst recommendation counts and the mean target
// price for symbol.
func (fc *FinnhubClient) Rating(ctx context.Context, symbol string) (*domain.AnalystRating, bool) {
	if fc.apiKey == "" {
		return nil, false
	}
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	var cached finnhubRating
	if fc.cache.Get("finnhub", "rating", symbol, &cached) {
		return toRating(cached), true
	}
	if !fc.budget.Allow() {
		return nil, false
	}

	var result finnhubRating
	err := dataflows.WithRetry(fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetResult(&result).
			SetQueryParams(map[string]string{"symbol": symbol, "token": fc.apiKey}).
			Get("/stock/price-target")
		if err != nil {
			return fmt.Errorf("finnhub rating %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("finnhub rating %s: status %d", symbol, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	fc.cache.Set("finnhub", "rating", symbol, result)
	return toRating(result), true
}

func toRating(r finnhubRating) *domain.AnalystRating {
	target := decimal.NewFromFloat(r.TargetMean)
	return &domain.AnalystRating{Buy: r.Buy, Hold: r.Hold, Sell: r.Sell, TargetMean: &target}
}

type finnhubNews struct {
	Headline  string `json:"headline"`
	Source    string `json:"source"`
	URL       string `json:"url"`
	DateTime  int64  `json:"datetime"`
}

// News fetches company news for symbol over the last `days` days.
func (fc *FinnhubClient) News(ctx context.Context, symbol string, days int) ([]domain.NewsItem, bool) {
	if fc.apiKey == "" {
		return nil, false
	}
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	to := time.Now()
	from := to.AddDate(0, 0, -days)
	cacheKey := map[string]interface{}{"symbol": symbol, "from": from.Format("2006-01-02"), "to": to.Format("2006-01-02")}

	var cached []finnhubNews
	if fc.cache.Get("finnhub", "news", cacheKey, &cached) {
		return toNewsItems(symbol, cached), true
	}
	if !fc.budget.Allow() {
		return nil, false
	}

	var result []finnhubNews
	err := dataflows.WithRetry(fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetResult(&result).
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"from":   from.Format("2006-01-02"),
				"to":     to.Format("2006-01-02"),
				"token":  fc.apiKey,
			}).
			Get("/company-news")
		if err != nil {
			return fmt.Errorf("finnhub news %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("finnhub news %s: status %d", symbol, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	fc.cache.Set("finnhub", "news", cacheKey, result)
	return toNewsItems(symbol, result), true
}

func toNewsItems(symbol string, items []finnhubNews) []domain.NewsItem {
	out := make([]domain.NewsItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.NewsItem{
			Symbols:     []string{symbol},
			Headline:    it.Headline,
			Source:      it.Source,
			URL:         it.URL,
			PublishedAt: time.Unix(it.DateTime, 0),
		})
	}
	return out
}
