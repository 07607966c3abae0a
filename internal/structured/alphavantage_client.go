package structured

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/dataflows"
	"github.com/dax-arena/core/internal/domain"
)

// AlphaVantageClient supplies Fundamentals and Earnings, the two
// sections Finnhub's OVERVIEW-less plan cannot cover, built the same
// cache+retry+budget way as FinnhubClient.
type AlphaVantageClient struct {
	BaseClient
	client *resty.Client
	cache  *dataflows.CacheManager
	retry  *dataflows.RetryConfig
	budget *Budget
	apiKey string
}

// NewAlphaVantageClient builds an AlphaVantageClient. An empty apiKey
// makes every call return explicit absence.
func NewAlphaVantageClient(apiKey, cacheDir string, cacheEnabled bool, budget *Budget) *AlphaVantageClient {
	return &AlphaVantageClient{
		client: resty.New().
			SetBaseURL("https://www.alphavantage.co").
			SetTimeout(30 * time.Second),
		cache:  dataflows.NewCacheManager(cacheDir+"/alphavantage", 24*time.Hour, cacheEnabled),
		retry:  dataflows.DefaultRetryConfig(),
		budget: budget,
		apiKey: apiKey,
	}
}

func (ac *AlphaVantageClient) Name() string { return "alphavantage" }

type alphaVantageOverview struct {
	PERatio       string `json:"PERatio"`
	PriceToBookRatio string `json:"PriceToBookRatio"`
	ProfitMargin  string `json:"ProfitMargin"`
}

// Fundamentals fetches the OVERVIEW endpoint's valuation ratios.
func (ac *AlphaVantageClient) Fundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, bool) {
	if ac.apiKey == "" {
		return nil, false
	}
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	var cached alphaVantageOverview
	if ac.cache.Get("alphavantage", "overview", symbol, &cached) {
		return toFundamentals(cached), true
	}

	if !ac.budget.Allow() {
		return nil, false
	}

	var result alphaVantageOverview
	err := dataflows.WithRetry(ac.retry, func() error {
		resp, err := ac.client.R().
			SetContext(ctx).
			SetResult(&result).
			SetQueryParams(map[string]string{"function": "OVERVIEW", "symbol": symbol, "apikey": ac.apiKey}).
			Get("/query")
		if err != nil {
			return fmt.Errorf("alphavantage overview %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("alphavantage overview %s: status %d", symbol, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	ac.cache.Set("alphavantage", "overview", symbol, result)
	return toFundamentals(result), true
}

type alphaVantageEarnings struct {
	QuarterlyEarnings []struct {
		FiscalDateEnding   string `json:"fiscalDateEnding"`
		SurprisePercentage string `json:"surprisePercentage"`
	} `json:"quarterlyEarnings"`
}

// Earnings fetches the EARNINGS endpoint's latest quarterly surprise.
func (ac *AlphaVantageClient) Earnings(ctx context.Context, symbol string) (*domain.Earnings, bool) {
	if ac.apiKey == "" {
		return nil, false
	}
	if err := dataflows.ValidateSymbol(symbol); err != nil {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	var cached alphaVantageEarnings
	if ac.cache.Get("alphavantage", "earnings", symbol, &cached) {
		return toEarnings(cached)
	}

	if !ac.budget.Allow() {
		return nil, false
	}

	var result alphaVantageEarnings
	err := dataflows.WithRetry(ac.retry, func() error {
		resp, err := ac.client.R().
			SetContext(ctx).
			SetResult(&result).
			SetQueryParams(map[string]string{"function": "EARNINGS", "symbol": symbol, "apikey": ac.apiKey}).
			Get("/query")
		if err != nil {
			return fmt.Errorf("alphavantage earnings %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("alphavantage earnings %s: status %d", symbol, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	ac.cache.Set("alphavantage", "earnings", symbol, result)
	return toEarnings(result)
}

func toFundamentals(o alphaVantageOverview) *domain.Fundamentals {
	f := &domain.Fundamentals{}
	if v, err := decimal.NewFromString(o.PERatio); err == nil {
		f.PE = &v
	}
	if v, err := decimal.NewFromString(o.PriceToBookRatio); err == nil {
		f.PB = &v
	}
	if v, err := decimal.NewFromString(o.ProfitMargin); err == nil {
		pct := v.Mul(decimal.NewFromInt(100))
		f.MarginPercent = &pct
	}
	return f
}

func toEarnings(e alphaVantageEarnings) (*domain.Earnings, bool) {
	if len(e.QuarterlyEarnings) == 0 {
		return nil, false
	}
	latest := e.QuarterlyEarnings[0]
	earnings := &domain.Earnings{LatestQuarter: latest.FiscalDateEnding}
	if v, err := strconv.ParseFloat(latest.SurprisePercentage, 64); err == nil {
		d := decimal.NewFromFloat(v)
		earnings.SurprisePercent = &d
	}
	return earnings, true
}
