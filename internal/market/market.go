// Package market implements the Market Data Provider: current and
// historical OHLCV per symbol, symbol validation against the
// configured DAX-40 universe, and exchange market-hours predicates.
package market

import (
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/dataflows"
	"github.com/dax-arena/core/internal/domain"
)

// Calendar answers market-hours and trading-day questions for a
// single exchange, given a configured holiday set.
type Calendar struct {
	Location     *time.Location
	OpenHour     int
	CloseHour    int
	CloseMinute  int
	Holidays     map[string]struct{} // "2006-01-02" keys
}

// IsHoliday reports whether t falls on a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.Holidays[t.In(c.Location).Format("2006-01-02")]
	return ok
}

// IsTradingDay reports whether t is a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.Location)
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(local)
}

// IsMarketOpen reports whether t falls within trading hours on a
// trading day.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.Location)
	openAt := time.Date(local.Year(), local.Month(), local.Day(), c.OpenHour, 0, 0, 0, c.Location)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), c.CloseHour, c.CloseMinute, 0, 0, c.Location)
	return !local.Before(openAt) && local.Before(closeAt)
}

// Universe is the static, configured DAX-40 symbol set.
type Universe struct {
	Symbols map[string]struct{}
}

// Valid reports whether symbol is a member of the configured universe.
func (u *Universe) Valid(symbol string) bool {
	_, ok := u.Symbols[dataflows.NormalizeSymbol(symbol)]
	return ok
}

// Provider is the Market Data Provider. It tolerates upstream
// failure by returning (nil, false), never by raising across the
// boundary to the orchestrator.
type Provider struct {
	universe    *Universe
	calendar    *Calendar
	quoteCache  *dataflows.CacheManager
	historyCache *dataflows.CacheManager
	retry       *dataflows.RetryConfig
}

// NewProvider builds a Market Data Provider. cacheDir holds the short
// lived quote cache (default 5 minutes) and a longer historical
// window cache.
func NewProvider(universe *Universe, calendar *Calendar, cacheDir string, cacheEnabled bool) *Provider {
	return &Provider{
		universe:     universe,
		calendar:     calendar,
		quoteCache:   dataflows.NewCacheManager(cacheDir+"/quote", 5*time.Minute, cacheEnabled),
		historyCache: dataflows.NewCacheManager(cacheDir+"/history", 24*time.Hour, cacheEnabled),
		retry:        dataflows.DefaultRetryConfig(),
	}
}

// IsTradingDay delegates to the configured exchange calendar.
func (p *Provider) IsTradingDay(t time.Time) bool { return p.calendar.IsTradingDay(t) }

// IsMarketOpen delegates to the configured exchange calendar.
func (p *Provider) IsMarketOpen(t time.Time) bool { return p.calendar.IsMarketOpen(t) }

// Get returns the last known OHLCV bar for symbol, or (nil, false) on
// any validation or upstream failure.
func (p *Provider) Get(symbol string) (*domain.OHLCVBar, bool) {
	if !p.universe.Valid(symbol) {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	var cached domain.OHLCVBar
	if p.quoteCache.Get("market", "quote", symbol, &cached) {
		return &cached, true
	}

	var result *domain.OHLCVBar
	err := dataflows.WithRetry(p.retry, func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("quote %s: %w", symbol, err)
		}
		result = &domain.OHLCVBar{
			Symbol:    symbol,
			Open:      decimal.NewFromFloat(q.RegularMarketOpen),
			High:      decimal.NewFromFloat(q.RegularMarketDayHigh),
			Low:       decimal.NewFromFloat(q.RegularMarketDayLow),
			Close:     decimal.NewFromFloat(q.RegularMarketPrice),
			Volume:    int64(q.RegularMarketVolume),
			Timestamp: time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	p.quoteCache.Set("market", "quote", symbol, result)
	return result, true
}

// History returns up to `days` of daily OHLCV bars for symbol, or
// (nil, false) on failure.
func (p *Provider) History(symbol string, days int) ([]domain.OHLCVBar, bool) {
	if !p.universe.Valid(symbol) {
		return nil, false
	}
	symbol = dataflows.NormalizeSymbol(symbol)

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	cacheKey := map[string]interface{}{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}

	var cached []domain.OHLCVBar
	if p.historyCache.Get("market", "history", cacheKey, &cached) {
		return cached, true
	}

	var result []domain.OHLCVBar
	err := dataflows.WithRetry(p.retry, func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		result = make([]domain.OHLCVBar, 0, days)
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, domain.OHLCVBar{
				Symbol:    symbol,
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    int64(bar.Volume),
				Timestamp: time.Unix(int64(bar.Timestamp), 0),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("history %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, false
	}

	p.historyCache.Set("market", "history", cacheKey, result)
	return result, true
}
