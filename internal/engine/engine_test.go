package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/storage/sqlite"
	"github.com/dax-arena/core/internal/trading"
)

type fakePrices struct {
	bars map[string]decimal.Decimal
}

func (f *fakePrices) Get(symbol string) (*domain.OHLCVBar, bool) {
	price, ok := f.bars[symbol]
	if !ok {
		return nil, false
	}
	return &domain.OHLCVBar{Symbol: symbol, Close: price}, true
}

type alwaysOpen struct{}

func (alwaysOpen) IsMarketOpen(t time.Time) bool { return true }

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store, *trading.Engine) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prices := &fakePrices{bars: map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}}
	tradingEngine := trading.New(store, prices, alwaysOpen{}, decimal.NewFromFloat(5))

	e := New(store, nil, tradingEngine, nil, nil, []Agent{
		{ModelID: "model-a", TradingModel: "gpt", ResearchModel: "gpt", StartingBalance: decimal.NewFromFloat(1000)},
	})
	return e, store, tradingEngine
}

func TestGetPortfolioReflectsInitialization(t *testing.T) {
	e, _, tradingEngine := newTestEngine(t)
	ctx := context.Background()

	if _, err := tradingEngine.Initialize(ctx, "model-a", decimal.NewFromFloat(1000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	portfolio, err := e.GetPortfolio(ctx, "model-a")
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	if portfolio == nil || !portfolio.CashBalance.Equal(decimal.NewFromFloat(1000)) {
		t.Fatalf("cash balance = %v, want 1000", portfolio)
	}
}

func TestGetPositionsAfterBuy(t *testing.T) {
	e, _, tradingEngine := newTestEngine(t)
	ctx := context.Background()
	tradingEngine.Initialize(ctx, "model-a", decimal.NewFromFloat(1000))

	if _, f := tradingEngine.ExecuteBuy(ctx, "model-a", "SAP.DE", 2, time.Now()); f != nil {
		t.Fatalf("buy failed: %v", f)
	}

	positions, err := e.GetPositions(ctx, "model-a")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 2 {
		t.Fatalf("positions = %+v, want one position qty=2", positions)
	}
}

func TestGetTradesReturnsUnboundedHistoryByDefault(t *testing.T) {
	e, _, tradingEngine := newTestEngine(t)
	ctx := context.Background()
	tradingEngine.Initialize(ctx, "model-a", decimal.NewFromFloat(1000))
	tradingEngine.ExecuteBuy(ctx, "model-a", "SAP.DE", 1, time.Now())
	tradingEngine.ExecuteBuy(ctx, "model-a", "SAP.DE", 1, time.Now())

	trades, err := e.GetTrades(ctx, "model-a", 0, 0)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
}

func TestGetPerformanceUnknownModelFails(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.GetPerformance(ctx, "nonexistent"); err == nil {
		t.Fatalf("expected failure for unknown model_id")
	}
}

func TestGetPerformanceAfterTrades(t *testing.T) {
	e, _, tradingEngine := newTestEngine(t)
	ctx := context.Background()
	tradingEngine.Initialize(ctx, "model-a", decimal.NewFromFloat(1000))
	tradingEngine.ExecuteBuy(ctx, "model-a", "SAP.DE", 1, time.Now())

	metrics, err := e.GetPerformance(ctx, "model-a")
	if err != nil {
		t.Fatalf("get performance: %v", err)
	}
	if metrics.TotalTrades != 1 {
		t.Fatalf("total trades = %d, want 1", metrics.TotalTrades)
	}
}
