package trading

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/storage/sqlite"
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

type alwaysClosed struct{}

func (alwaysClosed) IsMarketOpen(t time.Time) bool { return false }

func newTestEngine(t *testing.T, prices map[string]decimal.Decimal, calendar Calendar) (*Engine, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(store, &fakePrices{bars: prices}, calendar, decimal.NewFromFloat(5)), "model-a"
}

func TestExecuteBuyDebitsCashAndOpensPosition(t *testing.T) {
	engine, modelID := newTestEngine(t, map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}, alwaysOpen{})
	ctx := context.Background()

	if _, err := engine.Initialize(ctx, modelID, decimal.NewFromFloat(1000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	result, failure := engine.ExecuteBuy(ctx, modelID, "SAP.DE", 2, time.Now())
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}

	wantCash := decimal.NewFromFloat(1000 - 2*100 - 5)
	if !result.Portfolio.CashBalance.Equal(wantCash) {
		t.Fatalf("cash balance = %s, want %s", result.Portfolio.CashBalance, wantCash)
	}
	if result.Position.Quantity != 2 {
		t.Fatalf("position quantity = %d, want 2", result.Position.Quantity)
	}
}

func TestExecuteBuyRejectsWhenMarketClosed(t *testing.T) {
	engine, modelID := newTestEngine(t, map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}, alwaysClosed{})
	ctx := context.Background()
	engine.Initialize(ctx, modelID, decimal.NewFromFloat(1000))

	_, failure := engine.ExecuteBuy(ctx, modelID, "SAP.DE", 1, time.Now())
	if failure == nil || failure.Kind != domain.FailureMarketClosed {
		t.Fatalf("expected MarketClosed failure, got %v", failure)
	}
}

func TestExecuteBuyRejectsInsufficientCash(t *testing.T) {
	engine, modelID := newTestEngine(t, map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(1000)}, alwaysOpen{})
	ctx := context.Background()
	engine.Initialize(ctx, modelID, decimal.NewFromFloat(100))

	_, failure := engine.ExecuteBuy(ctx, modelID, "SAP.DE", 1, time.Now())
	if failure == nil || failure.Kind != domain.FailureInsufficientCash {
		t.Fatalf("expected InsufficientCash failure, got %v", failure)
	}
}

func TestExecuteSellRejectsWithNoPosition(t *testing.T) {
	engine, modelID := newTestEngine(t, map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}, alwaysOpen{})
	ctx := context.Background()
	engine.Initialize(ctx, modelID, decimal.NewFromFloat(1000))

	_, failure := engine.ExecuteSell(ctx, modelID, "SAP.DE", 1, time.Now())
	if failure == nil || failure.Kind != domain.FailureNoPosition {
		t.Fatalf("expected NoPosition failure, got %v", failure)
	}
}

func TestExecuteSellClosesPositionAndComputesRealizedPL(t *testing.T) {
	prices := map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}
	engine, modelID := newTestEngine(t, prices, alwaysOpen{})
	ctx := context.Background()
	engine.Initialize(ctx, modelID, decimal.NewFromFloat(1000))

	if _, f := engine.ExecuteBuy(ctx, modelID, "SAP.DE", 2, time.Now()); f != nil {
		t.Fatalf("buy failed: %v", f)
	}

	prices["SAP.DE"] = decimal.NewFromFloat(120)
	result, failure := engine.ExecuteSell(ctx, modelID, "SAP.DE", 2, time.Now())
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if result.Position != nil {
		t.Fatalf("expected position fully closed, got %+v", result.Position)
	}
	wantPL := decimal.NewFromFloat(120 - 100).Mul(decimal.NewFromInt(2)).Sub(decimal.NewFromFloat(5))
	if result.Trade.RealizedPL == nil || !result.Trade.RealizedPL.Equal(wantPL) {
		t.Fatalf("realized_pl = %v, want %s", result.Trade.RealizedPL, wantPL)
	}
}

func TestExecuteBuyAveragesPriceOnAddition(t *testing.T) {
	prices := map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)}
	engine, modelID := newTestEngine(t, prices, alwaysOpen{})
	ctx := context.Background()
	engine.Initialize(ctx, modelID, decimal.NewFromFloat(10000))

	engine.ExecuteBuy(ctx, modelID, "SAP.DE", 2, time.Now())
	prices["SAP.DE"] = decimal.NewFromFloat(200)
	result, failure := engine.ExecuteBuy(ctx, modelID, "SAP.DE", 2, time.Now())
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}

	wantAvg := decimal.NewFromFloat(150)
	if !result.Position.AvgPrice.Equal(wantAvg) {
		t.Fatalf("avg_price = %s, want %s", result.Position.AvgPrice, wantAvg)
	}
	if result.Position.Quantity != 4 {
		t.Fatalf("quantity = %d, want 4", result.Position.Quantity)
	}
}
