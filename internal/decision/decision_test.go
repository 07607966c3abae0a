package decision

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/llm"
	"github.com/dax-arena/core/internal/storage/sqlite"
	"github.com/dax-arena/core/internal/trading"
)

// canned is a fake llm.Gateway that always answers with a fixed
// Decision wire payload, so RunAgentDecision's Trading Engine
// integration can be exercised without a real model.
type canned struct{ content string }

func (c canned) Chat(ctx context.Context, modelID string, messages []*schema.Message, opts llm.Options) (*llm.Response, error) {
	return &llm.Response{Content: c.content}, nil
}

type fakePrices struct{ bars map[string]decimal.Decimal }

func (f fakePrices) Get(symbol string) (*domain.OHLCVBar, bool) {
	price, ok := f.bars[symbol]
	if !ok {
		return nil, false
	}
	return &domain.OHLCVBar{Symbol: symbol, Close: price}, true
}

type alwaysOpen struct{}

func (alwaysOpen) IsMarketOpen(t time.Time) bool { return true }

func newTestLoop(t *testing.T, gateway llm.Gateway, prices map[string]decimal.Decimal) (*Loop, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tradingEngine := trading.New(store, fakePrices{bars: prices}, alwaysOpen{}, decimal.NewFromFloat(5))
	return New(gateway, tradingEngine, store), store
}

func TestParseDecisionValidJSON(t *testing.T) {
	content := `{"action":"BUY","symbol":"SAP.DE","quantity":5,"reasoning":"strong momentum","confidence":"HIGH"}`
	wd, err := parseDecision(content)
	if err != nil {
		t.Fatalf("parseDecision() error = %v", err)
	}
	if wd.Action != "BUY" || wd.Symbol != "SAP.DE" || wd.Quantity != 5 {
		t.Fatalf("parseDecision() = %+v, want BUY/SAP.DE/5", wd)
	}
}

func TestParseDecisionRepairsMalformedJSON(t *testing.T) {
	content := `{action: "HOLD", symbol: "SIE.DE", quantity: 0, reasoning: "waiting for clarity", confidence: "LOW",}`
	wd, err := parseDecision(content)
	if err != nil {
		t.Fatalf("parseDecision() error = %v, want repair to succeed", err)
	}
	if wd.Action != "HOLD" || wd.Symbol != "SIE.DE" {
		t.Fatalf("parseDecision() = %+v, want HOLD/SIE.DE after repair", wd)
	}
}

func TestParseDecisionFailsOnUnrecoverableContent(t *testing.T) {
	_, err := parseDecision("not json at all, just prose from a confused model")
	if err == nil {
		t.Fatalf("expected an error for unrecoverable content")
	}
}

func TestDecisionActionNormalizesCase(t *testing.T) {
	cases := map[string]domain.DecisionAction{
		"buy":     domain.ActionBuy,
		"Sell":    domain.ActionSell,
		"HOLD":    domain.ActionHold,
		"":        domain.ActionHold,
		"invalid": domain.ActionHold,
	}
	for in, want := range cases {
		if got := decisionAction(in); got != want {
			t.Fatalf("decisionAction(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBriefingKeysJoinsSymbols(t *testing.T) {
	briefings := map[string]domain.Briefing{"SAP.DE": {}}
	if got := briefingKeys(briefings); got != "SAP.DE" {
		t.Fatalf("briefingKeys() = %q, want %q", got, "SAP.DE")
	}
	if got := briefingKeys(nil); got != "" {
		t.Fatalf("briefingKeys(nil) = %q, want empty", got)
	}
}

func TestSectionTextReportsGapExplicitly(t *testing.T) {
	gapSection := domain.BriefingSection{Gap: "no upstream data"}
	if got := sectionText(gapSection); got != "[GAP: no upstream data]" {
		t.Fatalf("sectionText() = %q, want explicit gap marker", got)
	}

	populated := domain.BriefingSection{Content: []byte(`"strong quarter"`)}
	if got := sectionText(populated); got != `"strong quarter"` {
		t.Fatalf("sectionText() = %q, want raw content", got)
	}
}

func TestRunAgentDecisionRecordsHoldWhenTradingEngineRejects(t *testing.T) {
	gateway := canned{content: `{"action":"BUY","symbol":"SAP.DE","quantity":100,"reasoning":"go big","confidence":"HIGH"}`}
	loop, store := newTestLoop(t, gateway, map[string]decimal.Decimal{"SAP.DE": decimal.NewFromFloat(100)})
	ctx := context.Background()

	portfolio := domain.Portfolio{ModelID: "model-a", CashBalance: decimal.NewFromFloat(50), TotalValue: decimal.NewFromFloat(50)}
	if _, err := store.InitializePortfolio(ctx, "model-a", portfolio.CashBalance); err != nil {
		t.Fatalf("initialize portfolio: %v", err)
	}

	outcome := loop.RunAgentDecision(ctx, "model-a", "gpt-mini", nil, portfolio, nil)

	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailureInsufficientCash {
		t.Fatalf("expected an InsufficientCash failure from the Trading Engine, got %v", outcome.Failure)
	}
	if outcome.Entry.Decision != domain.ActionHold {
		t.Fatalf("Reasoning Entry decision = %q, want HOLD for a rejected order", outcome.Entry.Decision)
	}

	entries, err := store.LatestReasoningEntries(ctx, "model-a", 1)
	if err != nil {
		t.Fatalf("latest reasoning entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Decision != domain.ActionHold {
		t.Fatalf("persisted reasoning entry = %+v, want a single HOLD entry", entries)
	}
}

func TestBuildDecisionPromptIncludesPortfolioAndBriefings(t *testing.T) {
	portfolio := domain.Portfolio{
		CashBalance: decimal.NewFromInt(1000),
		TotalValue:  decimal.NewFromInt(5000),
	}
	positions := []domain.Position{
		{Symbol: "SAP.DE", Quantity: 10, AvgPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(110)},
	}
	briefings := map[string]domain.Briefing{
		"SAP.DE": {
			Meta:         domain.BriefingMeta{Recommendation: "BUY", Confidence: domain.ConfidenceLow},
			KeyTakeaways: domain.BriefingSection{Content: []byte(`"steady growth"`)},
		},
	}

	prompt := buildDecisionPrompt(briefings, portfolio, positions)
	for _, want := range []string{"1000", "5000", "SAP.DE", "qty=10", "steady growth"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("buildDecisionPrompt() missing %q in:\n%s", want, prompt)
		}
	}
}
