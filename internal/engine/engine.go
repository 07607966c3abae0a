// Package engine wires every component into the external interfaces
// the surrounding application consumes (spec §6): tick_research,
// run_agent_decision, the pure readers, and invalidate_research.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/decision"
	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/news"
	"github.com/dax-arena/core/internal/orchestrator"
	"github.com/dax-arena/core/internal/storage/sqlite"
	"github.com/dax-arena/core/internal/trading"
)

// TickReport summarizes one tick_research invocation.
type TickReport struct {
	BriefingsGenerated int
	CacheHits          int
	CacheMisses        int
	Rejections         int
}

// DecisionOutcome is the public result of run_agent_decision.
type DecisionOutcome = decision.Outcome

// Agent describes one configured trading agent.
type Agent struct {
	ModelID         string
	TradingModel    string
	ResearchModel   string
	StartingBalance decimal.Decimal
}

// Engine exposes the core's external interface over the wired
// components.
type Engine struct {
	store        *sqlite.Store
	orchestrator *orchestrator.Orchestrator
	tradingEngine *trading.Engine
	decisionLoop *decision.Loop
	monitor      *news.Monitor
	agents       map[string]Agent

	lastResearchSet []string
	lastBriefings   map[string]map[string]domain.Briefing // symbol -> modelID -> briefing (shared per tick)
}

// New builds an Engine from its already-constructed collaborators.
func New(
	store *sqlite.Store,
	orch *orchestrator.Orchestrator,
	tradingEngine *trading.Engine,
	decisionLoop *decision.Loop,
	monitor *news.Monitor,
	agents []Agent,
) *Engine {
	byID := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byID[a.ModelID] = a
	}
	return &Engine{
		store:         store,
		orchestrator:  orch,
		tradingEngine: tradingEngine,
		decisionLoop:  decisionLoop,
		monitor:       monitor,
		agents:        byID,
	}
}

// TickResearch runs the per-tick pipeline (§4.6) and reports counts.
func (e *Engine) TickResearch(ctx context.Context) (TickReport, error) {
	e.RevalueAll(ctx)

	var orchAgents []orchestrator.Agent
	for _, a := range e.agents {
		portfolio, _ := e.store.GetPortfolio(ctx, a.ModelID)
		cashBalance := decimal.Zero
		if portfolio != nil {
			cashBalance = portfolio.CashBalance
		}
		positions, _ := e.store.ListPositions(ctx, a.ModelID)
		var pv []news.PositionValue
		for _, p := range positions {
			value, _ := p.CurrentPrice.Mul(decimal.NewFromInt(int64(p.Quantity))).Float64()
			pv = append(pv, news.PositionValue{Symbol: p.Symbol, Value: value})
		}
		orchAgents = append(orchAgents, orchestrator.Agent{
			ModelID: a.ModelID, ResearchModel: a.ResearchModel,
			CashBalance: cashBalance, OpenPositionValue: pv,
		})
	}

	before := e.orchestrator.CacheStats()

	researchSet, err := e.orchestrator.Tick(ctx, orchAgents)
	if err != nil {
		return TickReport{}, err
	}

	report := TickReport{}
	shared := make(map[string]map[string]domain.Briefing, len(researchSet))
	for _, symbol := range researchSet {
		briefing, rerr := e.orchestrator.Research(ctx, symbol, "", false)
		if rerr != nil {
			continue
		}
		report.BriefingsGenerated++
		if briefing.Meta.Recommendation == "REJECT" {
			report.Rejections++
		}
		for modelID := range e.agents {
			if shared[symbol] == nil {
				shared[symbol] = make(map[string]domain.Briefing)
			}
			shared[symbol][modelID] = briefing
		}
	}

	after := e.orchestrator.CacheStats()
	report.CacheHits = int(after.Hits - before.Hits)
	report.CacheMisses = int(after.Misses - before.Misses)

	e.lastResearchSet = researchSet
	e.lastBriefings = shared

	return report, nil
}

// RunAgentDecision runs §4.6 step 3 + §4.7 for one agent, using the
// briefings populated by the most recent TickResearch call.
func (e *Engine) RunAgentDecision(ctx context.Context, modelID string) (DecisionOutcome, error) {
	agent, ok := e.agents[modelID]
	if !ok {
		return DecisionOutcome{}, domain.NewFailure(domain.FailureUnknownSymbol, "unknown model_id: "+modelID)
	}

	briefings := make(map[string]domain.Briefing)
	for symbol, byModel := range e.lastBriefings {
		if b, ok := byModel[modelID]; ok {
			briefings[symbol] = b
		}
	}

	portfolio, err := e.store.GetPortfolio(ctx, modelID)
	if err != nil {
		return DecisionOutcome{}, err
	}
	if portfolio == nil {
		return DecisionOutcome{}, domain.NewFailure(domain.FailureUnknownSymbol, "portfolio not initialized for "+modelID)
	}
	positions, err := e.store.ListPositions(ctx, modelID)
	if err != nil {
		return DecisionOutcome{}, err
	}

	outcome := e.decisionLoop.RunAgentDecision(ctx, modelID, agent.TradingModel, briefings, *portfolio, positions)
	return outcome, nil
}

// GetPortfolio is a pure reader.
func (e *Engine) GetPortfolio(ctx context.Context, modelID string) (*domain.Portfolio, error) {
	return e.store.GetPortfolio(ctx, modelID)
}

// GetPositions is a pure reader.
func (e *Engine) GetPositions(ctx context.Context, modelID string) ([]domain.Position, error) {
	return e.store.ListPositions(ctx, modelID)
}

// GetTrades is a pure reader.
func (e *Engine) GetTrades(ctx context.Context, modelID string, skip, limit int) ([]domain.Trade, error) {
	return e.store.ListTrades(ctx, modelID, skip, limit)
}

// GetPerformance aggregates Trading Engine metrics for modelID.
func (e *Engine) GetPerformance(ctx context.Context, modelID string) (trading.Metrics, error) {
	agent, ok := e.agents[modelID]
	if !ok {
		return trading.Metrics{}, domain.NewFailure(domain.FailureUnknownSymbol, "unknown model_id: "+modelID)
	}
	return e.tradingEngine.Metrics(ctx, modelID, agent.StartingBalance)
}

// GetLatestReasoning is a pure reader returning the n most recent
// Reasoning Entries for modelID, most recent first.
func (e *Engine) GetLatestReasoning(ctx context.Context, modelID string, n int) ([]domain.ReasoningEntry, error) {
	return e.store.LatestReasoningEntries(ctx, modelID, n)
}

// InvalidateResearch forwards to the Research Cache: an empty symbols
// list invalidates everything (the cache logs reason), otherwise each
// listed symbol is invalidated. eventType is not used.
func (e *Engine) InvalidateResearch(eventType string, symbols []string, reason string) {
	if len(symbols) == 0 {
		e.orchestrator.InvalidateAll(reason)
		return
	}
	for _, symbol := range symbols {
		e.orchestrator.Invalidate(symbol)
	}
}

// RevalueAll refreshes every agent's portfolio valuation; typically
// run once per tick alongside TickResearch.
func (e *Engine) RevalueAll(ctx context.Context) {
	for modelID, agent := range e.agents {
		_, _ = e.tradingEngine.Revalue(ctx, modelID, agent.StartingBalance)
	}
}
