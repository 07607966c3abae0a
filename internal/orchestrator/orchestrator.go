// Package orchestrator drives the research pipeline: per-symbol
// (Market → Structured/Technical → Synthesis → QA → Cache) and
// per-tick (select research set, populate cache once, fan out to
// every agent), generalizing the teacher's sequential
// analyst→researcher→trader→risk-manager Propagate into a bounded
// concurrent fan-out.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dax-arena/core/internal/cache"
	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/market"
	"github.com/dax-arena/core/internal/news"
	"github.com/dax-arena/core/internal/qa"
	"github.com/dax-arena/core/internal/structured"
	"github.com/dax-arena/core/internal/synthesis"
	"github.com/dax-arena/core/internal/technical"
)

// DefaultWorkerPoolSize bounds concurrent per-symbol pipelines during
// a tick (spec §5 concurrency model).
const DefaultWorkerPoolSize = 4

// Agent is the minimal view of a trading agent the orchestrator
// needs: its research model pairing, cash balance (to find the
// highest-cash agent for research-set selection), and open positions.
type Agent struct {
	ModelID           string
	ResearchModel     string
	CashBalance       decimal.Decimal
	OpenPositionValue []news.PositionValue
}

// Orchestrator ties every leaf component together behind the two
// operations spec §4.6 names.
type Orchestrator struct {
	monitor      *news.Monitor
	marketData   *market.Provider
	structuredAg *structured.Aggregator
	synthesizer  *synthesis.Synthesizer
	reviewer     *qa.Reviewer
	researchCache *cache.ResearchCache

	poolSize int

	// canonicalResearchModel is used once per tick to populate the
	// shared cache, per §4.6 step 2 ("the cheapest available").
	canonicalResearchModel string
}

// New builds an Orchestrator from its constituent components.
func New(
	monitor *news.Monitor,
	marketData *market.Provider,
	structuredAg *structured.Aggregator,
	synthesizer *synthesis.Synthesizer,
	reviewer *qa.Reviewer,
	researchCache *cache.ResearchCache,
	canonicalResearchModel string,
) *Orchestrator {
	return &Orchestrator{
		monitor:               monitor,
		marketData:            marketData,
		structuredAg:          structuredAg,
		synthesizer:           synthesizer,
		reviewer:              reviewer,
		researchCache:         researchCache,
		poolSize:              DefaultWorkerPoolSize,
		canonicalResearchModel: canonicalResearchModel,
	}
}

// WithPoolSize overrides the default bounded worker pool size.
func (o *Orchestrator) WithPoolSize(n int) *Orchestrator {
	if n > 0 {
		o.poolSize = n
	}
	return o
}

// Research runs the per-symbol pipeline (§4.6): cache lookup, then on
// miss, independent leaf calls, synthesis, QA, and storage. A
// REJECTed Briefing is still stored and returned — QA is never
// retried automatically.
func (o *Orchestrator) Research(ctx context.Context, symbol, researchModel string, forceRefresh bool) (domain.Briefing, error) {
	if !forceRefresh {
		if entry, ok := o.researchCache.Get(symbol, domain.ResearchComplete); ok {
			return entry.Briefing, nil
		}
	}

	entry, err := o.researchCache.Fill(ctx, symbol, domain.ResearchComplete, func(ctx context.Context) (*domain.CacheEntry, error) {
		return o.buildEntry(ctx, symbol, researchModel)
	})
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("research %s: %w", symbol, err)
	}
	return entry.Briefing, nil
}

func (o *Orchestrator) buildEntry(ctx context.Context, symbol, researchModel string) (*domain.CacheEntry, error) {
	bar, _ := o.marketData.Get(symbol)
	history, _ := o.marketData.History(symbol, 90)
	var technicalSummary *domain.TechnicalSummary
	if len(history) > 0 {
		technicalSummary = technical.Analyze(history)
	}
	record := o.structuredAg.Get(ctx, symbol)
	if record != nil {
		record.Technical = technicalSummary
	}
	newsItems := o.structuredAg.News(ctx, symbol, 1)

	var gaps []string
	if bar == nil {
		gaps = append(gaps, "market data unavailable")
	}
	if record == nil {
		gaps = append(gaps, "structured data unavailable")
	}
	if technicalSummary == nil {
		gaps = append(gaps, "insufficient history for technical analysis")
	}

	in := synthesis.Input{
		Symbol:     symbol,
		DataGaps:   gaps,
		Market:     bar,
		Structured: record,
		Technical:  technicalSummary,
		NewsItems:  newsItems,
	}

	queries := o.synthesizer.GenerateQueries(ctx, in)
	briefing := o.synthesizer.Synthesize(ctx, in, queries)

	result := o.reviewer.Evaluate(ctx, symbol, briefing)
	briefing.Meta.QualityScore = result.OverallScore
	briefing.Meta.Recommendation = result.Recommendation
	briefing.Meta.Confidence = result.Confidence

	now := time.Now()
	return &domain.CacheEntry{
		Briefing:     briefing,
		ResearchType: domain.ResearchComplete,
		ModelUsed:    researchModel,
		QualityScore: result.OverallScore,
		CreatedAt:    now,
		ExpiresAt:    now.Add(cache.DefaultTTLConfig().Complete),
	}, nil
}

// Tick runs the per-tick pipeline (§4.6): select a shared research
// set, populate the cache once per symbol using the canonical
// research model, then returns the populated symbol set for callers
// to fan out the Decision Loop across agents. Ordering guarantee:
// every agent observes the same briefings for the same research set
// within one tick.
func (o *Orchestrator) Tick(ctx context.Context, agents []Agent) ([]string, error) {
	o.monitor.RefreshFeeds(ctx)

	var highestCashPositions []news.PositionValue
	if len(agents) > 0 {
		ranked := append([]Agent(nil), agents...)
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].CashBalance.GreaterThan(ranked[j].CashBalance) })
		highestCashPositions = ranked[0].OpenPositionValue
	}
	researchSet := o.monitor.SelectResearchSet(highestCashPositions, 10)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.poolSize)

	for _, symbol := range researchSet {
		symbol := symbol
		g.Go(func() error {
			// Sub-pipeline failures are absorbed inside Research via
			// data gaps; only unexpected errors (e.g. context
			// cancellation) propagate here.
			_, err := o.Research(gctx, symbol, o.canonicalResearchModel, false)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return researchSet, nil
}

// Invalidate forwards to the Research Cache for a single symbol
// (spec §4.6 event-driven invalidation).
func (o *Orchestrator) Invalidate(symbol string) {
	o.researchCache.Invalidate(symbol)
}

// InvalidateAll forwards to the Research Cache for market-wide
// invalidation events.
func (o *Orchestrator) InvalidateAll(reason string) {
	o.researchCache.InvalidateAll(reason)
}

// CacheStats forwards the Research Cache's running hit/miss counters,
// snapshotted between two calls by the caller to compute a delta for
// one tick.
func (o *Orchestrator) CacheStats() cache.Metrics {
	return o.researchCache.Stats()
}
