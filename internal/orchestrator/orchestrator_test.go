package orchestrator

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/cache"
	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/llm"
	"github.com/dax-arena/core/internal/market"
	"github.com/dax-arena/core/internal/news"
	"github.com/dax-arena/core/internal/qa"
	"github.com/dax-arena/core/internal/structured"
	"github.com/dax-arena/core/internal/synthesis"
)

func TestDefaultWorkerPoolSizeIsFour(t *testing.T) {
	if DefaultWorkerPoolSize != 4 {
		t.Fatalf("expected default pool size of 4, got %d", DefaultWorkerPoolSize)
	}
}

func TestWithPoolSizeIgnoresNonPositive(t *testing.T) {
	o := &Orchestrator{poolSize: DefaultWorkerPoolSize}
	o.WithPoolSize(0)
	if o.poolSize != DefaultWorkerPoolSize {
		t.Fatalf("expected pool size unchanged on non-positive override, got %d", o.poolSize)
	}
	o.WithPoolSize(8)
	if o.poolSize != 8 {
		t.Fatalf("expected pool size overridden to 8, got %d", o.poolSize)
	}
}

// fakeGateway is a canned-response llm.Gateway so Research/Tick never
// touch the network. Responses cycle in call order: query
// generation, synthesis, self-review, contradiction detection — the
// four calls one buildEntry invocation makes.
type fakeGateway struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeGateway) Chat(ctx context.Context, modelID string, messages []*schema.Message, opts llm.Options) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return &llm.Response{Content: resp}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const (
	validQueries              = `["SAP.DE earnings", "SAP.DE risk factors"]`
	validSynthesis            = `{"recent_events":"steady","sentiment_analysis":"neutral","risk_factors":"fx exposure","technical_analysis_summary":"uptrend","fundamental_metrics":"pe 18","opportunities":"cloud growth","contextual_information":"dax constituent","uncertainty_quantification":"low","source_quality_assessment":"high","key_takeaways":"hold steady"}`
	highQualityScores         = `{"accuracy":25,"completeness":25,"objectivity":20,"usefulness":20}`
	noContradictions          = `{"contradictions":[]}`
	highSeverityContradiction = `{"contradictions":[{"type":"SENTIMENT","severity":"HIGH","description":"conflicting earnings sentiment","sources":["a","b"]}]}`
)

// newTestOrchestrator builds a fully wired Orchestrator whose
// non-LLM collaborators are all network-free by construction: an
// empty Universe (Provider.Get/History short-circuit before any
// upstream call), zero structured Clients, and zero configured news
// Feeds. Only the synthesis/QA stages, driven by gw, ever produce
// data.
func newTestOrchestrator(t *testing.T, gw llm.Gateway) *Orchestrator {
	t.Helper()
	dir := t.TempDir()

	universe := &market.Universe{Symbols: map[string]struct{}{}}
	calendar := &market.Calendar{Location: time.UTC, OpenHour: 9, CloseHour: 17, CloseMinute: 30, Holidays: map[string]struct{}{}}
	marketData := market.NewProvider(universe, calendar, dir+"/market", false)

	monitor := news.NewMonitor(nil, dir+"/news", time.Hour, false, func(domain.NewsItem) []string { return nil })

	aggregator := structured.NewAggregator()
	synthesizer := synthesis.NewSynthesizer(gw, nil, "research-model")
	reviewer := qa.NewReviewer(gw, "research-model")
	researchCache := cache.NewResearchCache(dir+"/cache", cache.DefaultTTLConfig(), 0.01)

	return New(monitor, marketData, aggregator, synthesizer, reviewer, researchCache, "research-model")
}

// TestResearchSharesCacheAcrossDuplicateCalls exercises spec Scenario
// 4: two fetches of the same symbol within one tick window must
// share a single synthesis pipeline, producing byte-identical
// briefings with exactly one recorded cache hit and one cache miss.
func TestResearchSharesCacheAcrossDuplicateCalls(t *testing.T) {
	gw := &fakeGateway{responses: []string{validQueries, validSynthesis, highQualityScores, noContradictions}}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	first, err := o.Research(ctx, "SAP.DE", "research-model", false)
	if err != nil {
		t.Fatalf("first research: %v", err)
	}
	second, err := o.Research(ctx, "SAP.DE", "research-model", false)
	if err != nil {
		t.Fatalf("second research: %v", err)
	}

	if got := gw.callCount(); got != 4 {
		t.Fatalf("expected exactly one synthesis pipeline (4 LLM calls), got %d", got)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected byte-identical briefings across cache hits, got %+v vs %+v", first, second)
	}

	stats := o.CacheStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected cache_hits=1 cache_misses=1, got %+v", stats)
	}
}

// TestResearchHighSeverityContradictionRejectsButStillStores exercises
// spec Scenario 5: a REJECT verdict (here, forced by a HIGH-severity
// contradiction) must still be stored in the Research Cache and
// returned to the caller, never suppressed or retried automatically.
func TestResearchHighSeverityContradictionRejectsButStillStores(t *testing.T) {
	gw := &fakeGateway{responses: []string{validQueries, validSynthesis, highQualityScores, highSeverityContradiction}}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	briefing, err := o.Research(ctx, "SAP.DE", "research-model", false)
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if briefing.Meta.Recommendation != string(domain.RecommendationReject) {
		t.Fatalf("recommendation = %q, want REJECT with a HIGH-severity contradiction", briefing.Meta.Recommendation)
	}

	cached, ok := o.researchCache.Get("SAP.DE", domain.ResearchComplete)
	if !ok {
		t.Fatalf("expected REJECTed briefing to still be stored in the cache")
	}
	if cached.Briefing.Meta.Recommendation != string(domain.RecommendationReject) {
		t.Fatalf("cached recommendation = %q, want REJECT", cached.Briefing.Meta.Recommendation)
	}
}

// TestTickPopulatesCacheSharedAcrossSubsequentFetch drives Tick end
// to end: the research set is selected from the highest-cash agent's
// open positions, one synthesis pipeline runs per symbol, and a
// later direct Research call for the same symbol (standing in for a
// second agent's fetch within the same tick) is served from cache.
func TestTickPopulatesCacheSharedAcrossSubsequentFetch(t *testing.T) {
	gw := &fakeGateway{responses: []string{validQueries, validSynthesis, highQualityScores, noContradictions}}
	o := newTestOrchestrator(t, gw)
	ctx := context.Background()

	agents := []Agent{
		{
			ModelID: "model-a", ResearchModel: "research-model",
			CashBalance:       decimal.NewFromInt(2000),
			OpenPositionValue: []news.PositionValue{{Symbol: "SAP.DE", Value: 1000}},
		},
		{ModelID: "model-b", ResearchModel: "research-model", CashBalance: decimal.NewFromInt(500)},
	}

	researchSet, err := o.Tick(ctx, agents)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(researchSet) != 1 || researchSet[0] != "SAP.DE" {
		t.Fatalf("research set = %v, want [SAP.DE]", researchSet)
	}
	if got := gw.callCount(); got != 4 {
		t.Fatalf("expected exactly one synthesis pipeline during tick, got %d calls", got)
	}

	briefing, err := o.Research(ctx, "SAP.DE", "research-model", false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := gw.callCount(); got != 4 {
		t.Fatalf("expected the second agent's fetch to hit cache with no extra LLM calls, got %d", got)
	}
	if briefing.Meta.Recommendation != string(domain.RecommendationUse) {
		t.Fatalf("recommendation = %q, want USE", briefing.Meta.Recommendation)
	}
}
