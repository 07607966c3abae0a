// Package synthesis implements the Research Synthesizer: a two-step
// LLM invocation that fuses market data, structured records, and
// news into a structured ten-section Briefing.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/cloudwego/eino/schema"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/llm"
)

// CredibilityTier is the synthesizer's static source allow-list tier.
type CredibilityTier string

const (
	CredibilityHigh   CredibilityTier = "HIGH"
	CredibilityMedium CredibilityTier = "MEDIUM"
	CredibilityLow    CredibilityTier = "LOW"
)

// AllowList classifies a source name into a credibility tier. A nil
// or empty allow list defaults every source to LOW.
type AllowList struct {
	High   map[string]struct{}
	Medium map[string]struct{}
}

func (a *AllowList) Tier(source string) CredibilityTier {
	if a == nil {
		return CredibilityLow
	}
	key := strings.ToLower(strings.TrimSpace(source))
	if _, ok := a.High[key]; ok {
		return CredibilityHigh
	}
	if _, ok := a.Medium[key]; ok {
		return CredibilityMedium
	}
	return CredibilityLow
}

// Input bundles everything the synthesizer needs for one symbol.
type Input struct {
	Symbol          string
	DataGaps        []string
	PortfolioContext string
	Market          *domain.OHLCVBar
	Structured      *domain.StructuredStockRecord
	Technical       *domain.TechnicalSummary
	NewsItems       []domain.NewsItem
}

// Synthesizer fuses an Input into a Briefing via two LLM calls.
type Synthesizer struct {
	gateway    llm.Gateway
	allowList  *AllowList
	researchModel string
}

// NewSynthesizer builds a Synthesizer against the given gateway,
// using researchModel (already paired via ResearchModelFor) for both
// steps.
func NewSynthesizer(gateway llm.Gateway, allowList *AllowList, researchModel string) *Synthesizer {
	return &Synthesizer{gateway: gateway, allowList: allowList, researchModel: researchModel}
}

// GenerateQueries runs step (a): produce 2-5 targeted search queries.
// On LLM failure it falls back to the deterministic template.
func (s *Synthesizer) GenerateQueries(ctx context.Context, in Input) []string {
	prompt := fmt.Sprintf(
		"Given %s, known data gaps %v, and portfolio context %q, produce 2 to 5 targeted web search queries as a JSON array of strings.",
		in.Symbol, in.DataGaps, in.PortfolioContext,
	)
	messages := []*schema.Message{
		schema.SystemMessage("You generate targeted financial research search queries. Reply with a JSON array of strings only."),
		schema.UserMessage(prompt),
	}

	resp, err := s.gateway.Chat(ctx, s.researchModel, messages, llm.Options{Timeout: 60 * time.Second})
	if err != nil {
		return defaultQueries(in.Symbol)
	}

	var queries []string
	if err := json.Unmarshal([]byte(resp.Content), &queries); err != nil {
		if repaired, rerr := jsonrepair.RepairJSON(resp.Content); rerr == nil {
			if err := json.Unmarshal([]byte(repaired), &queries); err == nil && len(queries) > 0 {
				return queries
			}
		}
		return defaultQueries(in.Symbol)
	}
	if len(queries) == 0 {
		return defaultQueries(in.Symbol)
	}
	return queries
}

func defaultQueries(symbol string) []string {
	return []string{
		symbol + " earnings",
		symbol + " risk factors",
		symbol + " analyst outlook",
	}
}

// rawBriefing mirrors the wire-format JSON the LLM is asked to emit;
// each field is a raw section payload (object, array, or string).
type rawBriefing struct {
	RecentEvents       json.RawMessage `json:"recent_events"`
	SentimentAnalysis  json.RawMessage `json:"sentiment_analysis"`
	RiskFactors        json.RawMessage `json:"risk_factors"`
	TechnicalAnalysis  json.RawMessage `json:"technical_analysis_summary"`
	FundamentalMetrics json.RawMessage `json:"fundamental_metrics"`
	Opportunities      json.RawMessage `json:"opportunities"`
	ContextualInfo     json.RawMessage `json:"contextual_information"`
	UncertaintyQuant   json.RawMessage `json:"uncertainty_quantification"`
	SourceQuality      json.RawMessage `json:"source_quality_assessment"`
	KeyTakeaways       json.RawMessage `json:"key_takeaways"`
}

// Synthesize runs step (b): fuse the structured records and news
// into a Briefing. On synthesis failure (invalid JSON after a
// repair attempt and one LLM retry) it returns a degraded Briefing
// whose sections are all explicit gaps, with confidence LOW, per
// spec §4.3/§7.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input, queries []string) domain.Briefing {
	prompt := s.buildSynthesisPrompt(in, queries)
	messages := []*schema.Message{
		schema.SystemMessage(synthesisSystemPrompt),
		schema.UserMessage(prompt),
	}

	raw, err := s.callAndParse(ctx, messages)
	if err != nil {
		repairMsgs := append(messages, schema.UserMessage("Your previous reply was not valid JSON. Reply again with ONLY the JSON object."))
		raw, err = s.callAndParse(ctx, repairMsgs)
	}
	if err != nil {
		return degradedBriefing(in.Symbol, s.researchModel, err)
	}

	return domain.Briefing{
		RecentEvents:       sectionOf(raw.RecentEvents),
		SentimentAnalysis:  sectionOf(raw.SentimentAnalysis),
		RiskFactors:        sectionOf(raw.RiskFactors),
		TechnicalAnalysis:  sectionOf(raw.TechnicalAnalysis),
		FundamentalMetrics: sectionOf(raw.FundamentalMetrics),
		Opportunities:      sectionOf(raw.Opportunities),
		ContextualInfo:     sectionOf(raw.ContextualInfo),
		UncertaintyQuant:   sectionOf(raw.UncertaintyQuant),
		SourceQuality:      sectionOf(raw.SourceQuality),
		KeyTakeaways:       sectionOf(raw.KeyTakeaways),
		Meta: domain.BriefingMeta{
			Symbol:       in.Symbol,
			ResearchType: string(domain.ResearchComplete),
			ModelUsed:    s.researchModel,
			GeneratedAt:  time.Now(),
		},
	}
}

func (s *Synthesizer) callAndParse(ctx context.Context, messages []*schema.Message) (*rawBriefing, error) {
	resp, err := s.gateway.Chat(ctx, s.researchModel, messages, llm.Options{Timeout: 60 * time.Second})
	if err != nil {
		return nil, err
	}

	var raw rawBriefing
	if err := json.Unmarshal([]byte(resp.Content), &raw); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(resp.Content)
		if rerr != nil {
			return nil, fmt.Errorf("synthesis response not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil, fmt.Errorf("synthesis response not valid JSON after repair: %w", err)
		}
	}
	return &raw, nil
}

func sectionOf(raw json.RawMessage) domain.BriefingSection {
	if len(raw) == 0 {
		return domain.BriefingSection{Gap: "no data returned by synthesis"}
	}
	return domain.BriefingSection{Content: raw}
}

func degradedBriefing(symbol, modelUsed string, cause error) domain.Briefing {
	gap := domain.BriefingSection{Gap: fmt.Sprintf("synthesis failed: %v", cause)}
	return domain.Briefing{
		RecentEvents: gap, SentimentAnalysis: gap, RiskFactors: gap,
		TechnicalAnalysis: gap, FundamentalMetrics: gap, Opportunities: gap,
		ContextualInfo: gap, UncertaintyQuant: gap, SourceQuality: gap, KeyTakeaways: gap,
		Meta: domain.BriefingMeta{
			Symbol:       symbol,
			ResearchType: string(domain.ResearchComplete),
			ModelUsed:    modelUsed,
			Confidence:   domain.ConfidenceLow,
			GeneratedAt:  time.Now(),
		},
	}
}

const synthesisSystemPrompt = `You are a financial research synthesizer. Given structured market data, fundamentals, technical indicators, and news items with source URLs, produce a JSON object with exactly these top-level keys: recent_events, sentiment_analysis, risk_factors, technical_analysis_summary, fundamental_metrics, opportunities, contextual_information, uncertainty_quantification, source_quality_assessment, key_takeaways. Each value may itself be an object, array, or string. Tag low-credibility sources and never base a section solely on a single low-credibility source. Reply with ONLY the JSON object, no prose.`

func (s *Synthesizer) buildSynthesisPrompt(in Input, queries []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\n", in.Symbol)
	if in.Market != nil {
		fmt.Fprintf(&sb, "Last price: %s\n", in.Market.Close.String())
	}
	if in.Technical != nil {
		fmt.Fprintf(&sb, "Technical signal: %s (RSI14=%.1f, MACD=%.3f)\n", in.Technical.OverallSignal, in.Technical.RSI14, in.Technical.MACD)
	}
	if in.Structured != nil && in.Structured.Fundamentals != nil {
		sb.WriteString("Fundamentals available.\n")
	}
	sb.WriteString("Search queries used: ")
	sb.WriteString(strings.Join(queries, "; "))
	sb.WriteString("\nNews items:\n")
	for _, item := range in.NewsItems {
		tier := s.allowList.Tier(item.Source)
		fmt.Fprintf(&sb, "- [%s credibility] %s (%s) %s\n", tier, item.Headline, item.Source, item.URL)
	}
	if len(in.DataGaps) > 0 {
		fmt.Fprintf(&sb, "Known data gaps: %v\n", in.DataGaps)
	}
	return sb.String()
}
