package synthesis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dax-arena/core/internal/domain"
)

func TestAllowListTierClassifiesByConfiguredTier(t *testing.T) {
	a := &AllowList{
		High:   map[string]struct{}{"reuters": {}},
		Medium: map[string]struct{}{"seekingalpha": {}},
	}
	cases := map[string]CredibilityTier{
		"Reuters":      CredibilityHigh,
		"  reuters  ":  CredibilityHigh,
		"SeekingAlpha": CredibilityMedium,
		"randomblog":   CredibilityLow,
	}
	for source, want := range cases {
		if got := a.Tier(source); got != want {
			t.Fatalf("Tier(%q) = %q, want %q", source, got, want)
		}
	}
}

func TestAllowListTierNilDefaultsToLow(t *testing.T) {
	var a *AllowList
	if got := a.Tier("reuters"); got != CredibilityLow {
		t.Fatalf("Tier() on nil AllowList = %q, want LOW", got)
	}
}

func TestDefaultQueriesCoversThreeAngles(t *testing.T) {
	queries := defaultQueries("SAP.DE")
	if len(queries) != 3 {
		t.Fatalf("defaultQueries() len = %d, want 3", len(queries))
	}
	for _, q := range queries {
		if !strings.HasPrefix(q, "SAP.DE ") {
			t.Fatalf("query %q does not reference the symbol", q)
		}
	}
}

func TestSectionOfReportsGapWhenEmpty(t *testing.T) {
	section := sectionOf(nil)
	if section.Gap == "" {
		t.Fatalf("expected a gap for empty raw section")
	}
	if section.Content != nil {
		t.Fatalf("expected no content alongside a gap")
	}
}

func TestSectionOfKeepsPopulatedContent(t *testing.T) {
	raw := json.RawMessage(`"strong quarter"`)
	section := sectionOf(raw)
	if section.Gap != "" {
		t.Fatalf("expected no gap for populated content, got %q", section.Gap)
	}
	if string(section.Content) != `"strong quarter"` {
		t.Fatalf("Content = %q, want preserved raw JSON", section.Content)
	}
}

func TestDegradedBriefingMarksEverySectionAsGapWithLowConfidence(t *testing.T) {
	b := degradedBriefing("SAP.DE", "research-model", errors.New("boom"))

	sections := []domain.BriefingSection{
		b.RecentEvents, b.SentimentAnalysis, b.RiskFactors, b.TechnicalAnalysis,
		b.FundamentalMetrics, b.Opportunities, b.ContextualInfo,
		b.UncertaintyQuant, b.SourceQuality, b.KeyTakeaways,
	}
	for i, s := range sections {
		if s.Gap == "" {
			t.Fatalf("section %d: expected a gap in a degraded briefing", i)
		}
		if !strings.Contains(s.Gap, "boom") {
			t.Fatalf("section %d: gap %q does not mention the failure cause", i, s.Gap)
		}
	}
	if b.Meta.Confidence != domain.ConfidenceLow {
		t.Fatalf("Meta.Confidence = %q, want LOW", b.Meta.Confidence)
	}
	if b.Meta.Symbol != "SAP.DE" || b.Meta.ModelUsed != "research-model" {
		t.Fatalf("Meta = %+v, want symbol/model preserved", b.Meta)
	}
}

func TestBuildSynthesisPromptTagsSourceCredibility(t *testing.T) {
	s := &Synthesizer{allowList: &AllowList{High: map[string]struct{}{"reuters": {}}}}
	in := Input{
		Symbol: "SAP.DE",
		NewsItems: []domain.NewsItem{
			{Headline: "SAP beats estimates", Source: "reuters", URL: "https://a/1"},
			{Headline: "rumor mill", Source: "randomblog", URL: "https://a/2"},
		},
		DataGaps: []string{"no analyst rating"},
	}
	prompt := s.buildSynthesisPrompt(in, []string{"SAP.DE earnings"})

	for _, want := range []string{"HIGH credibility", "LOW credibility", "SAP beats estimates", "no analyst rating"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("buildSynthesisPrompt() missing %q in:\n%s", want, prompt)
		}
	}
}
