// Package qa implements Quality Assurance: three ordered stages
// (template validation, LLM self-review, LLM contradiction
// detection) that together decide whether a Briefing is fit for use.
package qa

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

// ContradictionType classifies a detected contradiction.
type ContradictionType string

const (
	ContradictionFactual     ContradictionType = "FACTUAL"
	ContradictionSentiment   ContradictionType = "SENTIMENT"
	ContradictionData        ContradictionType = "DATA"
	ContradictionUncertainty ContradictionType = "UNCERTAINTY"
)

// Severity is a contradiction's impact level.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Contradiction is one flagged inconsistency within a Briefing.
type Contradiction struct {
	Type        ContradictionType `json:"type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Sources     []string          `json:"sources"`
}

// Result is the QA verdict for one Briefing.
type Result struct {
	TemplateOK        bool            `json:"template_ok"`
	TemplateComplete  float64         `json:"template_completeness"`
	QualityScore      float64         `json:"quality_score"`
	QualityPass       bool            `json:"quality_pass"`
	Contradictions    []Contradiction `json:"contradictions"`
	OverallScore      float64         `json:"overall_score"`
	Recommendation    string          `json:"recommendation"`
	Confidence        domain.Confidence `json:"confidence"`
	RequiresManualReview bool         `json:"requires_manual_review"`
}

const (
	recommendationUse    = "USE"
	recommendationReject = "REJECT"
)

// sections lists every required Briefing section for template
// validation, in the §4.3 order.
func sections(b domain.Briefing) []domain.BriefingSection {
	return []domain.BriefingSection{
		b.RecentEvents, b.SentimentAnalysis, b.RiskFactors, b.TechnicalAnalysis,
		b.FundamentalMetrics, b.Opportunities, b.ContextualInfo, b.UncertaintyQuant,
		b.SourceQuality, b.KeyTakeaways,
	}
}

func populated(s domain.BriefingSection) bool {
	return s.Gap == "" && len(s.Content) > 0
}

// validateTemplate is stage 1: local, no LLM involved. A section
// counts as present whether populated or an explicit gap — only a
// totally empty section (neither) fails the check.
func validateTemplate(b domain.Briefing) (ok bool, completeness float64) {
	secs := sections(b)
	present := 0
	for _, s := range secs {
		if populated(s) || s.Gap != "" {
			present++
		}
	}
	completeness = 100 * float64(present) / float64(len(secs))
	ok = present == len(secs)
	return ok, completeness
}

type selfReviewScores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Objectivity  float64 `json:"objectivity"`
	Usefulness   float64 `json:"usefulness"`
}

type contradictionResponse struct {
	Contradictions []Contradiction `json:"contradictions"`
}

// Reviewer runs the two LLM-backed QA stages.
type Reviewer struct {
	gateway llm.Gateway
	model   string
}

// NewReviewer builds a Reviewer against the given gateway and model
// identifier (typically the cheap research model paired to the
// trading model under evaluation).
func NewReviewer(gateway llm.Gateway, model string) *Reviewer {
	return &Reviewer{gateway: gateway, model: model}
}

// Evaluate runs all three stages in order and computes the overall
// verdict per §4.4's formulas.
func (r *Reviewer) Evaluate(ctx context.Context, symbol string, b domain.Briefing) Result {
	templateOK, completeness := validateTemplate(b)

	qualityScore, qualityPass := r.selfReview(ctx, symbol, b)
	contradictions := r.detectContradictions(ctx, symbol, b)

	penalty := contradictionPenalty(contradictions)
	overall := 0.2*completeness + 0.5*qualityScore + 0.3*(100-penalty)

	highSeverity := hasSeverity(contradictions, SeverityHigh)
	mediumOrHigh := highSeverity || hasSeverity(contradictions, SeverityMedium)

	recommendation := recommendationReject
	if templateOK && qualityPass && !highSeverity {
		recommendation = recommendationUse
	}

	confidence := domain.ConfidenceLow
	switch {
	case overall >= 80 && !mediumOrHigh:
		confidence = domain.ConfidenceHigh
	case overall >= 60:
		confidence = domain.ConfidenceMedium
	}

	return Result{
		TemplateOK:           templateOK,
		TemplateComplete:     completeness,
		QualityScore:         qualityScore,
		QualityPass:          qualityPass,
		Contradictions:       contradictions,
		OverallScore:         overall,
		Recommendation:       recommendation,
		Confidence:           confidence,
		RequiresManualReview: highSeverity,
	}
}

// selfReview is stage 2. On any LLM or parse failure it degrades to
// quality_score=0 (fail-closed: a Briefing QA cannot evaluate is
// treated as not passing, never as silently passing).
func (r *Reviewer) selfReview(ctx context.Context, symbol string, b domain.Briefing) (score float64, pass bool) {
	messages := []*schema.Message{
		schema.SystemMessage("You review financial research briefings. Score four dimensions 0-25 each: accuracy, completeness, objectivity, usefulness. Reply with ONLY a JSON object with those four numeric keys."),
		schema.UserMessage(fmt.Sprintf("Symbol: %s\nBriefing: %s", symbol, briefingText(b))),
	}

	resp, err := r.gateway.Chat(ctx, r.model, messages, llm.Options{Timeout: 60 * time.Second})
	if err != nil {
		return 0, false
	}

	var scores selfReviewScores
	if perr := parseJSON(resp.Content, &scores); perr != nil {
		return 0, false
	}

	total := clamp25(scores.Accuracy) + clamp25(scores.Completeness) + clamp25(scores.Objectivity) + clamp25(scores.Usefulness)
	return total, total >= 60
}

// detectContradictions is stage 3. On LLM or parse failure it
// returns no contradictions found (a failed check is not itself
// evidence of a contradiction).
func (r *Reviewer) detectContradictions(ctx context.Context, symbol string, b domain.Briefing) []Contradiction {
	messages := []*schema.Message{
		schema.SystemMessage("You detect contradictions within a financial research briefing. Classify each as FACTUAL, SENTIMENT, DATA, or UNCERTAINTY with severity HIGH, MEDIUM, or LOW. Reply with ONLY a JSON object: {\"contradictions\": [...]}."),
		schema.UserMessage(fmt.Sprintf("Symbol: %s\nBriefing: %s", symbol, briefingText(b))),
	}

	resp, err := r.gateway.Chat(ctx, r.model, messages, llm.Options{Timeout: 60 * time.Second})
	if err != nil {
		return nil
	}

	var out contradictionResponse
	if perr := parseJSON(resp.Content, &out); perr != nil {
		return nil
	}
	return out.Contradictions
}

func parseJSON(content string, v interface{}) error {
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.RepairJSON(content)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}

func clamp25(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 25 {
		return 25
	}
	return v
}

func hasSeverity(cs []Contradiction, sev Severity) bool {
	for _, c := range cs {
		if c.Severity == sev {
			return true
		}
	}
	return false
}

// contradictionPenalty sums the mandatory minimum penalty per §4.4:
// HIGH >= 40, MEDIUM >= 20, LOW 0-10 (we take the floor of the LOW
// range since the LLM does not itself emit a penalty value).
func contradictionPenalty(cs []Contradiction) float64 {
	penalty := 0.0
	for _, c := range cs {
		switch c.Severity {
		case SeverityHigh:
			penalty += 40
		case SeverityMedium:
			penalty += 20
		case SeverityLow:
			penalty += 0
		}
	}
	if penalty > 100 {
		penalty = 100
	}
	return penalty
}

func briefingText(b domain.Briefing) string {
	var sb strings.Builder
	names := []string{
		"recent_events", "sentiment_analysis", "risk_factors", "technical_analysis_summary",
		"fundamental_metrics", "opportunities", "contextual_information",
		"uncertainty_quantification", "source_quality_assessment", "key_takeaways",
	}
	for i, s := range sections(b) {
		if s.Gap != "" {
			fmt.Fprintf(&sb, "%s: [GAP: %s]\n", names[i], s.Gap)
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", names[i], string(s.Content))
	}
	return sb.String()
}
