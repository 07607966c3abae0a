// Package decision implements the per-agent Decision Loop: compose a
// briefing and portfolio context into a prompt, invoke the agent's
// LLM, parse the Decision wire format (falling back to a JSON-repair
// pass the way risk_manager.go unmarshals a tool-call argument map),
// hand the result to the Trading Engine, and always persist a
// Reasoning Entry — including on parse failure, which degrades to a
// HOLD rather than ever skipping the audit record.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/llm"
	"github.com/dax-arena/core/internal/storage/sqlite"
	"github.com/dax-arena/core/internal/trading"
)

// wireDecision mirrors the LLM's Decision wire format (spec §6).
type wireDecision struct {
	Action                  string `json:"action"`
	Symbol                  string `json:"symbol"`
	Quantity                int    `json:"quantity"`
	Reasoning               string `json:"reasoning"`
	Confidence              string `json:"confidence"`
	MarketOutlook           string `json:"market_outlook,omitempty"`
	RiskAssessment          string `json:"risk_assessment,omitempty"`
	UncertaintyAcknowledged bool   `json:"uncertainty_acknowledged,omitempty"`
	DataFreshness           string `json:"data_freshness,omitempty"`
	SourceReliability       string `json:"source_reliability,omitempty"`
}

// Outcome is the result of one run_agent_decision invocation.
type Outcome struct {
	Decision wireDecision
	Exec     *trading.ExecResult
	Failure  *domain.Failure
	Entry    domain.ReasoningEntry
}

// Loop composes, invokes, parses, and executes one agent's decision
// per tick.
type Loop struct {
	gateway llm.Gateway
	engine  *trading.Engine
	store   *sqlite.Store
}

// New builds a Decision Loop over the given LLM gateway, Trading
// Engine, and reasoning-entry store.
func New(gateway llm.Gateway, engine *trading.Engine, store *sqlite.Store) *Loop {
	return &Loop{gateway: gateway, engine: engine, store: store}
}

// RunAgentDecision composes the prompt from briefings + portfolio
// context, invokes tradingModel, parses the Decision, and hands BUY
// or SELL to the Trading Engine. A HOLD action, a parse failure, or
// an execute Failure all still produce a persisted Reasoning Entry —
// the audit trail is never skipped.
func (l *Loop) RunAgentDecision(ctx context.Context, modelID, tradingModel string, briefings map[string]domain.Briefing, portfolio domain.Portfolio, positions []domain.Position) Outcome {
	prompt := buildDecisionPrompt(briefings, portfolio, positions)
	messages := []*schema.Message{
		schema.SystemMessage(decisionSystemPrompt),
		schema.UserMessage(prompt),
	}

	now := time.Now()
	resp, err := l.gateway.Chat(ctx, tradingModel, messages, llm.Options{Timeout: 60 * time.Second})
	if err != nil {
		return l.persistHold(ctx, modelID, now, "", fmt.Sprintf("LLM call failed: %v", err))
	}

	wd, perr := parseDecision(resp.Content)
	if perr != nil {
		return l.persistHold(ctx, modelID, now, resp.Content, fmt.Sprintf("decision not parseable: %v", perr))
	}

	outcome := Outcome{Decision: wd}
	switch strings.ToUpper(wd.Action) {
	case string(domain.ActionBuy):
		result, failure := l.engine.ExecuteBuy(ctx, modelID, wd.Symbol, wd.Quantity, now)
		outcome.Exec, outcome.Failure = result, failure
	case string(domain.ActionSell):
		result, failure := l.engine.ExecuteSell(ctx, modelID, wd.Symbol, wd.Quantity, now)
		outcome.Exec, outcome.Failure = result, failure
	default:
		// HOLD: no Trading Engine call.
	}

	recordedDecision := decisionAction(wd.Action)
	if outcome.Failure != nil {
		// Rejected by the Trading Engine (e.g. insufficient cash, no
		// position to sell): still an audit record, but the decision
		// that actually took effect was HOLD.
		recordedDecision = domain.ActionHold
	}

	entry := domain.ReasoningEntry{
		ID:              uuid.NewString(),
		ModelID:         modelID,
		Timestamp:       now,
		ResearchContent: briefingKeys(briefings),
		Decision:        recordedDecision,
		ReasoningText:   wd.Reasoning,
		Confidence:      domain.Confidence(strings.ToUpper(wd.Confidence)),
		RawResponse:     resp.Content,
	}
	_ = l.store.InsertReasoningEntry(ctx, entry)
	outcome.Entry = entry

	return outcome
}

func (l *Loop) persistHold(ctx context.Context, modelID string, now time.Time, raw, reason string) Outcome {
	entry := domain.ReasoningEntry{
		ID:              uuid.NewString(),
		ModelID:         modelID,
		Timestamp:       now,
		Decision:        domain.ActionHold,
		ReasoningText:   reason,
		Confidence:      domain.ConfidenceLow,
		RawResponse:     raw,
	}
	_ = l.store.InsertReasoningEntry(ctx, entry)
	return Outcome{
		Decision: wireDecision{Action: string(domain.ActionHold), Reasoning: reason},
		Entry:    entry,
	}
}

func decisionAction(action string) domain.DecisionAction {
	switch strings.ToUpper(action) {
	case string(domain.ActionBuy):
		return domain.ActionBuy
	case string(domain.ActionSell):
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

func parseDecision(content string) (wireDecision, error) {
	var wd wireDecision
	if err := json.Unmarshal([]byte(content), &wd); err == nil {
		return wd, nil
	}
	repaired, err := jsonrepair.RepairJSON(content)
	if err != nil {
		return wireDecision{}, err
	}
	if err := json.Unmarshal([]byte(repaired), &wd); err != nil {
		return wireDecision{}, err
	}
	return wd, nil
}

func briefingKeys(briefings map[string]domain.Briefing) string {
	var symbols []string
	for sym := range briefings {
		symbols = append(symbols, sym)
	}
	return strings.Join(symbols, ",")
}

const decisionSystemPrompt = `You are a paper-trading agent for a DAX-40 portfolio. Given research briefings and your current portfolio, reply with ONLY a JSON object: {"action": "BUY"|"SELL"|"HOLD", "symbol": "...", "quantity": N, "reasoning": "...", "confidence": "HIGH"|"MEDIUM"|"LOW"}. symbol and quantity are required for BUY/SELL.`

func buildDecisionPrompt(briefings map[string]domain.Briefing, portfolio domain.Portfolio, positions []domain.Position) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cash balance: %s\nTotal value: %s\n", portfolio.CashBalance.String(), portfolio.TotalValue.String())
	sb.WriteString("Positions:\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "- %s qty=%d avg=%s current=%s\n", p.Symbol, p.Quantity, p.AvgPrice.String(), p.CurrentPrice.String())
	}
	sb.WriteString("Research briefings:\n")
	for symbol, b := range briefings {
		fmt.Fprintf(&sb, "--- %s (recommendation=%s confidence=%s) ---\n", symbol, b.Meta.Recommendation, b.Meta.Confidence)
		fmt.Fprintf(&sb, "Key takeaways: %s\n", sectionText(b.KeyTakeaways))
	}
	return sb.String()
}

func sectionText(s domain.BriefingSection) string {
	if s.Gap != "" {
		return "[GAP: " + s.Gap + "]"
	}
	return string(s.Content)
}
