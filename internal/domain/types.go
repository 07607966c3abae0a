// Package domain holds the core entity types shared across every
// component of the research-and-decision engine. Entities cross
// component boundaries only as values, never as shared mutable
// references.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a DAX-40 equity in exchange-suffixed form, e.g. "SAP.DE".
type Symbol string

// ModelDescriptor identifies one LLM-backed trading agent.
type ModelDescriptor struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"display_name"`
	APIIdentifier   string          `json:"api_identifier"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
}

// Portfolio is mutated exclusively by the Trading Engine.
type Portfolio struct {
	ModelID           string          `json:"model_id"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
	TotalValue        decimal.Decimal `json:"total_value"`
	RealizedPL        decimal.Decimal `json:"realized_pl"`
	TotalPL           decimal.Decimal `json:"total_pl"`
	TotalPLPercentage decimal.Decimal `json:"total_pl_percentage"`
}

// Position exists iff a model holds a symbol in non-zero quantity.
type Position struct {
	ModelID                string          `json:"model_id"`
	Symbol                 string          `json:"symbol"`
	Quantity               int             `json:"quantity"`
	AvgPrice               decimal.Decimal `json:"avg_price"`
	CurrentPrice           decimal.Decimal `json:"current_price"`
	UnrealizedPL           decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercentage decimal.Decimal `json:"unrealized_pl_percentage"`
	OpenedAt               time.Time       `json:"opened_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TradeSide is BUY or SELL.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeStatus marks whether a Trade committed.
type TradeStatus string

const (
	TradeStatusFilled TradeStatus = "FILLED"
)

// Trade is append-only: once written it is never mutated or deleted.
type Trade struct {
	ID         int64           `json:"id"`
	ModelID    string          `json:"model_id"`
	Symbol     string          `json:"symbol"`
	Side       TradeSide       `json:"side"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	Status     TradeStatus     `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
	RealizedPL *decimal.Decimal `json:"realized_pl,omitempty"`
}

// DecisionAction mirrors the Decision wire format's action field.
type DecisionAction string

const (
	ActionBuy  DecisionAction = "BUY"
	ActionSell DecisionAction = "SELL"
	ActionHold DecisionAction = "HOLD"
)

// Confidence is the coarse confidence scale used by QA and Decisions.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ReasoningEntry is an append-only audit log of every decision
// attempt, including HOLD and parse-failure fallbacks.
type ReasoningEntry struct {
	ID              string         `json:"id"`
	ModelID         string         `json:"model_id"`
	Timestamp       time.Time      `json:"timestamp"`
	ResearchContent string         `json:"research_content"`
	Decision        DecisionAction `json:"decision"`
	ReasoningText   string         `json:"reasoning_text"`
	Confidence      Confidence     `json:"confidence"`
	RawResponse     string         `json:"raw_response"`
}

// OHLCVBar is one bar of historical price data.
type OHLCVBar struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewsItem is deduplicated first by URL, then by (source, headline).
type NewsItem struct {
	Symbols        []string  `json:"symbols"`
	Headline       string    `json:"headline"`
	Source         string    `json:"source"`
	URL            string    `json:"url"`
	PublishedAt    time.Time `json:"published_at"`
	SentimentLabel string    `json:"sentiment_label,omitempty"`
}

// StructuredStockRecord is the aggregated, normalized view across
// structured upstreams. Missing fields are explicit absences (nil
// pointers), never zero values.
type StructuredStockRecord struct {
	Symbol string `json:"symbol"`

	Fundamentals *Fundamentals     `json:"fundamentals,omitempty"`
	Earnings     *Earnings         `json:"earnings,omitempty"`
	Rating       *AnalystRating    `json:"rating,omitempty"`
	Sentiment    *SentimentSummary `json:"sentiment,omitempty"`
	Technical    *TechnicalSummary `json:"technical,omitempty"`
}

type Fundamentals struct {
	PE            *decimal.Decimal `json:"pe,omitempty"`
	PB            *decimal.Decimal `json:"pb,omitempty"`
	MarginPercent *decimal.Decimal `json:"margin_percentage,omitempty"`
}

type Earnings struct {
	LatestQuarter    string           `json:"latest_quarter"`
	SurprisePercent  *decimal.Decimal `json:"surprise_percentage,omitempty"`
}

type AnalystRating struct {
	Buy        int              `json:"buy"`
	Hold       int              `json:"hold"`
	Sell       int              `json:"sell"`
	TargetMean *decimal.Decimal `json:"target_mean,omitempty"`
}

type SentimentSummary struct {
	BullishPercent *decimal.Decimal `json:"bullish_percentage,omitempty"`
	BearishPercent *decimal.Decimal `json:"bearish_percentage,omitempty"`
}

// TechnicalSummary is produced by the Technical Analyzer.
type TechnicalSummary struct {
	RSI14             float64         `json:"rsi_14"`
	MACD              float64         `json:"macd"`
	MACDSignal        float64         `json:"macd_signal"`
	MACDHistogram     float64         `json:"macd_histogram"`
	BollingerUpper    float64         `json:"bollinger_upper"`
	BollingerMiddle   float64         `json:"bollinger_middle"`
	BollingerLower    float64         `json:"bollinger_lower"`
	SMA20             float64         `json:"sma_20"`
	SMA50             float64         `json:"sma_50"`
	SMA200            float64         `json:"sma_200"`
	EMA12             float64         `json:"ema_12"`
	EMA26             float64         `json:"ema_26"`
	StochasticK       float64         `json:"stochastic_k"`
	StochasticD       float64         `json:"stochastic_d"`
	ADX14             float64         `json:"adx_14"`
	ATR14             float64         `json:"atr_14"`
	OBV               float64         `json:"obv"`
	OverallSignal     string          `json:"overall_signal"`
	Support           float64         `json:"support"`
	Resistance        float64         `json:"resistance"`
	High52Week        float64         `json:"high_52_week"`
	Low52Week         float64         `json:"low_52_week"`
	PctChange1D       float64         `json:"pct_change_1d"`
	PctChange5D       float64         `json:"pct_change_5d"`
	PctChange20D      float64         `json:"pct_change_20d"`
}

// BriefingSection is one of the ten fixed sections of a Briefing. It
// is either populated (Gap == "") or an explicit data gap.
type BriefingSection struct {
	Gap     string          `json:"gap,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// BriefingMeta is the stable meta object accompanying every Briefing.
type BriefingMeta struct {
	Symbol         string     `json:"symbol"`
	ResearchType   string     `json:"research_type"`
	ModelUsed      string     `json:"model_used"`
	QualityScore   float64    `json:"quality_score"`
	Recommendation string     `json:"recommendation"`
	Confidence     Confidence `json:"confidence"`
	GeneratedAt    time.Time  `json:"generated_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// Briefing is the structured, ten-section research artifact.
type Briefing struct {
	RecentEvents         BriefingSection `json:"recent_events"`
	SentimentAnalysis    BriefingSection `json:"sentiment_analysis"`
	RiskFactors          BriefingSection `json:"risk_factors"`
	TechnicalAnalysis    BriefingSection `json:"technical_analysis_summary"`
	FundamentalMetrics   BriefingSection `json:"fundamental_metrics"`
	Opportunities        BriefingSection `json:"opportunities"`
	ContextualInfo       BriefingSection `json:"contextual_information"`
	UncertaintyQuant     BriefingSection `json:"uncertainty_quantification"`
	SourceQuality        BriefingSection `json:"source_quality_assessment"`
	KeyTakeaways         BriefingSection `json:"key_takeaways"`
	Meta                 BriefingMeta    `json:"meta"`
}

// ResearchType is the cache partition of a Briefing.
type ResearchType string

const (
	ResearchComplete  ResearchType = "complete"
	ResearchTechnical ResearchType = "technical"
	ResearchFinancial ResearchType = "financial"
	ResearchWeb       ResearchType = "web"
)

// CacheEntry is the value stored by the Research Cache.
type CacheEntry struct {
	Key          string          `json:"key"`
	Briefing     Briefing        `json:"briefing"`
	ResearchType ResearchType    `json:"research_type"`
	ModelUsed    string          `json:"model_used"`
	QualityScore float64         `json:"quality_score"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Cost         decimal.Decimal `json:"cost"`
}

// ContradictionType enumerates the kinds of QA contradictions.
type ContradictionType string

const (
	ContradictionFactual     ContradictionType = "FACTUAL"
	ContradictionSentiment   ContradictionType = "SENTIMENT"
	ContradictionData        ContradictionType = "DATA"
	ContradictionUncertainty ContradictionType = "UNCERTAINTY"
)

// Severity is the severity of a detected contradiction.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Contradiction is one item flagged by QA stage 3.
type Contradiction struct {
	Type        ContradictionType `json:"type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Sources     []string          `json:"sources"`
}

// Recommendation is the QA gate's USE/REJECT verdict.
type Recommendation string

const (
	RecommendationUse    Recommendation = "USE"
	RecommendationReject Recommendation = "REJECT"
)

// QAResult is the outcome of the three-stage quality gate.
type QAResult struct {
	TemplateOK      bool            `json:"template_ok"`
	QualityScore    float64         `json:"quality_score"`
	QualityPass     bool            `json:"quality_pass"`
	Contradictions  []Contradiction `json:"contradictions"`
	OverallScore    float64         `json:"overall_score"`
	Recommendation  Recommendation  `json:"recommendation"`
	Confidence      Confidence      `json:"confidence"`
}

// Failure is a typed, programmatically-distinguishable validation
// failure crossing the Trading Engine boundary. It is never used for
// upstream-absence or transient conditions, which are represented as
// ordinary (value, false) or (value, error) returns instead.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Kind
	}
	return f.Kind + ": " + f.Message
}

// NewFailure builds a Failure with the given kind and message.
func NewFailure(kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

const (
	FailureMarketClosed     = "MarketClosed"
	FailureUnknownSymbol    = "UnknownSymbol"
	FailureInvalidSide      = "InvalidSide"
	FailureInvalidQuantity  = "InvalidQuantity"
	FailureInsufficientCash = "InsufficientCash"
	FailureNoPosition       = "NoPosition"
	FailureInsufficientQty  = "InsufficientQuantity"
)
