// Package analysis defines the shared analysis state that flows through
// every node of an orchestration run: per-analyst reports, the debate and
// risk substates, and the merge rule nodes use to fold their patches back in.
package analysis

import (
	"time"
)

// Market is the market an analysis run targets.
type Market string

const (
	MarketUS Market = "US"
	MarketHK Market = "HK"
	MarketCN Market = "CN"
)

// AnalystKind identifies one of the analyst roles the Analyst subgraph may run.
type AnalystKind string

const (
	AnalystMarket         AnalystKind = "market"
	AnalystSocial         AnalystKind = "social"
	AnalystNews           AnalystKind = "news"
	AnalystFundamentals   AnalystKind = "fundamentals"
	AnalystSentiment      AnalystKind = "sentiment"
	AnalystPolicy         AnalystKind = "policy"
	AnalystFundFlow       AnalystKind = "fund_flow"
	AnalystMacro          AnalystKind = "macro"
)

// ChatMessage is one turn in the cooperative message log nodes append to.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCall is a single tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// InvestmentDebateState tracks the Bull/Bear debate (§4.4.2).
type InvestmentDebateState struct {
	BullHistory     string `json:"bull_history"`
	BearHistory     string `json:"bear_history"`
	History         string `json:"history"`
	CurrentResponse string `json:"current_response"`
	Count           int    `json:"count"`
	JudgeDecision   string `json:"judge_decision"`
}

// RiskDebateState tracks the Risky/Safe/Neutral debate (§4.4.3).
type RiskDebateState struct {
	RiskyHistory   string `json:"risky_history"`
	SafeHistory    string `json:"safe_history"`
	NeutralHistory string `json:"neutral_history"`
	History        string `json:"history"`
	LatestSpeaker  string `json:"latest_speaker"`
	Count          int    `json:"count"`
	JudgeDecision  string `json:"judge_decision"`
}

// State is the shared, typed, append-merge state passed through every node
// of an orchestration run (spec §3). Fields are grouped by mutability:
// identity fields are set once at construction, the rest mutate via Patch/Merge.
type State struct {
	// Identity, set at construction and never mutated again.
	Symbol    string
	TradeDate string
	Market    Market

	Messages             []ChatMessage
	RecommendedAnalysts  []AnalystKind
	AnalystReports       map[AnalystKind]string

	// AnalystMessages is each analyst's private tool-loop transcript, keyed
	// by kind so concurrent branches never touch the same map entry. The
	// shared Messages field above is reserved for cross-branch cooperative
	// appends (Planner, Sync, Manager, Judge, degradation markers).
	AnalystMessages map[AnalystKind][]ChatMessage

	// Per-analyst named mirrors of AnalystReports, for backward-compat consumers.
	MarketReport          string
	NewsReport            string
	FundamentalsReport    string
	SentimentReport       string
	PolicyReport          string
	FundFlowReport        string
	MacroReport           string
	SocialReport          string
	RetailSentimentReport string

	InvestmentDebateState InvestmentDebateState
	RiskDebateState       RiskDebateState

	InvestmentPlan       string
	TraderInvestmentPlan string
	FinalTradeDecision   string

	AnalystErrors    map[AnalystKind]string
	AnalystCompleted map[AnalystKind]bool

	HistoricalReflection string
}

// New constructs the initial State for a session. Identity fields are fixed
// here and never touched by any later patch.
func New(symbol, tradeDate string, market Market) *State {
	return &State{
		Symbol:           symbol,
		TradeDate:        tradeDate,
		Market:           market,
		AnalystReports:   make(map[AnalystKind]string),
		AnalystErrors:    make(map[AnalystKind]string),
		AnalystCompleted: make(map[AnalystKind]bool),
		AnalystMessages:  make(map[AnalystKind][]ChatMessage),
	}
}

// mirrorField returns the field pointer on s that mirrors AnalystReports[kind],
// per spec §3's "Per-analyst named report fields" list. Returns nil for kinds
// that have no mirror (there are none currently, but keeps the table closed
// and explicit per §9's "dynamic field routing... keep as a static table").
func mirrorField(s *State, kind AnalystKind) *string {
	switch kind {
	case AnalystMarket:
		return &s.MarketReport
	case AnalystNews:
		return &s.NewsReport
	case AnalystFundamentals:
		return &s.FundamentalsReport
	case AnalystSentiment:
		return &s.SentimentReport
	case AnalystPolicy:
		return &s.PolicyReport
	case AnalystFundFlow:
		return &s.FundFlowReport
	case AnalystMacro:
		return &s.MacroReport
	case AnalystSocial:
		return &s.SocialReport
	default:
		return nil
	}
}

// DegradationPrefix is the literal text every degradation stub report carries
// right after its "[<kind>] " tag (see StubReport; spec §3 invariant 2).
const DegradationPrefix = "Analysis unavailable"

// StubReport builds the degradation stub text for an analyst kind.
func StubReport(kind AnalystKind, reason string) string {
	return "[" + string(kind) + "] " + DegradationPrefix + ": " + reason
}
