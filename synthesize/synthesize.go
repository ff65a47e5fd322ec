// Package synthesize implements the Result Synthesizer & Predictor Log (C9):
// it collapses the final analysis.State into a typed Verdict, validating the
// model's structured output and falling back to a rule-based composition on
// parse failure, and builds the PredictionRecord that a PredictorLog
// persists (the session runner does the recording). Grounded on
// jemygraw-langgraphgo/showcases/profile/main.go's gomarkdown+bluemonday
// report-rendering pipeline.
package synthesize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/microcosm-cc/bluemonday"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
	"github.com/LingXuanTech/tradeorch/orcherr"
)

// Signal is one of the five enumerated verdict labels (spec §4.9).
type Signal string

const (
	SignalStrongBuy  Signal = "StrongBuy"
	SignalBuy        Signal = "Buy"
	SignalHold       Signal = "Hold"
	SignalSell       Signal = "Sell"
	SignalStrongSell Signal = "StrongSell"
)

// RiskVerdict is the risk_assessment.verdict enum (spec §4.9).
type RiskVerdict string

const (
	RiskApproved RiskVerdict = "Approved"
	RiskCaution  RiskVerdict = "Caution"
	RiskRejected RiskVerdict = "Rejected"
)

// BullVsBear summarizes the investment debate's outcome.
type BullVsBear struct {
	Winner     string   `json:"winner"`
	Conclusion string   `json:"conclusion"`
	Bullets    []string `json:"bullet_points"`
}

// RiskAssessment summarizes the risk debate's outcome.
type RiskAssessment struct {
	Score   int         `json:"score"`
	Verdict RiskVerdict `json:"verdict"`
}

// TradeSetup is the optional concrete trade plan.
type TradeSetup struct {
	EntryZone   string  `json:"entry_zone"`
	TargetPrice string  `json:"target_price"`
	StopLoss    string  `json:"stop_loss"`
	RiskReward  string  `json:"risk_reward"`
}

// TechnicalIndicators may be stubbed if the market analyst degraded.
type TechnicalIndicators struct {
	RSI   string `json:"rsi"`
	MACD  string `json:"macd"`
	Trend string `json:"trend"`
}

// Verdict is the typed output document of the Result Synthesizer (spec §4.9).
type Verdict struct {
	Signal               Signal               `json:"signal"`
	Confidence           int                  `json:"confidence"`
	Reasoning            string               `json:"reasoning"`
	BullVsBear           BullVsBear           `json:"bull_vs_bear"`
	RiskAssessment       RiskAssessment       `json:"risk_assessment"`
	TradeSetup           *TradeSetup          `json:"trade_setup,omitempty"`
	TechnicalIndicators  TechnicalIndicators  `json:"technical_indicators"`
	NewsItems            []string             `json:"news_items"`
	Peers                []string             `json:"peers"`
	DegradedFully        bool                 `json:"degraded_fully,omitempty"`
}

// ReportHTML renders Verdict.Reasoning as sanitized HTML for display surfaces,
// grounded on the profile showcase's markdown-then-bluemonday pipeline.
func (v Verdict) ReportHTML() string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(v.Reasoning))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	rendered := markdown.Render(doc, renderer)

	return string(bluemonday.UGCPolicy().SanitizeBytes(rendered))
}

// PredictionRecord is one row of the append-only predictor log (spec §3).
type PredictionRecord struct {
	SessionID    string     `json:"session_id"`
	Symbol       string     `json:"symbol"`
	TradeDate    string     `json:"trade_date"`
	Signal       Signal     `json:"signal"`
	Confidence   int        `json:"confidence"`
	EntryPrice   string     `json:"entry_price"`
	TargetPrice  string     `json:"target_price"`
	StopLoss     string     `json:"stop_loss"`
	AgentKey     string     `json:"agent_key"`
	CreatedAt    time.Time  `json:"created_at"`
	Outcome      *string    `json:"outcome"`
	ActualReturn *float64   `json:"actual_return"`
}

// PredictorLog persists PredictionRecords. Outcome evaluation is performed by
// an external job, out of scope here (spec §4.9).
type PredictorLog interface {
	Record(ctx context.Context, rec PredictionRecord) error
}

// verdictSchema is resolved once at package init to validate the synthesis
// model's structured JSON output before it is trusted (spec §4.9, §7's
// SynthesizerParseError). The exact call shape here is not grounded in any
// retrieved example (no pack repo imports google/jsonschema-go); it follows
// the package's documented reflect-a-Go-type-then-resolve API.
var verdictSchema = func() *jsonschema.Resolved {
	schema, err := jsonschema.For[Verdict](nil)
	if err != nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	return resolved
}()

// Synthesizer builds a Verdict from a completed analysis.State.
type Synthesizer struct {
	Registry *chatmodel.Registry
	Role     chatmodel.RoleKey
}

// Synthesize reads the final state and produces a Verdict, retrying once with
// a stricter instruction on an unparseable model response, then falling back
// to a rule-based composition (spec §4.9, §7.6).
func (s *Synthesizer) Synthesize(ctx context.Context, state *analysis.State) (*Verdict, error) {
	if s.Registry == nil {
		return ruleBasedVerdict(state), nil
	}

	model, err := s.Registry.Resolve(s.Role)
	if err != nil {
		return ruleBasedVerdict(state), nil
	}

	prompt := buildSynthesisPrompt(state, false)
	if v, err := tryParseVerdict(ctx, model, prompt); err == nil {
		return v, nil
	}

	strictPrompt := buildSynthesisPrompt(state, true)
	if v, err := tryParseVerdict(ctx, model, strictPrompt); err == nil {
		return v, nil
	}

	return ruleBasedVerdict(state), nil
}

func tryParseVerdict(ctx context.Context, model chatmodel.ChatModel, prompt string) (*Verdict, error) {
	resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(resp.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, orcherr.New(orcherr.KindSynthesizerParseError, "synthesize", "invalid JSON: %v", err)
	}
	if verdictSchema != nil {
		var generic any
		if err := json.Unmarshal([]byte(raw), &generic); err == nil {
			if err := verdictSchema.Validate(generic); err != nil {
				return nil, orcherr.New(orcherr.KindSynthesizerParseError, "synthesize", "schema validation: %v", err)
			}
		}
	}
	if !validSignal(v.Signal) {
		return nil, orcherr.New(orcherr.KindSynthesizerParseError, "synthesize", "unknown signal %q", v.Signal)
	}
	return &v, nil
}

func validSignal(s Signal) bool {
	switch s {
	case SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell:
		return true
	default:
		return false
	}
}

func buildSynthesisPrompt(state *analysis.State, strict bool) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Synthesize a final verdict for %s on %s.\n\n", state.Symbol, state.TradeDate))
	for kind, report := range state.AnalystReports {
		sb.WriteString(fmt.Sprintf("%s report:\n%s\n\n", kind, report))
	}
	sb.WriteString("Investment plan: " + state.InvestmentPlan + "\n")
	sb.WriteString("Final trade decision: " + state.FinalTradeDecision + "\n\n")
	if strict {
		sb.WriteString("Respond with ONLY a single valid JSON object matching the Verdict schema, no prose, no markdown fences.")
	} else {
		sb.WriteString("Respond with a JSON object matching the Verdict schema.")
	}
	return sb.String()
}

// ruleBasedVerdict is the deterministic fallback when the synthesis model is
// unavailable or its output never parses (spec §4.9, scenario 5 of §8).
func ruleBasedVerdict(state *analysis.State) *Verdict {
	var reports []string
	for _, report := range state.AnalystReports {
		reports = append(reports, report)
	}

	return &Verdict{
		Signal:     SignalHold,
		Confidence: 50,
		Reasoning:  strings.Join(reports, "\n\n"),
		BullVsBear: BullVsBear{
			Winner:     "Unresolved",
			Conclusion: state.InvestmentDebateState.JudgeDecision,
		},
		RiskAssessment: RiskAssessment{
			Score:   5,
			Verdict: RiskCaution,
		},
		TechnicalIndicators: TechnicalIndicators{},
		NewsItems:           []string{},
		Peers:               []string{},
		DegradedFully:       len(reports) == 0,
	}
}

// ToPredictionRecord builds the append-only log row for a completed session.
func (v Verdict) ToPredictionRecord(sessionID string, state *analysis.State, agentKey string, createdAt time.Time) PredictionRecord {
	entry, target, stop := "", "", ""
	if v.TradeSetup != nil {
		entry, target, stop = v.TradeSetup.EntryZone, v.TradeSetup.TargetPrice, v.TradeSetup.StopLoss
	}
	return PredictionRecord{
		SessionID:   sessionID,
		Symbol:      state.Symbol,
		TradeDate:   state.TradeDate,
		Signal:      v.Signal,
		Confidence:  v.Confidence,
		EntryPrice:  entry,
		TargetPrice: target,
		StopLoss:    stop,
		AgentKey:    agentKey,
		CreatedAt:   createdAt,
	}
}
