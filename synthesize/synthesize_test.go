package synthesize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
)

func TestRuleBasedVerdict_HoldWithConcatenatedReports(t *testing.T) {
	state := analysis.New("AAPL", "2026-07-29", analysis.MarketUS)
	state.AnalystReports[analysis.AnalystMarket] = "market looks flat"
	state.InvestmentDebateState.JudgeDecision = "inconclusive"

	v := ruleBasedVerdict(state)
	assert.Equal(t, SignalHold, v.Signal)
	assert.Equal(t, 50, v.Confidence)
	assert.Contains(t, v.Reasoning, "market looks flat")
	assert.False(t, v.DegradedFully)
}

func TestRuleBasedVerdict_DegradedFullyWhenNoReports(t *testing.T) {
	state := analysis.New("AAPL", "2026-07-29", analysis.MarketUS)
	v := ruleBasedVerdict(state)
	assert.True(t, v.DegradedFully)
}

func TestValidSignal(t *testing.T) {
	assert.True(t, validSignal(SignalStrongBuy))
	assert.True(t, validSignal(SignalHold))
	assert.False(t, validSignal(Signal("Unknown")))
}

func TestVerdict_ReportHTML_SanitizesScript(t *testing.T) {
	v := Verdict{Reasoning: "# Outlook\n\n<script>alert(1)</script>\n\nBullish on fundamentals."}
	html := v.ReportHTML()
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "Outlook")
	assert.Contains(t, html, "Bullish on fundamentals")
}

func TestVerdict_ToPredictionRecord(t *testing.T) {
	v := Verdict{Signal: SignalBuy, Confidence: 80, TradeSetup: &TradeSetup{EntryZone: "100-102", TargetPrice: "120", StopLoss: "95"}}
	state := analysis.New("AAPL", "2026-07-29", analysis.MarketUS)
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	rec := v.ToPredictionRecord("sess-1", state, "quick_think", now)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, SignalBuy, rec.Signal)
	assert.Equal(t, "100-102", rec.EntryPrice)
	assert.Equal(t, now, rec.CreatedAt)
}

type stubModel struct {
	content string
	err     error
}

func (m *stubModel) Generate(ctx context.Context, messages []chatmodel.Message) (*chatmodel.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &chatmodel.Response{Content: m.content}, nil
}

func TestTryParseVerdict_ValidJSON(t *testing.T) {
	model := &stubModel{content: `{"signal":"Buy","confidence":70,"reasoning":"solid fundamentals","bull_vs_bear":{"winner":"Bull"},"risk_assessment":{"score":3,"verdict":"Approved"},"technical_indicators":{"rsi":"60"}}`}
	v, err := tryParseVerdict(context.Background(), model, "synthesize")
	assert.NoError(t, err)
	assert.Equal(t, SignalBuy, v.Signal)
	assert.Equal(t, 70, v.Confidence)
}

func TestTryParseVerdict_StripsMarkdownFence(t *testing.T) {
	model := &stubModel{content: "```json\n{\"signal\":\"Hold\",\"confidence\":50,\"reasoning\":\"x\"}\n```"}
	v, err := tryParseVerdict(context.Background(), model, "synthesize")
	assert.NoError(t, err)
	assert.Equal(t, SignalHold, v.Signal)
}

func TestTryParseVerdict_InvalidJSON(t *testing.T) {
	model := &stubModel{content: "not json at all"}
	_, err := tryParseVerdict(context.Background(), model, "synthesize")
	assert.Error(t, err)
}

func TestTryParseVerdict_UnknownSignal(t *testing.T) {
	model := &stubModel{content: `{"signal":"Maybe","confidence":50,"reasoning":"x"}`}
	_, err := tryParseVerdict(context.Background(), model, "synthesize")
	assert.Error(t, err)
}

func TestSynthesizer_Synthesize_FallsBackToRuleBasedWithoutRegistry(t *testing.T) {
	s := &Synthesizer{Registry: nil}
	state := analysis.New("AAPL", "2026-07-29", analysis.MarketUS)
	state.AnalystReports[analysis.AnalystMarket] = "flat"

	v, err := s.Synthesize(context.Background(), state)
	assert.NoError(t, err)
	assert.Equal(t, SignalHold, v.Signal)
}
