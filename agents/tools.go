package agents

import (
	"context"
	"strings"

	"github.com/LingXuanTech/tradeorch/analysis"
)

// MarketDataProvider is the capability analysts call into for external
// market data — the out-of-scope vendor boundary of spec §1, standing in
// for AkShare/yfinance/Alpha Vantage/DuckDuckGo. Concrete adapters live in
// the tool package (Brave Search, a goquery-based headline scraper); tests
// use an in-memory fake.
type MarketDataProvider interface {
	Call(ctx context.Context, query string) (string, error)
}

// toolCallPrefix is the deterministic marker an analyst's model response
// uses to request a tool invocation, since each LLM vendor's native
// function-calling wire format differs and the spec does not mandate one
// (§9: "LLM provider wire protocols... out of scope"). The marker-based
// protocol keeps ShouldContinueAnalyst pure and vendor-agnostic: it reads
// ToolCalls set deterministically from the response text, never the model's
// native tool-call structures.
const toolCallPrefix = "CALL_TOOL:"

// detectToolCall inspects a model response's raw content for the tool-call
// marker and, if present, returns the requested tool call.
func detectToolCall(content string) (analysis.ToolCall, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, toolCallPrefix) {
		return analysis.ToolCall{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, toolCallPrefix))
	name, query, _ := strings.Cut(rest, "|")
	return analysis.ToolCall{
		Name:      strings.TrimSpace(name),
		Arguments: strings.TrimSpace(query),
	}, true
}

// FakeMarketDataProvider is an in-memory MarketDataProvider for tests.
type FakeMarketDataProvider struct {
	Responses map[string]string
	Default   string
}

// Call implements MarketDataProvider.
func (f *FakeMarketDataProvider) Call(_ context.Context, query string) (string, error) {
	if resp, ok := f.Responses[query]; ok {
		return resp, nil
	}
	if f.Default != "" {
		return f.Default, nil
	}
	return "no data for query: " + query, nil
}
