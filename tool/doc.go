// Package tool provides external data-fetching adapters that satisfy
// agents.MarketDataProvider, the out-of-scope vendor boundary analysts call
// into for market data, headlines, and web search.
//
//	import "github.com/LingXuanTech/tradeorch/tool"
//
//	brave, err := tool.NewBraveSearch("")       // reads BRAVE_API_KEY
//	headlines := tool.NewHeadlineScraper()      // goquery-scraped news search
//
//	deps.Tools[analysis.AnalystNews] = brave
//	deps.Tools[analysis.AnalystSentiment] = headlines
//
// Both adapters expose Call(ctx, query string) (string, error), the same
// shape agents.MarketDataProvider requires, so they drop directly into an
// AnalystDeps.Tools map without an adapter shim.
package tool
