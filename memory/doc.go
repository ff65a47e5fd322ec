// Package memory implements the historical-reflection seam used to seed a
// new analysis run with what was concluded about a symbol before (spec §3's
// historical_reflection field, surfaced through
// session.HistoricalReflectionSource).
//
// GraphBasedReflectionMemory links past Verdict records by shared topic (an
// extracted trading keyword, or the signal itself) and retrieves the most
// relevant ones for a symbol via breadth-first traversal:
//
//	mem := memory.NewGraphBasedReflectionMemory(5)
//	mem.Add(ctx, memory.Record{
//		Symbol:    "AAPL",
//		TradeDate: "2026-07-20",
//		Signal:    "Buy",
//		Reasoning: "Bullish momentum on strong guidance.",
//	})
//
//	reflection, ok := mem.Reflect(ctx, "AAPL", "2026-07-29")
package memory
