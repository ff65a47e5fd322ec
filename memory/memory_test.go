package memory

import (
	"context"
	"testing"
)

func TestGraphBasedReflectionMemory_ReflectsLinkedPriorOutcome(t *testing.T) {
	ctx := context.Background()
	mem := NewGraphBasedReflectionMemory(5)

	if err := mem.Add(ctx, Record{Symbol: "AAPL", TradeDate: "2026-07-20", Signal: "Buy", Reasoning: "Bullish momentum on strong guidance."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mem.Add(ctx, Record{Symbol: "AAPL", TradeDate: "2026-07-24", Signal: "Hold", Reasoning: "Momentum cooled, watching for a breakout."}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reflection, ok := mem.Reflect(ctx, "AAPL", "2026-07-29")
	if !ok {
		t.Fatal("expected a reflection for a symbol with prior records")
	}
	if !contains(reflection, "2026-07-24") || !contains(reflection, "2026-07-20") {
		t.Errorf("reflection missing expected prior dates: %q", reflection)
	}
}

func TestGraphBasedReflectionMemory_NoHistoryReturnsFalse(t *testing.T) {
	mem := NewGraphBasedReflectionMemory(5)
	_, ok := mem.Reflect(context.Background(), "MSFT", "2026-07-29")
	if ok {
		t.Fatal("expected no reflection for a symbol with no prior records")
	}
}

func TestGraphBasedReflectionMemory_ExcludesCurrentRun(t *testing.T) {
	ctx := context.Background()
	mem := NewGraphBasedReflectionMemory(5)
	if err := mem.Add(ctx, Record{Symbol: "AAPL", TradeDate: "2026-07-29", Signal: "Hold", Reasoning: "in progress"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, ok := mem.Reflect(ctx, "AAPL", "2026-07-29")
	if ok {
		t.Fatal("Reflect must not surface the record for the run currently in progress")
	}
}

func TestGraphBasedReflectionMemory_LinksAcrossSymbolsBySharedTopic(t *testing.T) {
	ctx := context.Background()
	mem := NewGraphBasedReflectionMemory(5)

	if err := mem.Add(ctx, Record{Symbol: "AAPL", TradeDate: "2026-07-10", Signal: "Buy", Reasoning: "Strong breakout above resistance."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mem.Add(ctx, Record{Symbol: "MSFT", TradeDate: "2026-07-15", Signal: "Hold", Reasoning: "Consolidating, no clear breakout yet."}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reflection, ok := mem.Reflect(ctx, "AAPL", "2026-07-29")
	if !ok {
		t.Fatal("expected a reflection")
	}
	if !contains(reflection, "breakout") && !contains(reflection, "2 prior outcome") {
		t.Errorf("expected the two breakout-linked records to surface together: %q", reflection)
	}
}

func TestGraphBasedReflectionMemory_Clear(t *testing.T) {
	ctx := context.Background()
	mem := NewGraphBasedReflectionMemory(5)
	if err := mem.Add(ctx, Record{Symbol: "AAPL", TradeDate: "2026-07-10", Signal: "Buy", Reasoning: "Bullish."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mem.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	_, ok := mem.Reflect(ctx, "AAPL", "2026-07-29")
	if ok {
		t.Fatal("expected no reflection after Clear")
	}
}

func TestGraphBasedReflectionMemory_RejectsIncompleteRecord(t *testing.T) {
	mem := NewGraphBasedReflectionMemory(5)
	if err := mem.Add(context.Background(), Record{Signal: "Buy"}); err == nil {
		t.Fatal("expected an error for a record missing symbol/trade_date")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
