package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LingXuanTech/tradeorch/agents"
	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/eventstream"
	reflectmem "github.com/LingXuanTech/tradeorch/memory"
	"github.com/LingXuanTech/tradeorch/orchestrator"
	"github.com/LingXuanTech/tradeorch/store/memory"
	"github.com/LingXuanTech/tradeorch/synthesize"
)

func TestRequest_Level_DefaultsToL2(t *testing.T) {
	req := Request{}
	assert.Equal(t, orchestrator.ProfileL2, req.level())
}

func TestRequest_Level_HonorsExplicitL1(t *testing.T) {
	req := Request{AnalysisLevel: orchestrator.ProfileL1}
	assert.Equal(t, orchestrator.ProfileL1, req.level())
}

func TestRequest_UsePlanner_DefaultsTrue(t *testing.T) {
	req := Request{}
	assert.True(t, req.usePlanner())
}

func TestRequest_UsePlanner_HonorsExplicitFalse(t *testing.T) {
	no := false
	req := Request{UsePlanner: &no}
	assert.False(t, req.usePlanner())
}

func TestRequest_Fingerprint_StableAndDistinguishing(t *testing.T) {
	a := Request{Symbol: "AAPL", TradeDate: "2026-07-29", Market: analysis.MarketUS}
	b := Request{Symbol: "AAPL", TradeDate: "2026-07-29", Market: analysis.MarketUS}
	c := Request{Symbol: "MSFT", TradeDate: "2026-07-29", Market: analysis.MarketUS}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestExcludeKinds(t *testing.T) {
	out := excludeKinds(
		[]analysis.AnalystKind{analysis.AnalystMarket, analysis.AnalystNews, analysis.AnalystMacro},
		[]analysis.AnalystKind{analysis.AnalystNews},
	)
	assert.Equal(t, []analysis.AnalystKind{analysis.AnalystMarket, analysis.AnalystMacro}, out)
}

// buildDegradedGraph returns an orchestrator.Options for a profile-L1, no-planner
// run with every dependency left nil. resilient.Node.Run's panic recovery
// (agents -> resilient -> nil Registry) turns each analyst's nil-model call into
// a degradation stub rather than a panic, so the graph completes end to end
// without a real chatmodel.Registry.
func buildDegradedGraph(market analysis.Market, profile orchestrator.Profile, kinds []analysis.AnalystKind, usePlanner bool) (orchestrator.Options, error) {
	return orchestrator.Options{
		Profile:          profile,
		Market:           market,
		SelectedAnalysts: kinds,
		UsePlanner:       usePlanner,
		AnalystDeps: agents.AnalystDeps{
			Tools: map[analysis.AnalystKind]agents.MarketDataProvider{},
		},
	}, nil
}

func TestRunner_Start_CompletesWithRuleBasedVerdict(t *testing.T) {
	runner := New(Deps{
		BuildGraph:  buildDegradedGraph,
		Checkpoints: memory.NewMemoryCheckpointStore(),
		Synthesizer: &synthesize.Synthesizer{Registry: nil},
		BufferSize:  64,
	})

	sessionID, stream, err := runner.Start(context.Background(), Request{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-29",
		Market:        analysis.MarketUS,
		AnalysisLevel: orchestrator.ProfileL1,
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.NotNil(t, stream)

	ch := stream.Subscribe(context.Background(), 0)
	deadline := time.After(5 * time.Second)
waitForTerminal:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed before a terminal event arrived")
			}
			if ev.Kind == eventstream.KindTerminal {
				break waitForTerminal
			}
		case <-deadline:
			t.Fatal("timed out waiting for session completion")
		}
	}

	descriptor, ok := runner.Get(sessionID)
	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, descriptor.Status)
	if assert.NotNil(t, descriptor.Verdict) {
		assert.Equal(t, synthesize.SignalHold, descriptor.Verdict.Signal)
	}
}

func TestRunner_Start_DedupsByFingerprint(t *testing.T) {
	runner := New(Deps{
		BuildGraph:  buildDegradedGraph,
		Checkpoints: memory.NewMemoryCheckpointStore(),
		Synthesizer: &synthesize.Synthesizer{Registry: nil},
		BufferSize:  64,
	})

	req := Request{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-29",
		Market:        analysis.MarketUS,
		AnalysisLevel: orchestrator.ProfileL1,
	}

	id1, _, err := runner.Start(context.Background(), req)
	assert.NoError(t, err)

	id2, _, err := runner.Start(context.Background(), req)
	assert.NoError(t, err)

	assert.Equal(t, id1, id2, "a request with an identical fingerprint while running must reuse the session")
}

func TestRunner_Cancel_TransitionsStatus(t *testing.T) {
	runner := New(Deps{
		BuildGraph:  buildDegradedGraph,
		Checkpoints: memory.NewMemoryCheckpointStore(),
		Synthesizer: &synthesize.Synthesizer{Registry: nil},
		BufferSize:  64,
	})

	sessionID, _, err := runner.Start(context.Background(), Request{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-29",
		Market:        analysis.MarketUS,
		AnalysisLevel: orchestrator.ProfileL1,
	})
	assert.NoError(t, err)

	canceled, err := runner.Cancel(context.Background(), sessionID)
	assert.NoError(t, err)
	assert.True(t, canceled)

	descriptor, ok := runner.Get(sessionID)
	assert.True(t, ok)
	assert.Equal(t, StatusCanceled, descriptor.Status)
}

func TestRunner_Cancel_UnknownSession(t *testing.T) {
	runner := New(Deps{Checkpoints: memory.NewMemoryCheckpointStore()})
	canceled, err := runner.Cancel(context.Background(), "does-not-exist")
	assert.NoError(t, err)
	assert.False(t, canceled)
}

func TestRunner_Get_UnknownSession(t *testing.T) {
	runner := New(Deps{Checkpoints: memory.NewMemoryCheckpointStore()})
	_, ok := runner.Get("does-not-exist")
	assert.False(t, ok)
}

func TestRunner_Stream_UnknownSession(t *testing.T) {
	runner := New(Deps{Checkpoints: memory.NewMemoryCheckpointStore()})
	_, ok := runner.Stream("does-not-exist")
	assert.False(t, ok)
}

func TestRunner_Start_RecordsOutcomeIntoHistory(t *testing.T) {
	history := reflectmem.NewGraphBasedReflectionMemory(5)
	runner := New(Deps{
		BuildGraph:  buildDegradedGraph,
		Checkpoints: memory.NewMemoryCheckpointStore(),
		Synthesizer: &synthesize.Synthesizer{Registry: nil},
		History:     history,
		BufferSize:  64,
	})

	sessionID, stream, err := runner.Start(context.Background(), Request{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-29",
		Market:        analysis.MarketUS,
		AnalysisLevel: orchestrator.ProfileL1,
	})
	assert.NoError(t, err)

	ch := stream.Subscribe(context.Background(), 0)
	deadline := time.After(5 * time.Second)
waitForOutcomeRecorded:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed before a terminal event arrived")
			}
			if ev.Kind == eventstream.KindTerminal {
				break waitForOutcomeRecorded
			}
		case <-deadline:
			t.Fatal("timed out waiting for session completion")
		}
	}

	descriptor, ok := runner.Get(sessionID)
	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, descriptor.Status)

	reflection, ok := history.Reflect(context.Background(), "AAPL", "2026-08-01")
	assert.True(t, ok, "the completed run's verdict should be recorded into history")
	assert.Contains(t, reflection, "2026-07-29")
}
