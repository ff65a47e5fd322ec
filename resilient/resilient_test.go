package resilient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/orcherr"
)

func TestNode_Run_Success(t *testing.T) {
	n := New(analysis.AnalystMarket, "market", Config{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
		func(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
			return &analysis.Patch{SetAnalystReport: &analysis.AnalystReportPatch{Kind: analysis.AnalystMarket, Text: "bullish"}}, nil
		})

	patch, err := n.Run(context.Background(), analysis.New("AAPL", "2026-07-29", analysis.MarketUS))
	assert.NoError(t, err)
	assert.Equal(t, "bullish", patch.SetAnalystReport.Text)
}

func TestNode_Run_TimeoutDegrades(t *testing.T) {
	n := New(analysis.AnalystMarket, "market", Config{Timeout: 10 * time.Millisecond, MaxRetries: 0, RetryDelay: time.Millisecond},
		func(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	patch, err := n.Run(context.Background(), analysis.New("AAPL", "2026-07-29", analysis.MarketUS))
	assert.NoError(t, err, "Run never propagates a node failure as an error")
	assert.Contains(t, patch.SetAnalystReport.Text, analysis.DegradationPrefix)
	assert.True(t, patch.UnionAnalystCompleted[0] == analysis.AnalystMarket)
}

func TestNode_Run_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	n := New(analysis.AnalystNews, "news", Config{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
		func(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
			attempts++
			if attempts == 1 {
				return nil, orcherr.New(orcherr.KindProviderTransient, "news", "rate limited")
			}
			return &analysis.Patch{SetAnalystReport: &analysis.AnalystReportPatch{Kind: analysis.AnalystNews, Text: "ok"}}, nil
		})

	patch, err := n.Run(context.Background(), analysis.New("AAPL", "2026-07-29", analysis.MarketUS))
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "ok", patch.SetAnalystReport.Text)
}

func TestNode_Run_NonRetryableDegradesImmediately(t *testing.T) {
	attempts := 0
	n := New(analysis.AnalystFundamentals, "fundamentals", Config{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond},
		func(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
			attempts++
			return nil, orcherr.New(orcherr.KindInvalidState, "fundamentals", "missing field")
		})

	patch, err := n.Run(context.Background(), analysis.New("AAPL", "2026-07-29", analysis.MarketUS))
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts, "InvalidState is not retryable")
	assert.Contains(t, patch.SetAnalystReport.Text, analysis.DegradationPrefix)
}

func TestNode_Run_AlreadyCanceled(t *testing.T) {
	n := New(analysis.AnalystMarket, "market", Config{Timeout: time.Second}, func(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
		t.Fatal("must not invoke Fn when context is already canceled")
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Run(ctx, analysis.New("AAPL", "2026-07-29", analysis.MarketUS))
	assert.ErrorIs(t, err, orcherr.ErrSessionCanceled)
}

func TestDefaultConfig_KnownAndUnknownKinds(t *testing.T) {
	cfg := DefaultConfig(analysis.AnalystNews)
	assert.Equal(t, 60*time.Second, cfg.Timeout)

	fallback := DefaultConfig(analysis.AnalystKind("unlisted"))
	assert.Equal(t, 45*time.Second, fallback.Timeout)
}
