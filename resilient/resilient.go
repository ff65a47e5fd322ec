// Package resilient wraps an agent node function with the timeout, bounded
// retry, and degradation-stub contract of spec §4.2 (C2). It is grounded on
// graph/retry.go's RetryNode/TimeoutNode pattern, generalized from the
// untyped Node signature to analysis.State/Patch.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/log"
	"github.com/LingXuanTech/tradeorch/orcherr"
)

// AgentFunc is a node's actual reasoning function: read the state, produce a
// patch, or fail.
type AgentFunc func(ctx context.Context, state *analysis.State) (*analysis.Patch, error)

// Metrics is one invocation's outcome, published to Monitor.
type Metrics struct {
	NodeName string
	Duration time.Duration
	Success  bool
	Error    error
	Timeout  bool
	Retries  int
}

// Monitor receives Metrics for every resilient invocation. Implementations
// must not block; LogMonitor logs at Debug and returns. A Node with a nil
// Monitor reports nothing.
type Monitor interface {
	Observe(m Metrics)
}

// LogMonitor publishes Metrics as a debug log line through a log.Logger.
type LogMonitor struct {
	Logger log.Logger
}

// Observe implements Monitor.
func (lm *LogMonitor) Observe(m Metrics) {
	if lm.Logger == nil {
		return
	}
	lm.Logger.Debug("resilient node %s: duration=%s success=%t timeout=%t retries=%d err=%v",
		m.NodeName, m.Duration, m.Success, m.Timeout, m.Retries, m.Error)
}

// Config controls one kind's timeout/retry/degradation behavior.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultTimeouts holds the per-analyst-kind defaults from spec §4.2.
var DefaultTimeouts = map[analysis.AnalystKind]time.Duration{
	analysis.AnalystMarket:       45 * time.Second,
	analysis.AnalystNews:         60 * time.Second,
	analysis.AnalystFundamentals: 60 * time.Second,
	analysis.AnalystSentiment:    45 * time.Second,
	analysis.AnalystPolicy:       45 * time.Second,
	analysis.AnalystFundFlow:     45 * time.Second,
	analysis.AnalystMacro:        60 * time.Second,
	analysis.AnalystSocial:       45 * time.Second,
}

// DefaultConfig returns the spec-mandated default config for an analyst kind,
// falling back to a 45s timeout for kinds with no listed default.
func DefaultConfig(kind analysis.AnalystKind) Config {
	timeout, ok := DefaultTimeouts[kind]
	if !ok {
		timeout = 45 * time.Second
	}
	return Config{
		Timeout:    timeout,
		MaxRetries: 1,
		RetryDelay: 2 * time.Second,
	}
}

// Node wraps an AgentFunc with the C2 contract: hard timeout, bounded retry
// for transient/timeout errors only, and a degradation-stub fallback on
// exhaustion. The wrapped function's error never propagates out — the
// returned Patch is usable by the caller — except on session cancellation,
// where Run returns a SessionCanceled error and no Patch.
type Node struct {
	Kind    analysis.AnalystKind
	Name    string
	Config  Config
	Fn      AgentFunc
	Monitor Monitor
}

// New constructs a resilient Node for the given analyst kind.
func New(kind analysis.AnalystKind, name string, cfg Config, fn AgentFunc) *Node {
	return &Node{Kind: kind, Name: name, Config: cfg, Fn: fn}
}

// Run executes the wrapped function under the node's timeout/retry policy.
// On success it returns the node's own Patch. On exhaustion it returns a
// degradation-stub Patch per spec §4.2 and never a non-nil error — callers
// that need to detect degradation should inspect the returned Patch for a
// SetAnalystReport with stub text, or check ctx.Err() for cancellation.
func (n *Node) Run(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, orcherr.Wrap(orcherr.KindSessionCanceled, n.Name, err)
	}

	start := time.Now()
	var lastErr error
	retries := 0
	timedOut := false

	maxAttempts := n.Config.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		patch, err := n.runOnce(ctx, state)
		if err == nil {
			n.observe(Metrics{NodeName: n.Name, Duration: time.Since(start), Success: true, Retries: retries})
			return patch, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) {
			return nil, orcherr.Wrap(orcherr.KindSessionCanceled, n.Name, err)
		}

		kind, _ := orcherr.KindOf(err)
		if errors.Is(err, context.DeadlineExceeded) {
			kind = orcherr.KindNodeTimeout
			timedOut = true
		}
		if !orcherr.Retryable(kind) {
			break
		}
		if attempt+1 < maxAttempts {
			retries++
			select {
			case <-time.After(n.Config.RetryDelay):
			case <-ctx.Done():
				return nil, orcherr.Wrap(orcherr.KindSessionCanceled, n.Name, ctx.Err())
			}
		}
	}

	n.observe(Metrics{NodeName: n.Name, Duration: time.Since(start), Success: false, Error: lastErr, Timeout: timedOut, Retries: retries})
	return n.degradationStub(lastErr), nil
}

func (n *Node) runOnce(ctx context.Context, state *analysis.State) (*analysis.Patch, error) {
	nodeCtx, cancel := context.WithTimeout(ctx, n.Config.Timeout)
	defer cancel()

	type result struct {
		patch *analysis.Patch
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: orcherr.New(orcherr.KindInvalidState, n.Name, "panic: %v", r)}
			}
		}()
		patch, err := n.Fn(nodeCtx, state)
		resultCh <- result{patch: patch, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.patch, res.err
	case <-nodeCtx.Done():
		// The node's own goroutine may still be running; its eventual value is
		// discarded per spec §4.2 ("the node's returned value, if any, is discarded").
		return nil, nodeCtx.Err()
	}
}

func (n *Node) degradationStub(cause error) *analysis.Patch {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	stubText := analysis.StubReport(n.Kind, reason)
	marker := analysis.ChatMessage{
		Role:      "system",
		Content:   n.Name + " degraded: " + reason,
		Timestamp: time.Now(),
	}
	return &analysis.Patch{
		AppendMessages:        []analysis.ChatMessage{marker},
		SetAnalystReport:      &analysis.AnalystReportPatch{Kind: n.Kind, Text: stubText},
		AppendAnalystErrors:   map[analysis.AnalystKind]string{n.Kind: reason},
		UnionAnalystCompleted: []analysis.AnalystKind{n.Kind},
	}
}

func (n *Node) observe(m Metrics) {
	if n.Monitor != nil {
		n.Monitor.Observe(m)
	}
}
