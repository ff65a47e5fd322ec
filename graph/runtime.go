package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Config carries per-invocation execution options: resume points, human-in-the-loop
// interrupt points, callback hooks, and free-form configurable values threaded
// through the context for nodes to read via GetConfig.
type Config struct {
	// ResumeFrom overrides the entry point(s) for this invocation, used to
	// continue execution after a GraphInterrupt.
	ResumeFrom []string

	// ResumeValue is returned by Interrupt() when a node re-executes after a pause.
	ResumeValue any

	// InterruptBefore pauses execution before any of the named nodes run.
	InterruptBefore []string

	// InterruptAfter pauses execution after any of the named nodes run.
	InterruptAfter []string

	// Callbacks receive chain/node/tool lifecycle events during invocation.
	Callbacks []CallbackHandler

	// Tags are propagated to callback invocations for correlation.
	Tags []string

	// Metadata is propagated to callback invocations.
	Metadata map[string]any

	// Configurable holds arbitrary per-run values nodes can read via GetConfig.
	Configurable map[string]any
}

type configContextKey struct{}

// WithConfig stores the run Config in the context so nested calls (subgraphs,
// tool invocations) can recover it without threading it through every signature.
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configContextKey{}, config)
}

// GetConfig retrieves the Config stored by WithConfig, or nil if none was set.
func GetConfig(ctx context.Context) *Config {
	config, _ := ctx.Value(configContextKey{}).(*Config)
	return config
}

// Command lets a node override the default routing instead of relying solely
// on static or conditional edges. A node function may return a *Command in
// place of its declared state type; processNodeResults unwraps it.
type Command struct {
	// Update is merged into the graph state in place of the node's normal return value.
	Update any

	// Goto names the next node (string) or set of next nodes ([]string),
	// overriding any static/conditional edges from the node that returned it.
	Goto any
}

// CallbackHandler receives lifecycle events during graph execution. It mirrors
// langchaingo's callback shape so the same handler can observe both chain-level
// and model-level calls made by node functions.
type CallbackHandler interface {
	OnChainStart(ctx context.Context, serialized map[string]any, inputs map[string]any, runID string, parentRunID *string, tags []string, metadata map[string]any)
	OnChainEnd(ctx context.Context, outputs map[string]any, runID string)
	OnChainError(ctx context.Context, err error, runID string)
	OnLLMStart(ctx context.Context, serialized map[string]any, prompts []string, runID string, parentRunID *string, tags []string, metadata map[string]any)
	OnLLMEnd(ctx context.Context, response any, runID string)
	OnLLMError(ctx context.Context, err error, runID string)
	OnToolStart(ctx context.Context, serialized map[string]any, inputStr string, runID string, parentRunID *string, tags []string, metadata map[string]any)
	OnToolEnd(ctx context.Context, output string, runID string)
	OnToolError(ctx context.Context, err error, runID string)
	OnRetrieverStart(ctx context.Context, serialized map[string]any, query string, runID string, parentRunID *string, tags []string, metadata map[string]any)
	OnRetrieverEnd(ctx context.Context, documents []any, runID string)
	OnRetrieverError(ctx context.Context, err error, runID string)
}

// GraphCallbackHandler is an optional extension a CallbackHandler can also
// implement to observe per-step graph progress (after each batch of nodes runs).
type GraphCallbackHandler interface {
	OnGraphStep(ctx context.Context, stepNode string, state any)
}

// SafeGo runs fn on its own goroutine tracked by wg, recovering from any panic
// and reporting it through onPanic instead of crashing the process. Node
// functions run inside executeNodesParallel through this helper.
func SafeGo(wg *sync.WaitGroup, fn func(), onPanic func(panicVal any)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
		}()
		fn()
	}()
}

// generateRunID produces a run identifier for callback correlation.
// It is not required to be globally unique, only unique within a single trace.
func generateRunID() string {
	return time.Now().Format("20060102150405.000000000")
}

// convertStateToMap adapts an arbitrary state value into a map for callbacks
// that expect map[string]any inputs/outputs (OnChainStart/OnChainEnd).
func convertStateToMap(state any) map[string]any {
	if m, ok := state.(map[string]any); ok {
		return m
	}
	return map[string]any{"state": state}
}

// convertStateToString renders a state value for callbacks that expect a
// string payload (OnToolStart/OnToolEnd), falling back to %v if it isn't JSON-serializable.
func convertStateToString(state any) string {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Sprintf("%v", state)
	}
	return string(data)
}
