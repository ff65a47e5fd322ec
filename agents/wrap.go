// Package agents builds the three self-contained subgraphs of spec §4.4
// (Analyst, Debate, Risk) plus the pure conditional-routing functions of
// §4.6, grounded on graph/subgraph.go's map[string]any bridging convention.
package agents

import (
	"context"

	"github.com/LingXuanTech/tradeorch/analysis"
)

// typedNode is a node function operating on the domain state directly.
type typedNode func(ctx context.Context, state *analysis.State) (*analysis.State, error)

// wrap adapts a typedNode to the map[string]any signature graph.StateGraph
// nodes require when composed as a subgraph (grounded on graph/subgraph.go's
// AddSubgraph converter/resultConverter pair, applied here at node
// granularity instead of subgraph-boundary granularity since every node in
// these subgraphs shares the same box-unbox convention).
func wrap(fn typedNode) func(ctx context.Context, state map[string]any) (map[string]any, error) {
	return func(ctx context.Context, boxed map[string]any) (map[string]any, error) {
		state := analysis.FromMap(boxed)
		next, err := fn(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.ToMap(next), nil
	}
}

// wrapCond adapts a pure routing function over *analysis.State to the
// map[string]any signature graph.AddConditionalEdge requires.
func wrapCond(fn func(*analysis.State) string) func(ctx context.Context, state map[string]any) string {
	return func(_ context.Context, boxed map[string]any) string {
		return fn(analysis.FromMap(boxed))
	}
}
