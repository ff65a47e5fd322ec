package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
	"github.com/LingXuanTech/tradeorch/graph"
	"github.com/LingXuanTech/tradeorch/resilient"
)

// AnalystDeps collects the Analyst subgraph's collaborators (composition
// root pattern per spec §9: "explicitly constructed services passed by
// reference", grounding tests on fakes instead of module-level singletons).
type AnalystDeps struct {
	Registry *chatmodel.Registry
	Role     chatmodel.RoleKey

	// Tools maps analyst kind to the market-data tool it may call; a kind
	// absent from this map simply never receives a tool loop.
	Tools map[analysis.AnalystKind]MarketDataProvider

	// Configs overrides the default per-kind resilient.Config; kinds absent
	// here use resilient.DefaultConfig(kind).
	Configs map[analysis.AnalystKind]resilient.Config

	// PromptBuilder renders the system prompt for one analyst turn. Defaults
	// to defaultAnalystPrompt when nil.
	PromptBuilder func(kind analysis.AnalystKind, state *analysis.State) string

	Monitor resilient.Monitor

	// MaxToolTurns bounds the tool loop per analyst (spec §4.4.1: "may cycle
	// at most N times per analyst"); 0 uses a sane default.
	MaxToolTurns int
}

func (d AnalystDeps) resolveConfig(kind analysis.AnalystKind) resilient.Config {
	if cfg, ok := d.Configs[kind]; ok {
		return cfg
	}
	return resilient.DefaultConfig(kind)
}

func (d AnalystDeps) maxToolTurns() int {
	if d.MaxToolTurns > 0 {
		return d.MaxToolTurns
	}
	return 5
}

func defaultAnalystPrompt(kind analysis.AnalystKind, state *analysis.State) string {
	return fmt.Sprintf(
		"You are the %s analyst evaluating %s for trade date %s. "+
			"Write a concise report. If you need external data, respond with "+
			"exactly \"%s<tool name>|<query>\"; otherwise respond with your final report text.",
		kind, state.Symbol, state.TradeDate, toolCallPrefix)
}

// BuildAnalystSubgraph assembles the Analyst subgraph (spec §4.4.1) for the
// given set of analyst kinds, grounded on graph/subgraph.go's subgraph
// convention: it returns a *graph.StateGraph[map[string]any] suitable for
// graph.AddSubgraph or graph.NewSubgraph.
func BuildAnalystSubgraph(kinds []analysis.AnalystKind, deps AnalystDeps) (*graph.StateGraph[map[string]any], error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("analyst subgraph requires at least one analyst kind")
	}

	g := graph.NewStateGraph[map[string]any]()
	g.SetSchema(analysis.NewSchema())
	g.AddNode("Router", "seeds analyst tracking state", wrap(routerNode))
	g.SetEntryPoint("Router")

	for _, kind := range kinds {
		kind := kind
		g.AddNode(analystNodeName(kind), string(kind)+" analyst turn", wrap(makeAnalystTurn(kind, deps)))
		g.AddNode(toolsNodeName(kind), string(kind)+" tool execution", wrap(makeToolsNode(kind, deps)))
		g.AddNode(clearNodeName(kind), string(kind)+" transcript prune", wrap(makeClearNode(kind)))

		g.AddEdge("Router", analystNodeName(kind))
		g.AddConditionalEdge(analystNodeName(kind), wrapCond(ShouldContinueAnalyst(kind)))
		g.AddEdge(toolsNodeName(kind), analystNodeName(kind))
		g.AddEdge(clearNodeName(kind), "Sync")
	}

	g.AddNode("Sync", "validates every analyst completed", wrap(makeSyncNode(kinds)))
	g.AddEdge("Sync", graph.END)

	return g, nil
}

func routerNode(_ context.Context, state *analysis.State) (*analysis.State, error) {
	return analysis.Merge(state, &analysis.Patch{ResetAnalystTracking: true})
}

func makeAnalystTurn(kind analysis.AnalystKind, deps AnalystDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		node := resilient.New(kind, analystNodeName(kind), deps.resolveConfig(kind),
			func(ctx context.Context, s *analysis.State) (*analysis.Patch, error) {
				return runAnalystTurn(ctx, kind, s, deps)
			})
		node.Monitor = deps.Monitor

		patch, err := node.Run(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.Merge(state, patch)
	}
}

// runAnalystTurn is the analyst's actual reasoning step: one model call,
// producing either a completed report or an appended tool-call turn.
func runAnalystTurn(ctx context.Context, kind analysis.AnalystKind, state *analysis.State, deps AnalystDeps) (*analysis.Patch, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("analyst %s: no chat model registry configured", kind)
	}

	promptBuilder := deps.PromptBuilder
	if promptBuilder == nil {
		promptBuilder = defaultAnalystPrompt
	}

	transcript := state.AnalystMessages[kind]
	if toolTurnCount(transcript) >= deps.maxToolTurns() {
		// Tool loop exhausted: force completion with whatever was gathered.
		text := summarizeTranscript(kind, transcript)
		return finishAnalyst(kind, transcript, text), nil
	}

	model, err := deps.Registry.Resolve(deps.Role)
	if err != nil {
		return nil, err
	}

	messages := []chatmodel.Message{{Role: "system", Content: promptBuilder(kind, state)}}
	for _, m := range transcript {
		messages = append(messages, chatmodel.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := model.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	if call, ok := detectToolCall(resp.Content); ok {
		assistant := analysis.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: []analysis.ToolCall{call},
			Timestamp: time.Now(),
		}
		return &analysis.Patch{
			SetAnalystMessages: &analysis.AnalystMessagesPatch{
				Kind:     kind,
				Messages: append(append([]analysis.ChatMessage(nil), transcript...), assistant),
			},
		}, nil
	}

	assistant := analysis.ChatMessage{Role: "assistant", Content: resp.Content, Timestamp: time.Now()}
	return finishAnalyst(kind, append(transcript, assistant), resp.Content), nil
}

func finishAnalyst(kind analysis.AnalystKind, transcript []analysis.ChatMessage, reportText string) *analysis.Patch {
	return &analysis.Patch{
		SetAnalystMessages: &analysis.AnalystMessagesPatch{Kind: kind, Messages: transcript},
		SetAnalystReport:   &analysis.AnalystReportPatch{Kind: kind, Text: reportText},
		UnionAnalystCompleted: []analysis.AnalystKind{kind},
	}
}

func toolTurnCount(transcript []analysis.ChatMessage) int {
	count := 0
	for _, m := range transcript {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			count++
		}
	}
	return count
}

func summarizeTranscript(kind analysis.AnalystKind, transcript []analysis.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(string(kind) + " report (tool loop limit reached): ")
	for _, m := range transcript {
		if m.Role == "tool" {
			sb.WriteString(m.Content)
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

func makeToolsNode(kind analysis.AnalystKind, deps AnalystDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		transcript := state.AnalystMessages[kind]
		if len(transcript) == 0 {
			return state, nil
		}
		last := transcript[len(transcript)-1]
		if len(last.ToolCalls) == 0 {
			return state, nil
		}
		call := last.ToolCalls[0]

		provider, ok := deps.Tools[kind]
		var resultText string
		if !ok || provider == nil {
			resultText = "no tool available for " + call.Name
		} else {
			result, err := provider.Call(ctx, call.Arguments)
			if err != nil {
				resultText = "tool error: " + err.Error()
			} else {
				resultText = result
			}
		}

		toolMsg := analysis.ChatMessage{Role: "tool", Content: resultText, Timestamp: time.Now()}
		patch := &analysis.Patch{
			SetAnalystMessages: &analysis.AnalystMessagesPatch{
				Kind:     kind,
				Messages: append(append([]analysis.ChatMessage(nil), transcript...), toolMsg),
			},
		}
		return analysis.Merge(state, patch)
	}
}

func makeClearNode(kind analysis.AnalystKind) typedNode {
	return func(_ context.Context, state *analysis.State) (*analysis.State, error) {
		transcript := state.AnalystMessages[kind]
		if len(transcript) <= 3 {
			return state, nil
		}
		kept := append([]analysis.ChatMessage(nil), transcript[len(transcript)-3:]...)
		patch := &analysis.Patch{
			SetAnalystMessages: &analysis.AnalystMessagesPatch{Kind: kind, Messages: kept},
		}
		return analysis.Merge(state, patch)
	}
}

func makeSyncNode(kinds []analysis.AnalystKind) typedNode {
	return func(_ context.Context, state *analysis.State) (*analysis.State, error) {
		var degraded []string
		for _, kind := range kinds {
			_, hasReport := state.AnalystReports[kind]
			_, hasError := state.AnalystErrors[kind]
			if !hasReport && !hasError {
				degraded = append(degraded, string(kind)+" (missing)")
			} else if hasError {
				degraded = append(degraded, string(kind))
			}
		}

		summary := "All analysts completed."
		if len(degraded) > 0 {
			summary += " Degraded: " + strings.Join(degraded, ", ") + "."
		}
		marker := analysis.ChatMessage{Role: "system", Content: summary, Timestamp: time.Now()}
		return analysis.Merge(state, &analysis.Patch{AppendMessages: []analysis.ChatMessage{marker}})
	}
}
