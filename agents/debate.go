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

// DebateDeps collects the Bull/Bear/Manager debate subgraph's collaborators.
type DebateDeps struct {
	Registry  *chatmodel.Registry
	BullRole  chatmodel.RoleKey
	BearRole  chatmodel.RoleKey
	ManagerRole chatmodel.RoleKey

	Config    resilient.Config
	Monitor   resilient.Monitor
	MaxRounds int
}

func (d DebateDeps) maxRounds() int {
	if d.MaxRounds > 0 {
		return d.MaxRounds
	}
	return 2
}

func (d DebateDeps) config() resilient.Config {
	if d.Config.Timeout == 0 {
		return resilient.DefaultConfig(analysis.AnalystMarket)
	}
	return d.Config
}

// BuildDebateSubgraph assembles the Bull/Bear investment debate subgraph
// (spec §4.4.2): START -> Bull -> (conditional) -> Bear/Manager -> END.
func BuildDebateSubgraph(deps DebateDeps) (*graph.StateGraph[map[string]any], error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("debate subgraph requires a chat model registry")
	}

	g := graph.NewStateGraph[map[string]any]()
	g.SetSchema(analysis.NewSchema())
	g.AddNode("Bull", "bull researcher turn", wrap(makeDebateTurn("Bull", "bull", deps.BullRole, deps)))
	g.AddNode("Bear", "bear researcher turn", wrap(makeDebateTurn("Bear", "bear", deps.BearRole, deps)))
	g.AddNode("Manager", "research manager verdict", wrap(makeManagerTurn(deps)))

	g.SetEntryPoint("Bull")
	g.AddConditionalEdge("Bull", wrapCond(ShouldContinueDebate(deps.maxRounds())))
	g.AddConditionalEdge("Bear", wrapCond(ShouldContinueDebate(deps.maxRounds())))
	g.AddEdge("Manager", graph.END)

	return g, nil
}

func makeDebateTurn(label, side string, role chatmodel.RoleKey, deps DebateDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		node := resilient.New(analysis.AnalystMarket, label, deps.config(),
			func(ctx context.Context, s *analysis.State) (*analysis.Patch, error) {
				return runDebateTurn(ctx, label, side, role, s, deps)
			})
		node.Monitor = deps.Monitor

		patch, err := node.Run(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.Merge(state, patch)
	}
}

func runDebateTurn(ctx context.Context, label, side string, role chatmodel.RoleKey, state *analysis.State, deps DebateDeps) (*analysis.Patch, error) {
	model, err := deps.Registry.Resolve(role)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"You are the %s researcher debating whether to invest in %s. "+
			"Prior debate so far:\n%s\n\nRespond with your next argument, prefixed with %q.",
		label, state.Symbol, state.InvestmentDebateState.History, label)

	resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	text := label + ": " + resp.Content
	patch := &analysis.Patch{
		InvestmentDebate: &analysis.InvestmentDebatePatch{
			AppendHistory:      text + "\n",
			SetCurrentResponse: strPtr(text),
			IncrementCount:     true,
		},
	}
	if side == "bull" {
		patch.InvestmentDebate.AppendBullHistory = text + "\n"
	} else {
		patch.InvestmentDebate.AppendBearHistory = text + "\n"
	}
	return patch, nil
}

func makeManagerTurn(deps DebateDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		node := resilient.New(analysis.AnalystMarket, "Manager", deps.config(),
			func(ctx context.Context, s *analysis.State) (*analysis.Patch, error) {
				return runManagerTurn(ctx, s, deps)
			})
		node.Monitor = deps.Monitor

		patch, err := node.Run(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.Merge(state, patch)
	}
}

func runManagerTurn(ctx context.Context, state *analysis.State, deps DebateDeps) (*analysis.Patch, error) {
	model, err := deps.Registry.Resolve(deps.ManagerRole)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"You are the research manager. Read the Bull/Bear debate and decide an "+
			"investment plan for %s.\n\nDebate:\n%s\n\nRespond with your decision.",
		state.Symbol, state.InvestmentDebateState.History)

	resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	decision := strings.TrimSpace(resp.Content)
	return &analysis.Patch{
		InvestmentDebate:  &analysis.InvestmentDebatePatch{SetJudgeDecision: strPtr(decision)},
		SetInvestmentPlan: strPtr(decision),
		AppendMessages: []analysis.ChatMessage{
			{Role: "assistant", Content: "Manager decision: " + decision, Timestamp: time.Now()},
		},
	}, nil
}

func strPtr(s string) *string { return &s }
