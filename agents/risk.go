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

// RiskDeps collects the Risky/Safe/Neutral/Judge risk debate subgraph's
// collaborators (spec §4.4.3).
type RiskDeps struct {
	Registry    *chatmodel.Registry
	RiskyRole   chatmodel.RoleKey
	SafeRole    chatmodel.RoleKey
	NeutralRole chatmodel.RoleKey
	JudgeRole   chatmodel.RoleKey

	Config    resilient.Config
	Monitor   resilient.Monitor
	MaxRounds int
}

func (d RiskDeps) maxRounds() int {
	if d.MaxRounds > 0 {
		return d.MaxRounds
	}
	return 1
}

func (d RiskDeps) config() resilient.Config {
	if d.Config.Timeout == 0 {
		return resilient.DefaultConfig(analysis.AnalystMarket)
	}
	return d.Config
}

// BuildRiskSubgraph assembles the risk debate subgraph (spec §4.4.3):
// START -> Risky -> Safe -> Neutral -> (conditional loop) -> Judge -> END.
func BuildRiskSubgraph(deps RiskDeps) (*graph.StateGraph[map[string]any], error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("risk subgraph requires a chat model registry")
	}

	g := graph.NewStateGraph[map[string]any]()
	g.SetSchema(analysis.NewSchema())
	g.AddNode("Risky", "risky analyst turn", wrap(makeRiskTurn("Risky", deps.RiskyRole, deps)))
	g.AddNode("Safe", "safe analyst turn", wrap(makeRiskTurn("Safe", deps.SafeRole, deps)))
	g.AddNode("Neutral", "neutral analyst turn", wrap(makeRiskTurn("Neutral", deps.NeutralRole, deps)))
	g.AddNode("Judge", "risk judge verdict", wrap(makeJudgeTurn(deps)))

	g.SetEntryPoint("Risky")
	g.AddEdge("Risky", "Safe")
	g.AddEdge("Safe", "Neutral")
	g.AddConditionalEdge("Neutral", wrapCond(ShouldContinueRisk(deps.maxRounds())))
	g.AddEdge("Judge", graph.END)

	return g, nil
}

func makeRiskTurn(label string, role chatmodel.RoleKey, deps RiskDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		node := resilient.New(analysis.AnalystMarket, label, deps.config(),
			func(ctx context.Context, s *analysis.State) (*analysis.Patch, error) {
				return runRiskTurn(ctx, label, role, s, deps)
			})
		node.Monitor = deps.Monitor

		patch, err := node.Run(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.Merge(state, patch)
	}
}

func runRiskTurn(ctx context.Context, label string, role chatmodel.RoleKey, state *analysis.State, deps RiskDeps) (*analysis.Patch, error) {
	model, err := deps.Registry.Resolve(role)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"You are the %s risk analyst evaluating the trade plan for %s:\n%s\n\n"+
			"Prior risk debate:\n%s\n\nRespond with your risk assessment, prefixed with %q.",
		label, state.Symbol, state.TraderInvestmentPlan, state.RiskDebateState.History, label)

	resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	text := label + ": " + resp.Content
	patch := &analysis.Patch{
		RiskDebate: &analysis.RiskDebatePatch{
			AppendHistory:    text + "\n",
			SetLatestSpeaker: strPtr(label),
			IncrementCount:   true,
		},
	}
	switch label {
	case "Risky":
		patch.RiskDebate.AppendRiskyHistory = text + "\n"
	case "Safe":
		patch.RiskDebate.AppendSafeHistory = text + "\n"
	case "Neutral":
		patch.RiskDebate.AppendNeutralHistory = text + "\n"
	}
	return patch, nil
}

func makeJudgeTurn(deps RiskDeps) typedNode {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		node := resilient.New(analysis.AnalystMarket, "Judge", deps.config(),
			func(ctx context.Context, s *analysis.State) (*analysis.Patch, error) {
				return runJudgeTurn(ctx, s, deps)
			})
		node.Monitor = deps.Monitor

		patch, err := node.Run(ctx, state)
		if err != nil {
			return nil, err
		}
		return analysis.Merge(state, patch)
	}
}

func runJudgeTurn(ctx context.Context, state *analysis.State, deps RiskDeps) (*analysis.Patch, error) {
	model, err := deps.Registry.Resolve(deps.JudgeRole)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"You are the risk management judge for %s. Read the risk debate and issue "+
			"a final trade decision.\n\nDebate:\n%s\n\nRespond with your decision.",
		state.Symbol, state.RiskDebateState.History)

	resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	decision := strings.TrimSpace(resp.Content)
	return &analysis.Patch{
		RiskDebate:            &analysis.RiskDebatePatch{SetJudgeDecision: strPtr(decision)},
		SetFinalTradeDecision: strPtr(decision),
		AppendMessages: []analysis.ChatMessage{
			{Role: "assistant", Content: "Judge decision: " + decision, Timestamp: time.Now()},
		},
	}, nil
}
