// Package orchestrator assembles the Main Graph (C5): Planner? -> Analyst
// subgraph -> (Debate -> Trader -> Risk)? -> Portfolio -> END, under one of
// two depth profiles. Grounded on graph/subgraph.go's AddSubgraph bridging
// and agents' Build*Subgraph constructors.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LingXuanTech/tradeorch/agents"
	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
	"github.com/LingXuanTech/tradeorch/config"
	"github.com/LingXuanTech/tradeorch/graph"
)

// Profile selects a depth profile for the assembled graph (spec §4.5).
type Profile string

const (
	ProfileL1 Profile = "L1"
	ProfileL2 Profile = "L2"
)

// Options controls graph assembly for one session.
type Options struct {
	Profile         Profile
	Market          analysis.Market
	SelectedAnalysts []analysis.AnalystKind // explicit override; empty uses market profile (or L1 subset)
	UsePlanner      bool
	PlannerRole     chatmodel.RoleKey

	AnalystDeps agents.AnalystDeps
	DebateDeps  agents.DebateDeps
	RiskDeps    agents.RiskDeps

	RecursionLimit int
}

// analystKindsFor resolves the concrete analyst set for a run: an explicit
// selection wins; otherwise L1 uses the quick-scan subset and L2 uses the
// full market profile (spec §4.5).
func analystKindsFor(o Options) []analysis.AnalystKind {
	if len(o.SelectedAnalysts) > 0 {
		return o.SelectedAnalysts
	}
	if o.Profile == ProfileL1 {
		return config.L1AnalystKinds
	}
	return config.MarketProfile(o.Market)
}

// BuildGraph assembles and compiles the top-level graph for one session.
func BuildGraph(o Options) (*graph.StateRunnable[*analysis.State], error) {
	kinds := analystKindsFor(o)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("orchestrator: no analysts selected for market %s", o.Market)
	}

	g := graph.NewStateGraph[*analysis.State]()
	g.SetSchema(analysis.NewSchema())

	entry := "Analyst"
	if o.UsePlanner {
		entry = "Planner"
		g.AddNode("Planner", "selects the active analyst set", makePlannerNode(kinds, o))
		g.AddEdge("Planner", "Analyst")
	}

	analystSub, err := agents.BuildAnalystSubgraph(kinds, o.AnalystDeps)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build analyst subgraph: %w", err)
	}
	if err := graph.AddSubgraph(g, "Analyst", analystSub, analysis.ToMap, analysis.FromMap); err != nil {
		return nil, fmt.Errorf("orchestrator: wire analyst subgraph: %w", err)
	}

	if o.Profile == ProfileL2 {
		debateSub, err := agents.BuildDebateSubgraph(o.DebateDeps)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build debate subgraph: %w", err)
		}
		if err := graph.AddSubgraph(g, "Debate", debateSub, analysis.ToMap, analysis.FromMap); err != nil {
			return nil, fmt.Errorf("orchestrator: wire debate subgraph: %w", err)
		}

		riskSub, err := agents.BuildRiskSubgraph(o.RiskDeps)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build risk subgraph: %w", err)
		}
		if err := graph.AddSubgraph(g, "Risk", riskSub, analysis.ToMap, analysis.FromMap); err != nil {
			return nil, fmt.Errorf("orchestrator: wire risk subgraph: %w", err)
		}

		g.AddNode("Trader", "drafts the trader investment plan from the manager's decision", traderNode)
		g.AddEdge("Analyst", "Debate")
		g.AddEdge("Debate", "Trader")
		g.AddEdge("Trader", "Risk")
		g.AddEdge("Risk", "Portfolio")
	} else {
		g.AddEdge("Analyst", "Portfolio")
	}

	g.AddNode("Portfolio", "terminal hand-off point for downstream portfolio analytics", portfolioNode)
	g.AddEdge("Portfolio", graph.END)

	g.SetEntryPoint(entry)

	return g.Compile()
}

// makePlannerNode builds the Planner node: it asks the chat model which of
// the default kinds to run, falling back to the full default set on any
// failure (Planner is advisory, never a hard dependency per spec §4.5 --
// "Planner is invoked only when requested").
func makePlannerNode(defaults []analysis.AnalystKind, o Options) func(context.Context, *analysis.State) (*analysis.State, error) {
	return func(ctx context.Context, state *analysis.State) (*analysis.State, error) {
		selected := defaults
		if o.AnalystDeps.Registry != nil {
			if model, err := o.AnalystDeps.Registry.Resolve(o.PlannerRole); err == nil {
				prompt := fmt.Sprintf(
					"You are the analysis planner for %s (%s market). From this list: %s, "+
						"choose which analysts should run, comma separated. If unsure, respond with all of them.",
					state.Symbol, state.Market, joinKinds(defaults))
				if resp, err := model.Generate(ctx, []chatmodel.Message{{Role: "user", Content: prompt}}); err == nil {
					if parsed := parseKinds(resp.Content, defaults); len(parsed) > 0 {
						selected = parsed
					}
				}
			}
		}
		return analysis.Merge(state, &analysis.Patch{SetRecommendedAnalysts: selected})
	}
}

func joinKinds(kinds []analysis.AnalystKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func parseKinds(text string, allowed []analysis.AnalystKind) []analysis.AnalystKind {
	allowedSet := make(map[analysis.AnalystKind]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	var out []analysis.AnalystKind
	for _, token := range strings.Split(text, ",") {
		kind := analysis.AnalystKind(strings.TrimSpace(strings.ToLower(token)))
		if allowedSet[kind] {
			out = append(out, kind)
		}
	}
	return out
}

// traderNode converts the research manager's investment plan into the
// trader's investment plan, the handoff State field the Risk subgraph reads
// (spec §4.4.3's "Inputs: State with trader_investment_plan populated").
func traderNode(_ context.Context, state *analysis.State) (*analysis.State, error) {
	plan := state.InvestmentPlan
	if plan == "" {
		plan = "No investment plan produced by debate; proceeding with a neutral stance."
	}
	traderPlan := "Trader plan (from manager decision): " + plan
	marker := analysis.ChatMessage{Role: "assistant", Content: traderPlan, Timestamp: time.Now()}
	return analysis.Merge(state, &analysis.Patch{
		SetTraderInvestmentPlan: strPtr(traderPlan),
		AppendMessages:          []analysis.ChatMessage{marker},
	})
}

// portfolioNode is the terminal hook where downstream portfolio-analytics
// features (out of scope per spec §1) would read the finished State; the
// core orchestrator itself passes the state through unchanged.
func portfolioNode(_ context.Context, state *analysis.State) (*analysis.State, error) {
	return state, nil
}

func strPtr(s string) *string { return &s }
