package agents

import (
	"strings"

	"github.com/LingXuanTech/tradeorch/analysis"
)

// analystNodeName, toolsNodeName and clearNodeName build the per-kind node names used throughout the Analyst
// subgraph's topology (spec §4.4.1), keeping the mapping as a small closed
// static table per §9's "dynamic field routing... keep as a static table".
func analystNodeName(kind analysis.AnalystKind) string { return "analyst_" + string(kind) }
func toolsNodeName(kind analysis.AnalystKind) string    { return "tools_" + string(kind) }
func clearNodeName(kind analysis.AnalystKind) string    { return "clear_" + string(kind) }

// ShouldContinueAnalyst is should_continue_<kind> (spec §4.6): if the
// analyst's last private-transcript message carries tool calls, route to the
// tools node; otherwise the branch is done and routes to ClearMessages.
func ShouldContinueAnalyst(kind analysis.AnalystKind) func(*analysis.State) string {
	return func(state *analysis.State) string {
		transcript := state.AnalystMessages[kind]
		if len(transcript) == 0 {
			return clearNodeName(kind)
		}
		last := transcript[len(transcript)-1]
		if last.Role == "assistant" && len(last.ToolCalls) > 0 {
			return toolsNodeName(kind)
		}
		return clearNodeName(kind)
	}
}

// ShouldContinueDebate is should_continue_debate (spec §4.6): alternates
// Bull/Bear until count reaches 2*maxRounds, then hands off to Manager.
func ShouldContinueDebate(maxRounds int) func(*analysis.State) string {
	return func(state *analysis.State) string {
		d := state.InvestmentDebateState
		if d.Count >= 2*maxRounds {
			return "Manager"
		}
		if strings.HasPrefix(d.CurrentResponse, "Bear") {
			return "Bull"
		}
		return "Bear"
	}
}

// ShouldContinueRisk is should_continue_risk (spec §4.6): cycles
// Risky -> Safe -> Neutral -> Risky until count reaches 3*maxRounds.
func ShouldContinueRisk(maxRounds int) func(*analysis.State) string {
	return func(state *analysis.State) string {
		r := state.RiskDebateState
		if r.Count >= 3*maxRounds {
			return "Judge"
		}
		switch r.LatestSpeaker {
		case "Risky":
			return "Safe"
		case "Safe":
			return "Neutral"
		default:
			return "Risky"
		}
	}
}
