package analysis

// Schema implements graph.StateSchemaTyped[*State] (duck-typed — analysis does
// not import graph to avoid a cyclic dependency; orchestrator wires this in
// via g.SetSchema(analysis.NewSchema())). It folds a node's returned full
// state clone back into the accumulator, which is how parallel analyst
// branches merge their disjoint writes (spec §4.3) and how every serial node
// result folds into the running state.
type Schema struct{}

// NewSchema returns the canonical analysis Schema.
func NewSchema() *Schema {
	return &Schema{}
}

// Init returns a blank State. The graph runtime merges the caller's actual
// initial state into this via Update immediately after.
func (s *Schema) Init() *State {
	return New("", "", "")
}

// Update folds new into current. Map fields (AnalystReports, AnalystErrors,
// AnalystCompleted) union key-by-key so that disjoint writes from concurrent
// analyst branches accumulate instead of clobbering each other. Messages
// union by value so that duplicate accumulation across merge steps is a
// no-op. The per-analyst mirror report fields (MarketReport, NewsReport,
// ...) are guarded the same way RecommendedAnalysts/Symbol/TradeDate/Market
// are below: only overwritten when new actually set them, since a
// concurrent analyst branch's clone leaves every mirror field but its own
// blank from the pre-fanout snapshot. Every other field is taken from new
// unconditionally, since node functions always clone the pre-node state
// before mutating only the fields they own — an unmutated field in new is
// already identical to current.
func (s *Schema) Update(current, new *State) (*State, error) {
	if current == nil {
		current = New("", "", "")
	}
	if new == nil {
		return current, nil
	}

	result := clone(current)

	for k, v := range new.AnalystReports {
		result.AnalystReports[k] = v
	}
	for k, v := range new.AnalystErrors {
		result.AnalystErrors[k] = v
	}
	for k, ok := range new.AnalystCompleted {
		if ok {
			result.AnalystCompleted[k] = true
		}
	}
	for k, v := range new.AnalystMessages {
		result.AnalystMessages[k] = v
	}

	for _, m := range new.Messages {
		if !containsMessage(result.Messages, m) {
			result.Messages = append(result.Messages, m)
		}
	}

	if len(new.RecommendedAnalysts) > 0 {
		result.RecommendedAnalysts = new.RecommendedAnalysts
	}

	result.InvestmentDebateState = new.InvestmentDebateState
	result.RiskDebateState = new.RiskDebateState
	result.InvestmentPlan = new.InvestmentPlan
	result.TraderInvestmentPlan = new.TraderInvestmentPlan
	result.FinalTradeDecision = new.FinalTradeDecision
	result.HistoricalReflection = new.HistoricalReflection

	// Guarded like RecommendedAnalysts/Symbol/TradeDate/Market below: a
	// concurrent analyst branch's clone carries its own mirror field set and
	// every other mirror field still blank from the pre-fanout snapshot, so
	// an unconditional assignment here would stomp an already-folded
	// sibling's report back to "" on the very next fold.
	if new.MarketReport != "" {
		result.MarketReport = new.MarketReport
	}
	if new.NewsReport != "" {
		result.NewsReport = new.NewsReport
	}
	if new.FundamentalsReport != "" {
		result.FundamentalsReport = new.FundamentalsReport
	}
	if new.SentimentReport != "" {
		result.SentimentReport = new.SentimentReport
	}
	if new.PolicyReport != "" {
		result.PolicyReport = new.PolicyReport
	}
	if new.FundFlowReport != "" {
		result.FundFlowReport = new.FundFlowReport
	}
	if new.MacroReport != "" {
		result.MacroReport = new.MacroReport
	}
	if new.SocialReport != "" {
		result.SocialReport = new.SocialReport
	}
	if new.RetailSentimentReport != "" {
		result.RetailSentimentReport = new.RetailSentimentReport
	}

	if new.Symbol != "" {
		result.Symbol = new.Symbol
	}
	if new.TradeDate != "" {
		result.TradeDate = new.TradeDate
	}
	if new.Market != "" {
		result.Market = new.Market
	}

	return result, nil
}

func containsMessage(haystack []ChatMessage, needle ChatMessage) bool {
	for _, m := range haystack {
		if m.Role == needle.Role && m.Content == needle.Content && m.Timestamp.Equal(needle.Timestamp) {
			return true
		}
	}
	return false
}

// ToMap boxes a *State for bridging into graph.AddSubgraph, whose subgraphs
// operate on map[string]any.
func ToMap(s *State) map[string]any {
	return map[string]any{"state": s}
}

// FromMap unboxes the *State a subgraph produced via ToMap.
func FromMap(m map[string]any) *State {
	if m == nil {
		return nil
	}
	s, _ := m["state"].(*State)
	return s
}
