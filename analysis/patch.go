package analysis

// Patch is the typed delta a node returns instead of mutating State directly.
// Merge folds a Patch into the current State following the rule fixed by
// spec §4.3: scalar fields overwrite, messages/history fields append,
// mappings/sets union with last-writer-wins on conflicting keys.
type Patch struct {
	AppendMessages []ChatMessage

	SetRecommendedAnalysts []AnalystKind

	// SetAnalystReport, when Kind is non-empty, sets AnalystReports[Kind] and
	// its named mirror field exactly once. A second patch for the same kind
	// is a caller bug (spec invariant: "analyst_reports[k] is set at most
	// once") but Merge still applies last-writer-wins rather than panicking,
	// since a retried degradation stub can legitimately overwrite itself.
	SetAnalystReport *AnalystReportPatch

	AppendAnalystErrors    map[AnalystKind]string
	UnionAnalystCompleted  []AnalystKind

	// SetAnalystMessages, when Kind is non-empty, replaces that analyst's
	// private tool-loop transcript wholesale — used both to append a turn
	// and to truncate it (ClearMessages_<kind>).
	SetAnalystMessages *AnalystMessagesPatch

	InvestmentDebate *InvestmentDebatePatch
	RiskDebate       *RiskDebatePatch

	// ResetAnalystTracking clears AnalystCompleted and AnalystErrors, used by
	// the Analyst subgraph's Router node at the start of a run.
	ResetAnalystTracking bool

	SetInvestmentPlan       *string
	SetTraderInvestmentPlan *string
	SetFinalTradeDecision   *string

	SetHistoricalReflection *string
}

// AnalystReportPatch carries one analyst's completed (or stubbed) report.
type AnalystReportPatch struct {
	Kind AnalystKind
	Text string
}

// AnalystMessagesPatch replaces one analyst's private transcript wholesale.
type AnalystMessagesPatch struct {
	Kind     AnalystKind
	Messages []ChatMessage
}

// InvestmentDebatePatch appends one Bull/Bear turn or sets the Manager's verdict.
type InvestmentDebatePatch struct {
	AppendBullHistory string
	AppendBearHistory string
	AppendHistory     string
	SetCurrentResponse *string
	IncrementCount      bool
	SetJudgeDecision    *string
}

// RiskDebatePatch appends one Risky/Safe/Neutral turn or sets the Judge's verdict.
type RiskDebatePatch struct {
	AppendRiskyHistory   string
	AppendSafeHistory    string
	AppendNeutralHistory string
	AppendHistory        string
	SetLatestSpeaker     *string
	IncrementCount       bool
	SetJudgeDecision     *string
}

// Merge applies patch to current and returns the resulting State. current is
// never mutated in place; Merge returns a new *State so that concurrent
// readers of the pre-merge state are unaffected (state_graph_typed.go's
// executor is the only writer, invoked serially per the commutative-merge
// contract of spec §4.3).
func Merge(current *State, patch *Patch) (*State, error) {
	next := clone(current)

	if patch.ResetAnalystTracking {
		next.AnalystCompleted = make(map[AnalystKind]bool)
		next.AnalystErrors = make(map[AnalystKind]string)
	}

	if len(patch.AppendMessages) > 0 {
		next.Messages = append(next.Messages, patch.AppendMessages...)
	}

	if len(patch.SetRecommendedAnalysts) > 0 {
		next.RecommendedAnalysts = patch.SetRecommendedAnalysts
	}

	if patch.SetAnalystReport != nil {
		kind := patch.SetAnalystReport.Kind
		text := patch.SetAnalystReport.Text
		next.AnalystReports[kind] = text
		if m := mirrorField(next, kind); m != nil {
			*m = text
		}
	}

	for kind, msg := range patch.AppendAnalystErrors {
		next.AnalystErrors[kind] = msg
	}
	for _, kind := range patch.UnionAnalystCompleted {
		next.AnalystCompleted[kind] = true
	}

	if patch.SetAnalystMessages != nil {
		next.AnalystMessages[patch.SetAnalystMessages.Kind] = patch.SetAnalystMessages.Messages
	}

	if patch.InvestmentDebate != nil {
		mergeInvestmentDebate(&next.InvestmentDebateState, patch.InvestmentDebate)
	}
	if patch.RiskDebate != nil {
		mergeRiskDebate(&next.RiskDebateState, patch.RiskDebate)
	}

	if patch.SetInvestmentPlan != nil {
		next.InvestmentPlan = *patch.SetInvestmentPlan
	}
	if patch.SetTraderInvestmentPlan != nil {
		next.TraderInvestmentPlan = *patch.SetTraderInvestmentPlan
	}
	if patch.SetFinalTradeDecision != nil {
		next.FinalTradeDecision = *patch.SetFinalTradeDecision
	}
	if patch.SetHistoricalReflection != nil {
		next.HistoricalReflection = *patch.SetHistoricalReflection
	}

	return next, nil
}

func mergeInvestmentDebate(s *InvestmentDebateState, p *InvestmentDebatePatch) {
	s.BullHistory += p.AppendBullHistory
	s.BearHistory += p.AppendBearHistory
	s.History += p.AppendHistory
	if p.SetCurrentResponse != nil {
		s.CurrentResponse = *p.SetCurrentResponse
	}
	if p.IncrementCount {
		s.Count++
	}
	if p.SetJudgeDecision != nil {
		s.JudgeDecision = *p.SetJudgeDecision
	}
}

func mergeRiskDebate(s *RiskDebateState, p *RiskDebatePatch) {
	s.RiskyHistory += p.AppendRiskyHistory
	s.SafeHistory += p.AppendSafeHistory
	s.NeutralHistory += p.AppendNeutralHistory
	s.History += p.AppendHistory
	if p.SetLatestSpeaker != nil {
		s.LatestSpeaker = *p.SetLatestSpeaker
	}
	if p.IncrementCount {
		s.Count++
	}
	if p.SetJudgeDecision != nil {
		s.JudgeDecision = *p.SetJudgeDecision
	}
}

// clone returns a shallow copy of s with its map and slice fields duplicated,
// so mutating the clone never mutates s. Field values within maps (strings,
// bools) are immutable in Go, so a shallow map copy is sufficient.
func clone(s *State) *State {
	next := *s

	next.Messages = append([]ChatMessage(nil), s.Messages...)
	next.RecommendedAnalysts = append([]AnalystKind(nil), s.RecommendedAnalysts...)

	next.AnalystReports = make(map[AnalystKind]string, len(s.AnalystReports))
	for k, v := range s.AnalystReports {
		next.AnalystReports[k] = v
	}
	next.AnalystErrors = make(map[AnalystKind]string, len(s.AnalystErrors))
	for k, v := range s.AnalystErrors {
		next.AnalystErrors[k] = v
	}
	next.AnalystCompleted = make(map[AnalystKind]bool, len(s.AnalystCompleted))
	for k, v := range s.AnalystCompleted {
		next.AnalystCompleted[k] = v
	}

	next.AnalystMessages = make(map[AnalystKind][]ChatMessage, len(s.AnalystMessages))
	for k, v := range s.AnalystMessages {
		next.AnalystMessages[k] = append([]ChatMessage(nil), v...)
	}

	return &next
}
