package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_Update_UnionsDisjointAnalystWrites(t *testing.T) {
	schema := NewSchema()
	base := New("AAPL", "2026-07-29", MarketUS)

	marketBranch, err := Merge(base, &Patch{
		SetAnalystReport:      &AnalystReportPatch{Kind: AnalystMarket, Text: "bullish"},
		UnionAnalystCompleted: []AnalystKind{AnalystMarket},
	})
	assert.NoError(t, err)

	merged, err := schema.Update(base, marketBranch)
	assert.NoError(t, err)

	newsBranch, err := Merge(base, &Patch{
		SetAnalystReport:      &AnalystReportPatch{Kind: AnalystNews, Text: "neutral"},
		UnionAnalystCompleted: []AnalystKind{AnalystNews},
	})
	assert.NoError(t, err)

	merged, err = schema.Update(merged, newsBranch)
	assert.NoError(t, err)

	assert.Equal(t, "bullish", merged.AnalystReports[AnalystMarket])
	assert.Equal(t, "neutral", merged.AnalystReports[AnalystNews])
	assert.True(t, merged.AnalystCompleted[AnalystMarket])
	assert.True(t, merged.AnalystCompleted[AnalystNews])

	// Each branch's clone has only its own mirror field set; folding the
	// news branch in second must not stomp the market branch's mirror field
	// back to "" even though newsBranch.MarketReport is still blank.
	assert.Equal(t, "bullish", merged.MarketReport)
	assert.Equal(t, "neutral", merged.NewsReport)
}

func TestSchema_Update_MessagesDeduplicateAcrossRounds(t *testing.T) {
	schema := NewSchema()
	base := New("AAPL", "2026-07-29", MarketUS)

	withMsg, err := Merge(base, &Patch{AppendMessages: []ChatMessage{{Role: "system", Content: "start"}}})
	assert.NoError(t, err)

	merged, err := schema.Update(base, withMsg)
	assert.NoError(t, err)
	merged, err = schema.Update(merged, withMsg)
	assert.NoError(t, err)

	assert.Len(t, merged.Messages, 1, "repeated merge of the same message must not duplicate it")
}

func TestSchema_Update_NilCurrent(t *testing.T) {
	schema := NewSchema()
	next := New("AAPL", "2026-07-29", MarketUS)

	merged, err := schema.Update(nil, next)
	assert.NoError(t, err)
	assert.Equal(t, "AAPL", merged.Symbol)
}

func TestToMapFromMap_RoundTrip(t *testing.T) {
	state := New("AAPL", "2026-07-29", MarketUS)
	boxed := ToMap(state)
	unboxed := FromMap(boxed)
	assert.Same(t, state, unboxed)
}

func TestFromMap_NilMap(t *testing.T) {
	assert.Nil(t, FromMap(nil))
}
