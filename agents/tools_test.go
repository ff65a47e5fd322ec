package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectToolCall_Present(t *testing.T) {
	call, ok := detectToolCall("CALL_TOOL: quote | AAPL price")
	assert.True(t, ok)
	assert.Equal(t, "quote", call.Name)
	assert.Equal(t, "AAPL price", call.Arguments)
}

func TestDetectToolCall_NoMarker(t *testing.T) {
	_, ok := detectToolCall("just a regular analysis response")
	assert.False(t, ok)
}

func TestDetectToolCall_NoSeparator(t *testing.T) {
	call, ok := detectToolCall("CALL_TOOL: quote")
	assert.True(t, ok)
	assert.Equal(t, "quote", call.Name)
	assert.Empty(t, call.Arguments)
}

func TestFakeMarketDataProvider(t *testing.T) {
	p := &FakeMarketDataProvider{Responses: map[string]string{"AAPL": "150.00"}, Default: "n/a"}

	resp, err := p.Call(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, "150.00", resp)

	resp, err = p.Call(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Equal(t, "n/a", resp)
}
