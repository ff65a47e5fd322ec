package chatmodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LingXuanTech/tradeorch/orcherr"
)

type fakeModel struct {
	response *Response
	err      error
}

func (f *fakeModel) Generate(ctx context.Context, messages []Message) (*Response, error) {
	return f.response, f.err
}

func newTestRegistry(secrets SecretBox, agg Aggregator, model ChatModel, dialErr error) *Registry {
	r := New(secrets, agg)
	r.newModel = func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
		return model, dialErr
	}
	return r
}

func TestRegistry_Resolve_NoBinding(t *testing.T) {
	r := newTestRegistry(nil, nil, &fakeModel{}, nil)
	_, err := r.Resolve(RoleQuickThink)
	assert.ErrorIs(t, err, orcherr.ErrProviderMissing)
}

func TestRegistry_Resolve_DisabledProviderNoFallback(t *testing.T) {
	r := newTestRegistry(nil, nil, &fakeModel{}, nil)
	r.SetProviders([]ProviderConfig{{ID: "p1", Enabled: false}})
	r.SetBindings(map[RoleKey]Binding{RoleQuickThink: {ProviderID: "p1", ModelName: "m1"}})

	_, err := r.Resolve(RoleQuickThink)
	assert.ErrorIs(t, err, orcherr.ErrProviderMissing)
}

func TestRegistry_Resolve_CachesInstance(t *testing.T) {
	calls := 0
	r := New(nil, nil)
	r.newModel = func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
		calls++
		return &fakeModel{response: &Response{Content: "ok"}}, nil
	}
	r.SetProviders([]ProviderConfig{{ID: "p1", Enabled: true, APIKeyEncrypted: []byte("x")}})
	r.SetBindings(map[RoleKey]Binding{RoleQuickThink: {ProviderID: "p1", ModelName: "m1"}})

	_, err := r.Resolve(RoleQuickThink)
	assert.NoError(t, err)
	_, err = r.Resolve(RoleQuickThink)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "second Resolve must hit the cache")
}

func TestRegistry_Resolve_FallsBackToEnvProvider(t *testing.T) {
	r := New(nil, nil)
	r.newModel = func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
		return &fakeModel{response: &Response{Content: "ok"}}, nil
	}
	r.SetProviders([]ProviderConfig{{ID: "p1", Kind: ProviderOpenAICompatible, Enabled: false}})
	r.SetBindings(map[RoleKey]Binding{RoleQuickThink: {ProviderID: "p1", ModelName: "m1"}})
	r.SetEnvFallback(ProviderOpenAICompatible, ProviderConfig{ID: "env", Kind: ProviderOpenAICompatible, Enabled: true, APIKeyEncrypted: []byte("x")})

	model, err := r.Resolve(RoleQuickThink)
	assert.NoError(t, err)
	assert.NotNil(t, model)
}

func TestRegistry_Reload_InvalidatesCache(t *testing.T) {
	calls := 0
	r := New(nil, nil)
	r.newModel = func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
		calls++
		return &fakeModel{response: &Response{Content: "ok"}}, nil
	}
	r.SetProviders([]ProviderConfig{{ID: "p1", Enabled: true, APIKeyEncrypted: []byte("x")}})
	r.SetBindings(map[RoleKey]Binding{RoleQuickThink: {ProviderID: "p1", ModelName: "m1"}})

	_, _ = r.Resolve(RoleQuickThink)
	r.Reload()
	_, _ = r.Resolve(RoleQuickThink)
	assert.Equal(t, 2, calls)
}

func TestInstrumentedModel_PublishesUsage(t *testing.T) {
	agg := NewChannelAggregator(4)
	r := New(nil, agg)
	r.newModel = func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
		return &fakeModel{response: &Response{Content: "hi", PromptTokens: 10, CompletionTokens: 5}}, nil
	}
	r.SetProviders([]ProviderConfig{{ID: "p1", Enabled: true, APIKeyEncrypted: []byte("x")}})
	r.SetBindings(map[RoleKey]Binding{RoleDeepThink: {ProviderID: "p1", ModelName: "m1"}})

	model, err := r.Resolve(RoleDeepThink)
	assert.NoError(t, err)

	_, err = model.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.NoError(t, err)

	ev := <-agg.Events
	assert.Equal(t, RoleDeepThink, ev.Role)
	assert.True(t, ev.Success)
	assert.Equal(t, 10, ev.PromptTokens)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "sk-a******6789", MaskSecret("sk-a0123456789"))
}
