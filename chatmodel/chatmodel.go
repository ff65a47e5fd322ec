// Package chatmodel implements the ChatModel registry (C1): resolving a role
// key to a configured chat model, with encrypted-at-rest provider secrets,
// masked admin-surface display, and a token-usage aggregator. Grounded on
// the teacher's prebuilt/supervisor.go llms.Model usage for the langchaingo
// backend and the trader-bot agents manager's go-openai embeddingClient
// pattern for the openai_compatible backend.
package chatmodel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingXuanTech/tradeorch/orcherr"
)

// RoleKey names one of the three chat-model roles the registry resolves.
type RoleKey string

const (
	RoleDeepThink RoleKey = "deep_think"
	RoleQuickThink RoleKey = "quick_think"
	RoleSynthesis RoleKey = "synthesis"
)

// ProviderKind identifies which backend a ProviderConfig talks to.
type ProviderKind string

const (
	ProviderOpenAICompatible ProviderKind = "openai_compatible"
	ProviderGoogle           ProviderKind = "google"
	ProviderAnthropic        ProviderKind = "anthropic"
)

// Message is one role/content turn sent to a ChatModel.
type Message struct {
	Role    string
	Content string
}

// Response is a ChatModel's reply, with the usage the registry accounts.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ChatModel is the capability the registry resolves role keys to.
type ChatModel interface {
	Generate(ctx context.Context, messages []Message) (*Response, error)
}

// ProviderConfig is one row of the provider table (spec §4.1).
type ProviderConfig struct {
	ID              string
	Kind            ProviderKind
	BaseURL         string
	APIKeyEncrypted []byte
	EnabledModels   []string
	Priority        int
	Enabled         bool
}

// Binding is one row of the binding table: role_key -> (provider_id, model_name).
type Binding struct {
	ProviderID string
	ModelName  string
}

// UsageEvent is published to an Aggregator on every registry-routed invocation.
type UsageEvent struct {
	Role             RoleKey
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Success          bool
	ErrorKind        orcherr.Kind
}

// Aggregator receives UsageEvents. Publish must not block the caller.
type Aggregator interface {
	Publish(ev UsageEvent)
}

// ChannelAggregator is an in-process Aggregator backed by a buffered channel;
// a consumer goroutine drains Events. Publish drops the event rather than
// blocking if the channel is full, since token accounting is best-effort
// telemetry, never load-bearing for a session's outcome.
type ChannelAggregator struct {
	Events chan UsageEvent
}

// NewChannelAggregator creates an aggregator with the given channel capacity.
func NewChannelAggregator(capacity int) *ChannelAggregator {
	return &ChannelAggregator{Events: make(chan UsageEvent, capacity)}
}

// Publish implements Aggregator.
func (a *ChannelAggregator) Publish(ev UsageEvent) {
	select {
	case a.Events <- ev:
	default:
	}
}

// SecretBox encrypts/decrypts provider API keys at rest.
type SecretBox interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Registry resolves role keys to ChatModel instances per the provider and
// binding tables, caching instances until reload() invalidates them.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]ProviderConfig
	bindings   map[RoleKey]Binding
	secrets    SecretBox
	aggregator Aggregator
	envFallback map[ProviderKind]ProviderConfig

	cache sync.Map // RoleKey -> ChatModel
	newModel func(provider ProviderConfig, apiKey, modelName string) (ChatModel, error)
}

// New constructs a Registry whose concrete ChatModels are built by Dial,
// which picks the backend by provider kind.
func New(secrets SecretBox, aggregator Aggregator) *Registry {
	return &Registry{
		providers:   make(map[string]ProviderConfig),
		bindings:    make(map[RoleKey]Binding),
		secrets:     secrets,
		aggregator:  aggregator,
		envFallback: make(map[ProviderKind]ProviderConfig),
		newModel:    Dial,
	}
}

// SetProviders replaces the provider table and calls reload().
func (r *Registry) SetProviders(providers []ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		r.providers[p.ID] = p
	}
	r.reloadLocked()
}

// SetBindings replaces the binding table and calls reload().
func (r *Registry) SetBindings(bindings map[RoleKey]Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = bindings
	r.reloadLocked()
}

// SetEnvFallback registers the environment-variable-configured fallback
// provider used when the bound provider fails credential checks (spec
// §4.1's "Fallback policy").
func (r *Registry) SetEnvFallback(kind ProviderKind, provider ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envFallback[kind] = provider
	r.reloadLocked()
}

// Reload clears cached ChatModel instances; the next Resolve re-reads
// configuration. Any mutation to the provider or binding table must call
// this (SetProviders/SetBindings already do).
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadLocked()
}

func (r *Registry) reloadLocked() {
	r.cache.Range(func(key, _ any) bool {
		r.cache.Delete(key)
		return true
	})
}

// Resolve returns the ChatModel bound to role, instantiating and caching it
// on first use. Returns orcherr.ErrProviderMissing if no enabled, credentialed
// provider is bound (after falling through to the env-configured provider of
// the same kind).
func (r *Registry) Resolve(role RoleKey) (ChatModel, error) {
	if cached, ok := r.cache.Load(role); ok {
		return cached.(ChatModel), nil
	}

	r.mu.RLock()
	binding, hasBinding := r.bindings[role]
	r.mu.RUnlock()
	if !hasBinding {
		return nil, orcherr.New(orcherr.KindProviderMissing, string(role), "no binding configured for role")
	}

	r.mu.RLock()
	provider, hasProvider := r.providers[binding.ProviderID]
	r.mu.RUnlock()

	if !hasProvider || !provider.Enabled || len(provider.APIKeyEncrypted) == 0 {
		r.mu.RLock()
		fallback, hasFallback := r.envFallback[providerKindOrZero(provider, hasProvider)]
		r.mu.RUnlock()
		if !hasFallback {
			return nil, orcherr.New(orcherr.KindProviderMissing, string(role), "bound provider %q unavailable and no env fallback", binding.ProviderID)
		}
		provider = fallback
	}

	apiKey := ""
	if r.secrets != nil && len(provider.APIKeyEncrypted) > 0 {
		key, err := r.secrets.Decrypt(provider.APIKeyEncrypted)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindProviderMissing, string(role), err)
		}
		apiKey = key
	}
	provider.APIKeyEncrypted = nil // never hold plaintext past this call

	model, err := r.newModel(provider, apiKey, binding.ModelName)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindProviderMissing, string(role), err)
	}

	instrumented := &instrumentedModel{
		inner:      model,
		role:       role,
		provider:   provider.ID,
		model:      binding.ModelName,
		aggregator: r.aggregator,
	}
	r.cache.Store(role, ChatModel(instrumented))
	return instrumented, nil
}

func providerKindOrZero(p ProviderConfig, ok bool) ProviderKind {
	if !ok {
		return ""
	}
	return p.Kind
}

// instrumentedModel wraps a ChatModel to emit UsageEvents on every call.
type instrumentedModel struct {
	inner      ChatModel
	role       RoleKey
	provider   string
	model      string
	aggregator Aggregator
}

func (m *instrumentedModel) Generate(ctx context.Context, messages []Message) (*Response, error) {
	start := time.Now()
	resp, err := m.inner.Generate(ctx, messages)
	latency := time.Since(start).Milliseconds()

	ev := UsageEvent{
		Role:      m.role,
		Provider:  m.provider,
		Model:     m.model,
		LatencyMS: latency,
		Success:   err == nil,
	}
	if resp != nil {
		ev.PromptTokens = resp.PromptTokens
		ev.CompletionTokens = resp.CompletionTokens
	}
	if err != nil {
		kind, ok := orcherr.KindOf(err)
		if !ok {
			kind = orcherr.KindProviderTransient
		}
		ev.ErrorKind = kind
	}
	if m.aggregator != nil {
		m.aggregator.Publish(ev)
	}
	return resp, err
}

// MaskSecret returns key with only its first 4 and last 4 characters
// retained, per spec §4.1's admin-surface masking rule.
func MaskSecret(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s%s%s", key[:4], maskRun(len(key)-8), key[len(key)-4:])
}

func maskRun(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}
