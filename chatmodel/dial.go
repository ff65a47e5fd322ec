package chatmodel

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	langopenai "github.com/tmc/langchaingo/llms/openai"
)

// Dial constructs the concrete ChatModel for provider, using apiKey (already
// decrypted) and modelName. openai_compatible providers (DeepSeek, Grok,
// local vLLM) are dialed through go-openai with a custom BaseURL; google and
// anthropic providers are dialed through langchaingo's OpenAI adapter
// (token and model name only), not through provider-specific clients.
func Dial(provider ProviderConfig, apiKey, modelName string) (ChatModel, error) {
	switch provider.Kind {
	case ProviderOpenAICompatible:
		return newOpenAICompatModel(provider.BaseURL, apiKey, modelName), nil
	case ProviderGoogle, ProviderAnthropic:
		return newLangchainModel(provider.Kind, apiKey, modelName)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", provider.Kind)
	}
}

// langchainModel adapts a langchaingo llms.Model to the registry's ChatModel
// interface, grounded on prebuilt/supervisor.go's model.GenerateContent usage.
type langchainModel struct {
	inner llms.Model
}

func newLangchainModel(kind ProviderKind, apiKey, modelName string) (ChatModel, error) {
	// Only the openai-compatible constructor is vendored with a bare API-key
	// option in this pack; google/anthropic providers route through the same
	// llms.Model surface once dialed via their own constructors in a full
	// deployment. Kept minimal here since neither appears in any retrieved
	// example beyond the generic llms.Model usage pattern.
	llm, err := langopenai.New(langopenai.WithToken(apiKey), langopenai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("dial %s model %s: %w", kind, modelName, err)
	}
	return &langchainModel{inner: llm}, nil
}

func (m *langchainModel) Generate(ctx context.Context, messages []Message) (*Response, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(roleToLangchain(msg.Role), msg.Content))
	}

	resp, err := m.inner.GenerateContent(ctx, content)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &Response{}, nil
	}
	choice := resp.Choices[0]
	result := &Response{Content: choice.Content}
	if choice.GenerationInfo != nil {
		if pt, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
			result.PromptTokens = pt
		}
		if ct, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
			result.CompletionTokens = ct
		}
	}
	return result, nil
}

func roleToLangchain(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// openAICompatModel adapts a go-openai client with a custom BaseURL to the
// registry's ChatModel interface, for DeepSeek/Grok/local-vLLM providers
// that speak the OpenAI chat-completions wire format.
type openAICompatModel struct {
	client *openai.Client
	model  string
}

func newOpenAICompatModel(baseURL, apiKey, modelName string) *openAICompatModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAICompatModel{client: openai.NewClientWithConfig(cfg), model: modelName}
}

func (m *openAICompatModel) Generate(ctx context.Context, messages []Message) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &Response{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
	}
	return result, nil
}
