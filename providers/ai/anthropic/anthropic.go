package anthropic

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/leofalp/mosaik/providers/ai"
)

const (
	// ProviderID is the id the adapter registers under.
	ProviderID = "anthropic"

	defaultBaseURL = "https://api.anthropic.com/v1"

	messagesEndpoint = "/messages"

	// anthropicVersion pins the wire format independently of the URL.
	anthropicVersion = "2023-06-01"

	defaultMaxTokens      = 32000
	defaultThinkingBudget = 2000
)

// knownModels is the advertised catalogue; Anthropic has no public models
// endpoint. Any "claude-" model is accepted.
var knownModels = []string{
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-3-5-haiku-20241022",
}

// AnthropicProvider implements [ai.Provider] for Anthropic's Messages API.
// Use [New] to construct a ready-to-use instance.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	maxTokens int
	models    []string
}

var (
	_ ai.Provider    = (*AnthropicProvider)(nil)
	_ ai.Describer   = (*AnthropicProvider)(nil)
	_ ai.ModelLister = (*AnthropicProvider)(nil)
)

// New returns a provider configured from ANTHROPIC_API_KEY and
// ANTHROPIC_API_BASE_URL (defaulting to https://api.anthropic.com/v1).
func New() *AnthropicProvider {
	baseURL := os.Getenv("ANTHROPIC_API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &AnthropicProvider{
		apiKey:    os.Getenv("ANTHROPIC_API_KEY"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		maxTokens: defaultMaxTokens,
		models:    knownModels,
	}
}

// WithAPIKey overrides the API key read from ANTHROPIC_API_KEY.
func (provider *AnthropicProvider) WithAPIKey(apiKey string) *AnthropicProvider {
	provider.apiKey = apiKey
	return provider
}

// WithBaseURL overrides the API base URL, for proxies and test servers.
func (provider *AnthropicProvider) WithBaseURL(baseURL string) *AnthropicProvider {
	provider.baseURL = strings.TrimRight(baseURL, "/")
	return provider
}

// WithHttpClient replaces the default http.Client.
func (provider *AnthropicProvider) WithHttpClient(httpClient *http.Client) *AnthropicProvider {
	provider.client = httpClient
	return provider
}

// WithMaxTokens sets the max_tokens sent when a node does not override it.
// Non-positive values keep the default.
func (provider *AnthropicProvider) WithMaxTokens(maxTokens int) *AnthropicProvider {
	if maxTokens > 0 {
		provider.maxTokens = maxTokens
	}
	return provider
}

// WithModels replaces the advertised model catalogue. Any "claude-" model is
// still accepted.
func (provider *AnthropicProvider) WithModels(models ...string) *AnthropicProvider {
	if len(models) > 0 {
		provider.models = append([]string(nil), models...)
	}
	return provider
}

// Name implements ai.Provider.
func (provider *AnthropicProvider) Name() string {
	return ProviderID
}

// Supports implements ai.Provider.
func (provider *AnthropicProvider) Supports(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Capability implements ai.Describer.
func (provider *AnthropicProvider) Capability() ai.Capability {
	return ai.Capability{
		ProviderID: ProviderID,
		Models:     append([]string(nil), provider.models...),
		AnyModel:   true,
	}
}

// ListModels implements ai.ModelLister with the static catalogue.
func (provider *AnthropicProvider) ListModels(_ context.Context) ([]string, error) {
	return append([]string(nil), provider.models...), nil
}

// buildRequest converts the provider-agnostic request into the Messages wire
// format. Reasoning from earlier turns is not replayed: Anthropic requires a
// signature for thinking blocks which the graph does not keep.
func buildRequest(request ai.ChatRequest, maxTokens int) anthropicRequest {
	wire := anthropicRequest{
		Model:       request.Model,
		System:      request.SystemPrompt,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stream:      true,
		Messages:    make([]anthropicMessage, 0, len(request.Messages)),
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = maxTokens
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = defaultMaxTokens
	}

	for _, message := range request.Messages {
		wire.Messages = append(wire.Messages, anthropicMessage{
			Role:    string(message.Role),
			Content: message.Content,
		})
	}

	if request.Thinking {
		budget := request.ThinkingBudget
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		// The budget must stay below max_tokens.
		if budget >= wire.MaxTokens {
			wire.MaxTokens = budget + defaultThinkingBudget
		}
		wire.Thinking = &anthropicThinkingConfig{Type: "enabled", BudgetTokens: budget}
		// Extended thinking rejects any temperature other than the default.
		wire.Temperature = nil
	}
	return wire
}
