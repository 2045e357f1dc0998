package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/leofalp/mosaik/internal/utils"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

const (
	// ProviderID is the id the adapter registers under.
	ProviderID = "ollama"

	defaultBaseURL = "http://localhost:11434"
	chatEndpoint   = "/api/chat"
	tagsEndpoint   = "/api/tags"
)

// OllamaProvider implements [ai.Provider] for an Ollama server.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

var (
	_ ai.Provider    = (*OllamaProvider)(nil)
	_ ai.Describer   = (*OllamaProvider)(nil)
	_ ai.ModelLister = (*OllamaProvider)(nil)
)

// New returns a provider pointed at OLLAMA_HOST, or the local default.
func New() *OllamaProvider {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// WithBaseURL overrides the server address.
func (provider *OllamaProvider) WithBaseURL(baseURL string) *OllamaProvider {
	provider.baseURL = strings.TrimRight(baseURL, "/")
	return provider
}

// WithHttpClient replaces the default http.Client.
func (provider *OllamaProvider) WithHttpClient(httpClient *http.Client) *OllamaProvider {
	provider.client = httpClient
	return provider
}

// Name implements ai.Provider.
func (provider *OllamaProvider) Name() string {
	return ProviderID
}

// Supports implements ai.Provider. Locally pulled models are not known in
// advance, so any non-empty name is accepted and the server decides.
func (provider *OllamaProvider) Supports(model string) bool {
	return strings.TrimSpace(model) != ""
}

// Capability implements ai.Describer without contacting the server; use
// ListModels for the pulled models.
func (provider *OllamaProvider) Capability() ai.Capability {
	return ai.Capability{ProviderID: ProviderID, AnyModel: true}
}

// ListModels implements ai.ModelLister using GET /api/tags.
func (provider *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	tags, err := utils.DoGetJSON[tagsResponse](ctx, provider.client, provider.baseURL+tagsEndpoint)
	if err != nil {
		return nil, ai.Classify(ProviderID, err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		if model.Name != "" {
			models = append(models, model.Name)
		}
	}
	return models, nil
}

func buildRequest(request ai.ChatRequest) chatRequest {
	wire := chatRequest{
		Model:    request.Model,
		Stream:   true,
		Messages: make([]chatMessage, 0, len(request.Messages)+1),
	}
	if request.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: request.SystemPrompt})
	}
	for _, message := range request.Messages {
		wire.Messages = append(wire.Messages, chatMessage{
			Role:     string(message.Role),
			Content:  message.Content,
			Thinking: message.Thinking,
		})
	}
	if request.Thinking {
		think := true
		wire.Think = &think
	}

	options := map[string]any{}
	if request.Temperature != nil {
		options["temperature"] = *request.Temperature
	}
	if request.MaxTokens > 0 {
		options["num_predict"] = request.MaxTokens
	}
	if len(options) > 0 {
		wire.Options = options
	}
	return wire
}

// Send implements [ai.Provider]. The request is issued when the stream is
// first iterated.
func (provider *OllamaProvider) Send(ctx context.Context, request ai.ChatRequest) *ai.ChatStream {
	return ai.NewChatStream(ctx, ProviderID, func(yield func(ai.StreamEvent, error) bool) {
		span := observability.SpanFromContext(ctx)
		if span != nil {
			span.AddEvent(observability.EventLLMRequestStart)
			span.SetAttributes(
				observability.String(observability.AttrLLMProvider, ProviderID),
				observability.String(observability.AttrLLMEndpoint, provider.baseURL),
				observability.String(observability.AttrLLMModel, request.Model),
				observability.Bool(observability.AttrLLMThinking, request.Thinking),
			)
			defer span.AddEvent(observability.EventLLMRequestEnd)
		}
		if observer := observability.ObserverFromContext(ctx); observer != nil {
			observer.Debug(ctx, "Ollama provider sending request",
				observability.String(observability.AttrLLMModel, request.Model),
				observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
			)
		}

		response, err := utils.DoPostStream(ctx, provider.client, provider.baseURL+chatEndpoint, buildRequest(request),
			utils.HeaderOption{Key: "Accept", Value: "application/x-ndjson"})
		if err != nil {
			yield(ai.StreamEvent{}, err)
			return
		}
		defer utils.CloseWithLog(response.Body)

		readChunks(utils.NewNDJSONScanner(response.Body), yield)
	})
}

func readChunks(scanner *utils.NDJSONScanner, yield func(ai.StreamEvent, error) bool) {
	for {
		var chunk chatChunk
		err := scanner.Next(&chunk)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(ai.StreamEvent{}, err)
			return
		}

		if chunk.Error != "" {
			yield(ai.StreamEvent{}, &ai.ProviderError{
				Reason:  ai.ReasonMalformedResponse,
				Message: fmt.Sprintf("ollama error: %s", chunk.Error),
			})
			return
		}
		if chunk.Message.Thinking != "" && !yield(ai.StreamEvent{Type: ai.StreamEventReasoning, Reasoning: chunk.Message.Thinking}, nil) {
			return
		}
		if chunk.Message.Content != "" && !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: chunk.Message.Content}, nil) {
			return
		}

		if chunk.Done {
			if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
				usage := &ai.Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
				if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: usage}, nil) {
					return
				}
			}
			yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: chunk.DoneReason}, nil)
			return
		}
	}
}
