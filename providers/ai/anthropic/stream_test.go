package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leofalp/mosaik/providers/ai"
)

// writeSSE writes one typed SSE event and flushes it to the client.
func writeSSE(writer http.ResponseWriter, eventType, data string) {
	fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", eventType, data)
	if flusher, ok := writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

func newTestProvider(handler http.HandlerFunc) (*AnthropicProvider, *httptest.Server) {
	server := httptest.NewServer(handler)
	provider := New().WithBaseURL(server.URL).WithAPIKey("test-key").WithHttpClient(server.Client())
	return provider, server
}

func userRequest(content string) ai.ChatRequest {
	return ai.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: content}},
	}
}

func TestSend_StreamsContentAndReasoning(t *testing.T) {
	provider, server := newTestProvider(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		if request.Header.Get("x-api-key") != "test-key" || request.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing authentication headers")
		}
		writer.Header().Set("Content-Type", "text/event-stream")
		writeSSE(writer, "message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":25,"output_tokens":0}}}`)
		writeSSE(writer, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`)
		writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me think"}}`)
		writeSSE(writer, "ping", `{"type":"ping"}`)
		writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hello"}}`)
		writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":" world"}}`)
		writeSSE(writer, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`)
		writeSSE(writer, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	response, err := provider.Send(context.Background(), userRequest("Hi")).Collect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Content != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", response.Content)
	}
	if response.Reasoning != "Let me think" {
		t.Errorf("expected reasoning, got %q", response.Reasoning)
	}
	if response.Usage == nil || response.Usage.TotalTokens != 30 {
		t.Errorf("expected total tokens 30, got %+v", response.Usage)
	}
	if response.FinishReason != "end_turn" {
		t.Errorf("expected end_turn, got %q", response.FinishReason)
	}
}

func TestSend_ErrorEventClassification(t *testing.T) {
	tests := []struct {
		errorType string
		expected  ai.Reason
	}{
		{errorType: "overloaded_error", expected: ai.ReasonRateLimited},
		{errorType: "rate_limit_error", expected: ai.ReasonRateLimited},
		{errorType: "authentication_error", expected: ai.ReasonAuthRejected},
		{errorType: "permission_error", expected: ai.ReasonAuthRejected},
		{errorType: "api_error", expected: ai.ReasonMalformedResponse},
	}

	for _, test := range tests {
		t.Run(test.errorType, func(t *testing.T) {
			provider, server := newTestProvider(func(writer http.ResponseWriter, _ *http.Request) {
				writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"par"}}`)
				writeSSE(writer, "error", fmt.Sprintf(`{"type":"error","error":{"type":%q,"message":"nope"}}`, test.errorType))
			})
			defer server.Close()

			response, err := provider.Send(context.Background(), userRequest("Hi")).Collect()
			var providerError *ai.ProviderError
			if !errors.As(err, &providerError) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if providerError.Reason != test.expected {
				t.Errorf("expected %s, got %s", test.expected, providerError.Reason)
			}
			if response.Content != "par" {
				t.Errorf("expected partial content kept, got %q", response.Content)
			}
		})
	}
}

func TestSend_HTTPStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected ai.Reason
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, expected: ai.ReasonAuthRejected},
		{name: "too many requests", status: http.StatusTooManyRequests, body: `{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`, expected: ai.ReasonRateLimited},
		{name: "overloaded", status: 529, body: `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, expected: ai.ReasonRateLimited},
		{name: "plain text body", status: http.StatusServiceUnavailable, body: "upstream down", expected: ai.ReasonUnreachable},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			provider, server := newTestProvider(func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(test.status)
				_, _ = writer.Write([]byte(test.body))
			})
			defer server.Close()

			_, err := provider.Send(context.Background(), userRequest("Hi")).Collect()
			var providerError *ai.ProviderError
			if !errors.As(err, &providerError) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if providerError.Reason != test.expected || providerError.StatusCode != test.status {
				t.Errorf("expected %s/%d, got %s/%d", test.expected, test.status, providerError.Reason, providerError.StatusCode)
			}
		})
	}
}

func TestSend_MissingAPIKey(t *testing.T) {
	provider := New().WithAPIKey("").WithBaseURL("http://127.0.0.1:1")
	_, err := provider.Send(context.Background(), userRequest("Hi")).Collect()

	var providerError *ai.ProviderError
	if !errors.As(err, &providerError) || providerError.Reason != ai.ReasonAuthRejected {
		t.Fatalf("expected AuthRejected, got %v", err)
	}
}

func TestSend_TruncatedStream(t *testing.T) {
	provider, server := newTestProvider(func(writer http.ResponseWriter, _ *http.Request) {
		writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"cut"}}`)
	})
	defer server.Close()

	_, err := provider.Send(context.Background(), userRequest("Hi")).Collect()
	var providerError *ai.ProviderError
	if !errors.As(err, &providerError) || providerError.Reason != ai.ReasonMalformedResponse {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
}

func TestSend_InvalidJSONPayload(t *testing.T) {
	provider, server := newTestProvider(func(writer http.ResponseWriter, _ *http.Request) {
		writeSSE(writer, "content_block_delta", `{"type":`)
	})
	defer server.Close()

	_, err := provider.Send(context.Background(), userRequest("Hi")).Collect()
	var providerError *ai.ProviderError
	if !errors.As(err, &providerError) || providerError.Reason != ai.ReasonMalformedResponse {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
}

func TestSend_RequestBody(t *testing.T) {
	var captured anthropicRequest
	provider, server := newTestProvider(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		writeSSE(writer, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	temperature := 0.3
	request := ai.ChatRequest{
		Model:        "claude-opus-4-20250514",
		SystemPrompt: "be brief",
		Messages: []ai.Message{
			{Role: ai.RoleUser, Content: "q"},
			{Role: ai.RoleAssistant, Content: "a", Thinking: "hidden"},
			{Role: ai.RoleUser, Content: "q2"},
		},
		Thinking:    true,
		Temperature: &temperature,
	}
	if _, err := provider.Send(context.Background(), request).Collect(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !captured.Stream || captured.MaxTokens != defaultMaxTokens || captured.System != "be brief" {
		t.Errorf("unexpected request envelope: %+v", captured)
	}
	if captured.Thinking == nil || captured.Thinking.Type != "enabled" || captured.Thinking.BudgetTokens != defaultThinkingBudget {
		t.Errorf("expected thinking enabled with default budget, got %+v", captured.Thinking)
	}
	if captured.Temperature != nil {
		t.Errorf("expected temperature dropped when thinking, got %v", *captured.Temperature)
	}
	if len(captured.Messages) != 3 || captured.Messages[1].Role != "assistant" || captured.Messages[1].Content != "a" {
		t.Errorf("unexpected messages: %+v", captured.Messages)
	}
}

func TestBuildRequest_BudgetBelowMaxTokens(t *testing.T) {
	wire := buildRequest(ai.ChatRequest{Model: "claude-x", Thinking: true, ThinkingBudget: 5000, MaxTokens: 4000}, defaultMaxTokens)
	if wire.MaxTokens <= wire.Thinking.BudgetTokens {
		t.Errorf("expected max_tokens above budget, got %d <= %d", wire.MaxTokens, wire.Thinking.BudgetTokens)
	}
}

func TestBuildRequest_ProviderMaxTokens(t *testing.T) {
	provider := New().WithMaxTokens(1024).WithMaxTokens(0)
	if wire := buildRequest(ai.ChatRequest{Model: "claude-x"}, provider.maxTokens); wire.MaxTokens != 1024 {
		t.Errorf("expected provider max_tokens 1024, got %d", wire.MaxTokens)
	}
	if wire := buildRequest(ai.ChatRequest{Model: "claude-x", MaxTokens: 10}, provider.maxTokens); wire.MaxTokens != 10 {
		t.Errorf("expected node max_tokens to win, got %d", wire.MaxTokens)
	}
}

func TestSend_CancelledContext(t *testing.T) {
	provider, server := newTestProvider(func(writer http.ResponseWriter, request *http.Request) {
		writeSSE(writer, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`)
		<-request.Context().Done()
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var last ai.StreamEvent
	for event := range provider.Send(ctx, userRequest("Hi")).Iter() {
		if event.Type == ai.StreamEventContent {
			cancel()
		}
		last = event
	}
	if last.Type != ai.StreamEventError || last.Err.Reason != ai.ReasonCancelled {
		t.Errorf("expected Cancelled terminal event, got %+v", last)
	}
}

func TestCapability(t *testing.T) {
	provider := New()
	if !provider.Supports("claude-3-5-haiku-20241022") || provider.Supports("llama3") {
		t.Errorf("unexpected Supports result")
	}
	capability := provider.Capability()
	if capability.ProviderID != ProviderID || len(capability.Models) != 3 || !capability.AnyModel {
		t.Errorf("unexpected capability: %+v", capability)
	}
	models, err := provider.ListModels(context.Background())
	if err != nil || len(models) != 3 {
		t.Errorf("unexpected models %v %v", models, err)
	}
}
