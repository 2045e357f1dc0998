package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/leofalp/mosaik/internal/utils"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// Send implements [ai.Provider]. The HTTP request is issued lazily when the
// returned stream is first iterated, so an unconsumed stream costs nothing.
func (provider *AnthropicProvider) Send(ctx context.Context, request ai.ChatRequest) *ai.ChatStream {
	return ai.NewChatStream(ctx, ProviderID, func(yield func(ai.StreamEvent, error) bool) {
		span := observability.SpanFromContext(ctx)
		observer := observability.ObserverFromContext(ctx)

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
		if observer != nil {
			observer.Debug(ctx, "Anthropic provider sending request",
				observability.String(observability.AttrLLMModel, request.Model),
				observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
			)
		}

		if provider.apiKey == "" {
			yield(ai.StreamEvent{}, &ai.ProviderError{
				Reason:  ai.ReasonAuthRejected,
				Message: "ANTHROPIC_API_KEY is not set",
			})
			return
		}

		response, err := utils.DoPostStream(ctx, provider.client, provider.baseURL+messagesEndpoint, buildRequest(request, provider.maxTokens),
			utils.HeaderOption{Key: "x-api-key", Value: provider.apiKey},
			utils.HeaderOption{Key: "anthropic-version", Value: anthropicVersion},
			utils.HeaderOption{Key: "Accept", Value: "text/event-stream"},
		)
		if err != nil {
			yield(ai.StreamEvent{}, refineStatusError(err))
			return
		}
		defer utils.CloseWithLog(response.Body)

		readEvents(utils.NewSSEScanner(response.Body), yield)
	})
}

// readEvents converts SSE payloads into stream events until message_stop,
// an error event, or the end of the body.
func readEvents(scanner *utils.SSEScanner, yield func(ai.StreamEvent, error) bool) {
	inputTokens := 0
	finishReason := ""

	for {
		sse, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			// Without message_stop the wrapper reports a truncated stream.
			return
		}
		if err != nil {
			yield(ai.StreamEvent{}, err)
			return
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(sse.Data), &event); err != nil {
			yield(ai.StreamEvent{}, fmt.Errorf("failed to parse stream event %q: %w", sse.Name, err))
			return
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" && !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: event.Delta.Text}, nil) {
					return
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" && !yield(ai.StreamEvent{Type: ai.StreamEventReasoning, Reasoning: event.Delta.Thinking}, nil) {
					return
				}
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				finishReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage := &ai.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      inputTokens + event.Usage.OutputTokens,
				}
				if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: usage}, nil) {
					return
				}
			}

		case "message_stop":
			yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: finishReason}, nil)
			return

		case "error":
			yield(ai.StreamEvent{Type: ai.StreamEventError, Err: streamError(event.Error)}, nil)
			return

		default:
			// ping, content_block_start/stop and future additions carry nothing
			// the engine needs.
		}
	}
}

// reasonForErrorType maps Anthropic error types onto failure reasons.
func reasonForErrorType(errorType string) ai.Reason {
	switch errorType {
	case "overloaded_error", "rate_limit_error":
		return ai.ReasonRateLimited
	case "authentication_error", "permission_error":
		return ai.ReasonAuthRejected
	default:
		return ai.ReasonMalformedResponse
	}
}

func streamError(wireError *anthropicError) *ai.ProviderError {
	if wireError == nil {
		return &ai.ProviderError{Provider: ProviderID, Reason: ai.ReasonMalformedResponse, Message: "unknown stream error"}
	}
	return &ai.ProviderError{
		Provider: ProviderID,
		Reason:   reasonForErrorType(wireError.Type),
		Message:  wireError.Type + ": " + wireError.Message,
	}
}

// refineStatusError keeps the HTTP status classification but lets the error
// type from the JSON body decide when the status alone is ambiguous (529
// overloaded, 400 with an authentication error type).
func refineStatusError(err error) error {
	var statusError *ai.HTTPStatusError
	if !errors.As(err, &statusError) {
		return err
	}
	var envelope anthropicErrorEnvelope
	if json.Unmarshal([]byte(statusError.Body), &envelope) != nil || envelope.Error.Type == "" {
		return err
	}

	reason := ai.ReasonForStatus(statusError.StatusCode)
	if typed := reasonForErrorType(envelope.Error.Type); typed != ai.ReasonMalformedResponse {
		reason = typed
	}
	return &ai.ProviderError{
		Provider:   ProviderID,
		Reason:     reason,
		StatusCode: statusError.StatusCode,
		Message:    envelope.Error.Type + ": " + envelope.Error.Message,
		Err:        err,
	}
}
