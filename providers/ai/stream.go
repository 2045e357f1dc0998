package ai

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// StreamEventType identifies the kind of payload carried by a StreamEvent.
type StreamEventType string

const (
	// StreamEventContent carries a text fragment of the response.
	StreamEventContent StreamEventType = "content"
	// StreamEventReasoning carries a reasoning/thinking fragment.
	StreamEventReasoning StreamEventType = "reasoning"
	// StreamEventUsage carries token usage metadata.
	StreamEventUsage StreamEventType = "usage"
	// StreamEventDone signals that the stream finished normally. Terminal.
	StreamEventDone StreamEventType = "done"
	// StreamEventError signals that the stream failed. Terminal.
	StreamEventError StreamEventType = "error"
)

// StreamEvent represents a single event yielded by a ChatStream.
// Each event carries exactly one type of payload, identified by the Type field.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Content      string          `json:"content,omitempty"`       // Type == StreamEventContent
	Reasoning    string          `json:"reasoning,omitempty"`     // Type == StreamEventReasoning
	Usage        *Usage          `json:"usage,omitempty"`         // Type == StreamEventUsage
	FinishReason string          `json:"finish_reason,omitempty"` // Type == StreamEventDone
	Err          *ProviderError  `json:"-"`                       // Type == StreamEventError
}

// Terminal reports whether the event ends the stream.
func (event StreamEvent) Terminal() bool {
	return event.Type == StreamEventDone || event.Type == StreamEventError
}

// errStreamTruncated is reported when an adapter iterator ends without a
// done event.
var errStreamTruncated = errors.New("stream ended before completion")

// ChatStream is the lazy response sequence returned by Provider.Send.
//
// Adapters build it from a raw iterator with NewChatStream, which enforces the
// stream contract: Go errors yielded by the adapter become a terminal
// StreamEventError with a classified ProviderError, cancellation of the call
// context is observed between fragments, nothing is yielded after the terminal
// event, and an iterator that stops without a done event is reported as
// MalformedResponse.
//
// Important: callers must consume the stream, either by iterating with Iter()
// (breaking out early is fine) or by calling Collect(). Adapters may hold an
// open HTTP response body that is only released when the iterator finishes.
type ChatStream struct {
	iterator iter.Seq[StreamEvent]
}

// NewChatStream wraps a raw adapter iterator.
func NewChatStream(ctx context.Context, provider string, raw iter.Seq2[StreamEvent, error]) *ChatStream {
	iteratorFunc := func(yield func(StreamEvent) bool) {
		finished := false
		fail := func(err error) {
			finished = true
			yield(StreamEvent{Type: StreamEventError, Err: Classify(provider, err)})
		}

		for event, err := range raw {
			if err != nil {
				// Transport errors after cancellation are reported as Cancelled.
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				fail(err)
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				fail(ctxErr)
				return
			}
			if event.Type == StreamEventError {
				if event.Err == nil {
					fail(errors.New("unspecified stream error"))
					return
				}
				if event.Err.Provider == "" {
					event.Err.Provider = provider
				}
				finished = true
				yield(event)
				return
			}

			if !yield(event) {
				return
			}
			if event.Type == StreamEventDone {
				return
			}
		}

		if !finished {
			if ctxErr := ctx.Err(); ctxErr != nil {
				fail(ctxErr)
				return
			}
			fail(&ProviderError{Provider: provider, Reason: ReasonMalformedResponse, Err: errStreamTruncated})
		}
	}

	return &ChatStream{iterator: iteratorFunc}
}

// NewErrorStream returns a stream that yields a single terminal error event.
// Adapters use it for failures that happen before any byte is streamed.
func NewErrorStream(provider string, err error) *ChatStream {
	return &ChatStream{iterator: func(yield func(StreamEvent) bool) {
		yield(StreamEvent{Type: StreamEventError, Err: Classify(provider, err)})
	}}
}

// NewTextStream returns a stream that yields the given fragments followed by
// done. It backs fakes and offline adapters.
func NewTextStream(fragments ...string) *ChatStream {
	return &ChatStream{iterator: func(yield func(StreamEvent) bool) {
		for _, fragment := range fragments {
			if !yield(StreamEvent{Type: StreamEventContent, Content: fragment}) {
				return
			}
		}
		yield(StreamEvent{Type: StreamEventDone, FinishReason: "stop"})
	}}
}

// Iter returns the underlying iterator for use with range-over-func loops.
//
// Example:
//
//	for event := range stream.Iter() {
//	    switch event.Type {
//	    case ai.StreamEventContent:
//	        fmt.Print(event.Content)
//	    case ai.StreamEventError:
//	        return event.Err
//	    }
//	}
func (stream *ChatStream) Iter() iter.Seq[StreamEvent] {
	return stream.iterator
}

// Collect consumes the entire stream and returns the accumulated response.
// A terminal error event is returned as the error together with the partial
// response accumulated so far.
func (stream *ChatStream) Collect() (*ChatResponse, error) {
	accumulated := &ChatResponse{}
	var content, reasoning strings.Builder

	for event := range stream.iterator {
		switch event.Type {
		case StreamEventContent:
			content.WriteString(event.Content)
		case StreamEventReasoning:
			reasoning.WriteString(event.Reasoning)
		case StreamEventUsage:
			if event.Usage != nil {
				accumulated.Usage = event.Usage
			}
		case StreamEventDone:
			accumulated.FinishReason = event.FinishReason
		case StreamEventError:
			accumulated.Content = content.String()
			accumulated.Reasoning = reasoning.String()
			if event.Err == nil {
				return accumulated, errors.New("unspecified stream error")
			}
			return accumulated, event.Err
		}
	}

	accumulated.Content = content.String()
	accumulated.Reasoning = reasoning.String()
	return accumulated, nil
}
