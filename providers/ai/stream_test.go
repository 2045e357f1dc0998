package ai

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"testing"
)

// rawStream builds an adapter-style iterator from hand-crafted events. If
// midErr is non-nil it is yielded after the events.
func rawStream(events []StreamEvent, midErr error) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		for _, event := range events {
			if !yield(event, nil) {
				return
			}
		}
		if midErr != nil {
			yield(StreamEvent{}, midErr)
		}
	}
}

func drain(stream *ChatStream) []StreamEvent {
	collected := make([]StreamEvent, 0)
	for event := range stream.Iter() {
		collected = append(collected, event)
	}
	return collected
}

func TestNewChatStream_PassesThroughUntilDone(t *testing.T) {
	stream := NewChatStream(context.Background(), "fake", rawStream([]StreamEvent{
		{Type: StreamEventContent, Content: "Hel"},
		{Type: StreamEventContent, Content: "lo"},
		{Type: StreamEventDone, FinishReason: "stop"},
		{Type: StreamEventContent, Content: "ignored"},
	}, nil))

	events := drain(stream)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[2].Type != StreamEventDone {
		t.Errorf("expected done last, got %q", events[2].Type)
	}
}

func TestNewChatStream_ErrorBecomesTerminalEvent(t *testing.T) {
	stream := NewChatStream(context.Background(), "fake", rawStream([]StreamEvent{
		{Type: StreamEventContent, Content: "partial"},
	}, &HTTPStatusError{StatusCode: 429, Body: "slow down"}))

	events := drain(stream)
	last := events[len(events)-1]
	if last.Type != StreamEventError {
		t.Fatalf("expected terminal error event, got %q", last.Type)
	}
	if last.Err.Reason != ReasonRateLimited || last.Err.StatusCode != 429 {
		t.Errorf("expected RateLimited/429, got %s/%d", last.Err.Reason, last.Err.StatusCode)
	}
	if last.Err.Provider != "fake" {
		t.Errorf("expected provider name filled in, got %q", last.Err.Provider)
	}
}

func TestNewChatStream_TruncatedStream(t *testing.T) {
	stream := NewChatStream(context.Background(), "fake", rawStream([]StreamEvent{
		{Type: StreamEventContent, Content: "no done"},
	}, nil))

	response, err := stream.Collect()
	var providerError *ProviderError
	if !errors.As(err, &providerError) || providerError.Reason != ReasonMalformedResponse {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
	if response.Content != "no done" {
		t.Errorf("expected partial content kept, got %q", response.Content)
	}
}

func TestNewChatStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	raw := func(yield func(StreamEvent, error) bool) {
		if !yield(StreamEvent{Type: StreamEventContent, Content: "a"}, nil) {
			return
		}
		cancel()
		if !yield(StreamEvent{Type: StreamEventContent, Content: "b"}, nil) {
			return
		}
		yield(StreamEvent{Type: StreamEventDone}, nil)
	}

	events := drain(NewChatStream(ctx, "fake", raw))
	if len(events) != 2 {
		t.Fatalf("expected fragment then cancellation, got %+v", events)
	}
	if events[1].Type != StreamEventError || events[1].Err.Reason != ReasonCancelled {
		t.Errorf("expected Cancelled terminal event, got %+v", events[1])
	}
}

func TestNewChatStream_EarlyBreakStopsAdapter(t *testing.T) {
	produced := 0
	raw := func(yield func(StreamEvent, error) bool) {
		for index := 0; index < 10; index++ {
			produced++
			if !yield(StreamEvent{Type: StreamEventContent, Content: "x"}, nil) {
				return
			}
		}
	}

	for range NewChatStream(context.Background(), "fake", raw).Iter() {
		break
	}
	if produced != 1 {
		t.Errorf("expected adapter to stop after the consumer broke out, produced %d", produced)
	}
}

func TestCollect_AccumulatesAllPayloads(t *testing.T) {
	stream := NewChatStream(context.Background(), "fake", rawStream([]StreamEvent{
		{Type: StreamEventReasoning, Reasoning: "think "},
		{Type: StreamEventReasoning, Reasoning: "hard"},
		{Type: StreamEventContent, Content: "answer"},
		{Type: StreamEventUsage, Usage: &Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}},
		{Type: StreamEventDone, FinishReason: "end_turn"},
	}, nil))

	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Content != "answer" || response.Reasoning != "think hard" {
		t.Errorf("unexpected accumulation: %+v", response)
	}
	if response.Usage == nil || response.Usage.TotalTokens != 7 {
		t.Errorf("expected usage kept, got %+v", response.Usage)
	}
	if response.FinishReason != "end_turn" {
		t.Errorf("expected finish reason, got %q", response.FinishReason)
	}
}

func TestNewTextStreamAndErrorStream(t *testing.T) {
	response, err := NewTextStream("a", "b").Collect()
	if err != nil || response.Content != "ab" {
		t.Errorf("unexpected text stream result %+v %v", response, err)
	}

	_, err = NewErrorStream("fake", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("refused")}).Collect()
	var providerError *ProviderError
	if !errors.As(err, &providerError) || providerError.Reason != ReasonUnreachable {
		t.Errorf("expected Unreachable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Reason
	}{
		{name: "unauthorized", err: &HTTPStatusError{StatusCode: 401}, expected: ReasonAuthRejected},
		{name: "forbidden", err: &HTTPStatusError{StatusCode: 403}, expected: ReasonAuthRejected},
		{name: "overloaded", err: &HTTPStatusError{StatusCode: 529}, expected: ReasonRateLimited},
		{name: "bad request", err: &HTTPStatusError{StatusCode: 400}, expected: ReasonMalformedResponse},
		{name: "bad gateway", err: &HTTPStatusError{StatusCode: 502}, expected: ReasonUnreachable},
		{name: "gateway", err: &HTTPStatusError{StatusCode: 503}, expected: ReasonUnreachable},
		{name: "gateway timeout", err: &HTTPStatusError{StatusCode: 504}, expected: ReasonUnreachable},
		{name: "server error", err: &HTTPStatusError{StatusCode: 500}, expected: ReasonMalformedResponse},
		{name: "cancelled", err: context.Canceled, expected: ReasonCancelled},
		{name: "wrapped cancel", err: &url.Error{Op: "Post", URL: "http://x", Err: context.Canceled}, expected: ReasonCancelled},
		{name: "decode", err: errors.New("invalid character"), expected: ReasonMalformedResponse},
		{name: "already classified", err: &ProviderError{Reason: ReasonAuthRejected}, expected: ReasonAuthRejected},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			classified := Classify("fake", test.err)
			if classified.Reason != test.expected {
				t.Errorf("expected %s, got %s", test.expected, classified.Reason)
			}
			if classified.Provider != "fake" {
				t.Errorf("expected provider set, got %q", classified.Provider)
			}
		})
	}
}
