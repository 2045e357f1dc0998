package anthropic

/*
	ANTHROPIC MESSAGES API - REQUEST TYPES
*/

type anthropicRequest struct {
	Model       string                   `json:"model"`
	Messages    []anthropicMessage       `json:"messages"`
	System      string                   `json:"system,omitempty"`
	MaxTokens   int                      `json:"max_tokens"` // Required by Anthropic on every request
	Temperature *float64                 `json:"temperature,omitempty"`
	Stream      bool                     `json:"stream"`
	Thinking    *anthropicThinkingConfig `json:"thinking,omitempty"`
}

// anthropicThinkingConfig enables extended thinking with a token budget.
type anthropicThinkingConfig struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // Plain-text shorthand for a single text block
}

/*
	ANTHROPIC SSE STREAMING - WIRE TYPES

	Event lifecycle:
	  message_start → content_block_start → content_block_delta → content_block_stop →
	  message_delta → message_stop
*/

// anthropicStreamEvent is the envelope of every SSE data payload. Type
// discriminates which optional fields are populated.
type anthropicStreamEvent struct {
	Type    string                 `json:"type"`
	Message *anthropicMessageStart `json:"message,omitempty"` // message_start
	Delta   *streamDelta           `json:"delta,omitempty"`   // content_block_delta, message_delta
	Usage   *anthropicUsage        `json:"usage,omitempty"`   // message_delta
	Error   *anthropicError        `json:"error,omitempty"`   // error
}

type anthropicMessageStart struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

// streamDelta carries either a content delta (Type set) or the final stop
// reason of a message_delta (Type empty).
type streamDelta struct {
	Type       string `json:"type,omitempty"`     // "text_delta", "thinking_delta", "signature_delta"
	Text       string `json:"text,omitempty"`     // text_delta
	Thinking   string `json:"thinking,omitempty"` // thinking_delta
	StopReason string `json:"stop_reason,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"` // "overloaded_error", "rate_limit_error", "authentication_error", ...
	Message string `json:"message"`
}

// anthropicErrorEnvelope is the JSON body of a non-2xx response.
type anthropicErrorEnvelope struct {
	Type  string         `json:"type"`
	Error anthropicError `json:"error"`
}
