package ai

// MessageRole tags a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"      // End-user message
	RoleAssistant MessageRole = "assistant" // Model response
)

// Message is a single conversation turn sent to a provider.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// Thinking is the reasoning text a previous assistant turn carried.
	// Adapters that cannot replay reasoning drop it.
	Thinking string `json:"thinking,omitempty"`
}

// ChatRequest is the provider-agnostic description of one call.
type ChatRequest struct {
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`

	// Thinking asks the model to stream its reasoning. ThinkingBudget bounds
	// the reasoning tokens where the backend supports a budget.
	Thinking       bool `json:"thinking,omitempty"`
	ThinkingBudget int  `json:"thinking_budget,omitempty"`

	MaxTokens   int      `json:"max_tokens,omitempty"`  // Zero selects the adapter default
	Temperature *float64 `json:"temperature,omitempty"` // Nil selects the backend default
}

// Usage reports token accounting returned by a backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatResponse is the accumulation of a fully consumed stream.
type ChatResponse struct {
	Content      string `json:"content"`
	Reasoning    string `json:"reasoning,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}
