package ai

import (
	"context"
)

// Provider is the uniform capability every LLM backend adapter exposes to the
// engine: report which models it can serve, and turn a conversation into a
// stream of fragments.
type Provider interface {
	// Name returns the provider id the adapter is registered under
	// (e.g. "anthropic", "ollama").
	Name() string

	// Supports reports whether the adapter can serve the given model.
	Supports(model string) bool

	// Send starts a call and returns its stream. Send never fails directly:
	// transport, authentication and decoding failures arrive as the terminal
	// error event of the returned stream. The stream must be consumed to
	// release the underlying connection.
	Send(ctx context.Context, request ChatRequest) *ChatStream
}

// ModelLister is an optional interface for adapters that can enumerate the
// models available on their backend. Callers detect it via type assertion.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Capability is the stateless descriptor of a registered provider.
type Capability struct {
	ProviderID string   `json:"provider_id"`
	Models     []string `json:"models,omitempty"` // Known models; may be incomplete when AnyModel is set

	// AnyModel is set when the backend accepts model names that are not
	// known in advance (locally pulled models, new releases).
	AnyModel bool `json:"any_model,omitempty"`
}

// Describer is an optional interface for adapters that publish a Capability.
// Adapters without it are described by their Name only.
type Describer interface {
	Capability() Capability
}
