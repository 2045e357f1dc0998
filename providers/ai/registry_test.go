package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type prefixProvider struct {
	name   string
	prefix string
}

func (provider *prefixProvider) Name() string { return provider.name }

func (provider *prefixProvider) Supports(model string) bool {
	return strings.HasPrefix(model, provider.prefix)
}

func (provider *prefixProvider) Send(_ context.Context, _ ChatRequest) *ChatStream {
	return NewTextStream("ok")
}

func (provider *prefixProvider) Capability() Capability {
	return Capability{Models: []string{provider.prefix + "small"}, AnyModel: true}
}

func TestRegistry_Lookup(t *testing.T) {
	registry := NewRegistry(
		&prefixProvider{name: "remote", prefix: "claude-"},
		&prefixProvider{name: "local", prefix: ""},
	)

	if _, err := registry.Lookup("remote", "claude-x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := registry.Lookup("remote", "gpt-4"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}
	if _, err := registry.Lookup("missing", "x"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	if !registry.Supports("local", "llama3") || registry.Supports("missing", "llama3") {
		t.Errorf("Supports disagrees with Lookup")
	}
}

func TestRegistry_Capabilities(t *testing.T) {
	registry := NewRegistry(&prefixProvider{name: "zeta", prefix: "z-"}, &prefixProvider{name: "alpha", prefix: "a-"})

	capabilities := registry.Capabilities()
	if len(capabilities) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(capabilities))
	}
	if capabilities[0].ProviderID != "alpha" || capabilities[1].ProviderID != "zeta" {
		t.Errorf("expected sorted capabilities, got %+v", capabilities)
	}
	if len(capabilities[0].Models) != 1 || !capabilities[0].AnyModel {
		t.Errorf("expected described capability, got %+v", capabilities[0])
	}
}
