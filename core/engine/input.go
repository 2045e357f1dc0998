package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
)

const (
	// SlotSystem routes upstream output into a chat node's system prompt.
	SlotSystem = "system"

	// inputSeparator joins multiple upstream outputs into one text.
	inputSeparator = "\n\n"
)

// upstreamInput is the materialized output of one inbound edge.
type upstreamInput struct {
	Source graph.NodeID
	Slot   string
	Value  string
}

// storedOutput is the value a node propagates when it is not executed in
// the current run.
func storedOutput(node graph.Node) string {
	switch node.Kind {
	case graph.KindText, graph.KindFileImport:
		if node.Config.Text != "" {
			return node.Config.Text
		}
	}
	return node.Output
}

// upstreamOutput is what a source outside the run feeds its dependents.
// Text and file_import nodes always contribute their content; other kinds
// contribute only while their last run succeeded.
func upstreamOutput(node graph.Node) string {
	switch node.Kind {
	case graph.KindText, graph.KindFileImport:
		return storedOutput(node)
	}
	if node.Status != graph.StatusSucceeded {
		return ""
	}
	return node.Output
}

// joinInputs concatenates the non-empty values accepted by keep, in edge
// insertion order.
func joinInputs(inputs []upstreamInput, keep func(slot string) bool) string {
	values := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if !keep(input.Slot) || strings.TrimSpace(input.Value) == "" {
			continue
		}
		values = append(values, input.Value)
	}
	return strings.Join(values, inputSeparator)
}

func isContextSlot(slot string) bool { return slot != SlotSystem }
func isSystemSlot(slot string) bool  { return slot == SlotSystem }

// chatParams are the provider parameters a chat node may set in
// Config.Params.
type chatParams struct {
	MaxTokens      int      `mapstructure:"max_tokens"`
	Temperature    *float64 `mapstructure:"temperature"`
	ThinkingBudget int      `mapstructure:"thinking_budget"`
}

// decodeParams decodes loosely typed node params (numbers may arrive as
// strings from forms) into target.
func decodeParams(params map[string]any, target any) error {
	if len(params) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return nodeFailure(ReasonInvalidConfig, fmt.Errorf("decode params: %w", err))
	}
	return nil
}

// chatInput is everything a chat node sends to its provider.
type chatInput struct {
	request ai.ChatRequest

	// context is the upstream text placed as the first user turn.
	context string

	// stored is the node's own conversation without a trailing assistant
	// turn, which the new reply replaces.
	stored []graph.Message

	// transcript is the full conversation as sent.
	transcript []graph.Message
}

// composeChat builds the request for a chat node from its config, its
// stored conversation and its upstream inputs.
func composeChat(node graph.Node, inputs []upstreamInput) (chatInput, error) {
	var params chatParams
	if err := decodeParams(node.Config.Params, &params); err != nil {
		return chatInput{}, err
	}

	systemPrompt := node.Config.SystemPrompt
	if extra := joinInputs(inputs, isSystemSlot); extra != "" {
		if systemPrompt != "" {
			systemPrompt += inputSeparator
		}
		systemPrompt += extra
	}

	stored := slices.Clone(node.Conversation)
	if len(stored) > 0 && stored[len(stored)-1].Role == graph.RoleAssistant {
		stored = stored[:len(stored)-1]
	}

	contextText := joinInputs(inputs, isContextSlot)
	transcript := make([]graph.Message, 0, len(stored)+1)
	if contextText != "" {
		transcript = append(transcript, graph.Message{Role: graph.RoleUser, Content: contextText})
	}
	transcript = append(transcript, stored...)
	if len(transcript) == 0 {
		return chatInput{}, nodeFailure(ReasonEmptyInput, ErrEmptyInput)
	}

	messages := make([]ai.Message, 0, len(transcript))
	for _, message := range transcript {
		messages = append(messages, ai.Message{
			Role:     ai.MessageRole(message.Role),
			Content:  message.Content,
			Thinking: message.Thinking,
		})
	}

	return chatInput{
		request: ai.ChatRequest{
			Model:          node.Config.Model,
			SystemPrompt:   systemPrompt,
			Messages:       messages,
			Thinking:       node.Config.Thinking,
			ThinkingBudget: params.ThinkingBudget,
			MaxTokens:      params.MaxTokens,
			Temperature:    params.Temperature,
		},
		context:    contextText,
		stored:     stored,
		transcript: transcript,
	}, nil
}
