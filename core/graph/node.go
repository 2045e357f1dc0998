package graph

import (
	"maps"
	"slices"
)

// NodeID uniquely identifies a node for its whole lifetime.
type NodeID string

// NodeKind is the closed set of node variants the scheduler knows how to
// dispatch.
type NodeKind string

const (
	// KindText is a static text (prompt) node. Its output is Config.Text.
	KindText NodeKind = "text"

	// KindChat is a conversation bound to a provider and model.
	KindChat NodeKind = "chat"

	// KindTransform applies a deterministic text operation to its inputs.
	KindTransform NodeKind = "transform"

	// KindFileImport holds text imported from a txt/md file.
	KindFileImport NodeKind = "file_import"

	// KindFileExport writes its input to a txt/md file and passes it through.
	KindFileExport NodeKind = "file_export"
)

// Valid reports whether kind is one of the known node kinds.
func (kind NodeKind) Valid() bool {
	switch kind {
	case KindText, KindChat, KindTransform, KindFileImport, KindFileExport:
		return true
	}
	return false
}

// Status is the lifecycle status of a node as reported to UI surfaces.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends a node's participation in a run.
func (status Status) Terminal() bool {
	return status == StatusSucceeded || status == StatusFailed || status == StatusCancelled
}

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged conversation turn.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"` // Reasoning text returned alongside an assistant turn
}

// NodeConfig is the user-editable configuration of a node. Which fields are
// meaningful depends on the node kind.
type NodeConfig struct {
	Title        string         `json:"title,omitempty"`
	Provider     string         `json:"provider,omitempty"`      // chat: registered provider id
	Model        string         `json:"model,omitempty"`         // chat: model name
	SystemPrompt string         `json:"system_prompt,omitempty"` // chat
	Thinking     bool           `json:"thinking,omitempty"`      // chat: request reasoning output
	Params       map[string]any `json:"params,omitempty"`        // chat and transform parameters
	Text         string         `json:"text,omitempty"`          // text and file_import payload
	Transform    string         `json:"transform,omitempty"`     // transform: operation name
	Path         string         `json:"path,omitempty"`          // file_import: source file
	Folder       string         `json:"folder,omitempty"`        // file_export: target folder
	FileName     string         `json:"file_name,omitempty"`     // file_export: name without extension
	Format       string         `json:"format,omitempty"`        // file_export: "txt" or "md"
}

// Clone returns a deep copy of the configuration.
func (config NodeConfig) Clone() NodeConfig {
	config.Params = maps.Clone(config.Params)
	return config
}

// Node is one unit of work on the canvas.
type Node struct {
	ID           NodeID     `json:"id"`
	Kind         NodeKind   `json:"kind"`
	Config       NodeConfig `json:"config"`
	Conversation []Message  `json:"conversation,omitempty"`
	Status       Status     `json:"status"`

	// Input is the upstream text materialized by the last run.
	Input string `json:"input,omitempty"`

	// Output is the materialized result propagated along outgoing edges.
	Output string `json:"output,omitempty"`

	// Error and Reason describe the last failure, if any.
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Revision increases on every config or conversation edit. A run flushes
	// its results without clearing Stale when the revision moved underneath it.
	Revision uint64 `json:"revision"`

	// Stale marks a node whose output no longer reflects its config or inputs.
	Stale bool `json:"stale"`

	// staleSince is the store version that last made the node stale.
	staleSince uint64
}

// Clone returns a deep copy of the node.
func (node Node) Clone() Node {
	node.Config = node.Config.Clone()
	node.Conversation = slices.Clone(node.Conversation)
	return node
}

// LastAssistant returns the content of the final assistant turn, or "" when
// the conversation has none.
func (node Node) LastAssistant() string {
	for index := len(node.Conversation) - 1; index >= 0; index-- {
		if node.Conversation[index].Role == RoleAssistant {
			return node.Conversation[index].Content
		}
	}
	return ""
}

// Edge is a directed data-flow link from Source to Target. Slot optionally
// names the input the edge feeds on the target.
type Edge struct {
	Source NodeID `json:"source"`
	Target NodeID `json:"target"`
	Slot   string `json:"slot,omitempty"`

	// Seq orders edges by insertion; inbound edges are consumed in Seq order.
	Seq uint64 `json:"seq"`
}

// sameLink reports whether two edges connect the same endpoints on the same slot.
func (edge Edge) sameLink(source, target NodeID, slot string) bool {
	return edge.Source == source && edge.Target == target && edge.Slot == slot
}
