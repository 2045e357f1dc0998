package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/leofalp/mosaik/providers/ai"
)

var (
	// ErrRunNotFound is returned when a run id is unknown or no longer retained.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunConflict is returned when a trigger would execute nodes that an
	// active run already owns.
	ErrRunConflict = errors.New("run overlaps an active run")

	// ErrNoProvider is returned when no registered adapter serves a chat
	// node's provider and model.
	ErrNoProvider = errors.New("no provider for node")

	// ErrEmptyInput is returned when a node has nothing to work on.
	ErrEmptyInput = errors.New("node has no input")

	// ErrUnknownTransform is returned for a transform op that is not registered.
	ErrUnknownTransform = errors.New("unknown transform")

	// ErrNotChatNode is returned when a chat turn targets a node of another kind.
	ErrNotChatNode = errors.New("node is not a chat node")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")
)

// Failure reasons recorded on nodes, next to the provider reasons of the ai
// package.
const (
	ReasonUpstreamFailed  = "UpstreamFailed"
	ReasonUnsupported     = "Unsupported"
	ReasonEmptyInput      = "EmptyInput"
	ReasonInvalidConfig   = "InvalidConfig"
	ReasonIOFailed        = "IOFailed"
	ReasonExecutionFailed = "ExecutionFailed"
	ReasonCancelled       = string(ai.ReasonCancelled)
)

// NodeError is the failure of a single node, tagged with the reason reported
// on the node and in events.
type NodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (nodeError *NodeError) Error() string {
	if nodeError.Err == nil {
		return nodeError.Reason
	}
	return fmt.Sprintf("%s: %v", nodeError.Reason, nodeError.Err)
}

// Unwrap returns the underlying cause.
func (nodeError *NodeError) Unwrap() error {
	return nodeError.Err
}

func nodeFailure(reason string, err error) error {
	return &NodeError{Reason: reason, Err: err}
}

// reasonOf extracts the node failure reason carried by err.
func reasonOf(err error) string {
	var nodeError *NodeError
	if errors.As(err, &nodeError) {
		return nodeError.Reason
	}
	var providerError *ai.ProviderError
	if errors.As(err, &providerError) {
		return string(providerError.Reason)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonCancelled
	}
	return ReasonExecutionFailed
}

// errorMessage returns the text stored on a failed node. Provider errors
// carry their own detail; everything else uses the error string.
func errorMessage(err error) string {
	var providerError *ai.ProviderError
	if errors.As(err, &providerError) {
		return providerError.Error()
	}
	var nodeError *NodeError
	if errors.As(err, &nodeError) && nodeError.Err != nil {
		return nodeError.Err.Error()
	}
	return err.Error()
}
