package workflow

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
)

// ErrUnknownNode is returned when a name does not refer to a declared node.
var ErrUnknownNode = errors.New("unknown workflow node")

// Workflow is a decoded and validated workflow file.
type Workflow struct {
	Filename string
	Nodes    []Node
	Edges    []Edge
}

// Node is a named node declaration.
type Node struct {
	Name         string
	Kind         graph.NodeKind
	Config       graph.NodeConfig
	Conversation []graph.Message
	Range        hcl.Range
}

// Edge links two declared nodes by name.
type Edge struct {
	From  string
	To    string
	Slot  string
	Range hcl.Range
}

// Load parses and validates the workflow file at path.
func Load(path string) (*Workflow, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source. filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Workflow, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", filename, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", filename, diags)
	}

	workflow, diags := build(&parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid workflow %s: %w", filename, diags)
	}
	workflow.Filename = filename
	return workflow, nil
}

func build(parsed *hclFile) (*Workflow, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	workflow := &Workflow{}
	declared := make(map[string]hcl.Range, len(parsed.Nodes))

	for _, block := range parsed.Nodes {
		if previous, exists := declared[block.Name]; exists {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate node",
				Detail:   fmt.Sprintf("Node %q was already declared at %s.", block.Name, previous),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		declared[block.Name] = block.DefRange

		node, nodeDiags := buildNode(block)
		diags = append(diags, nodeDiags...)
		workflow.Nodes = append(workflow.Nodes, node)
	}

	for _, block := range parsed.Edges {
		for _, endpoint := range []string{block.From, block.To} {
			if _, exists := declared[endpoint]; !exists {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Unknown node",
					Detail:   fmt.Sprintf("Edge refers to %q, which is not declared.", endpoint),
					Subject:  block.DefRange.Ptr(),
				})
			}
		}
		workflow.Edges = append(workflow.Edges, Edge{From: block.From, To: block.To, Slot: block.Slot, Range: block.DefRange})
	}

	if diags.HasErrors() {
		return workflow, diags
	}

	// A dry run against a scratch store catches cycles and duplicate edges.
	if _, err := workflow.Apply(graph.NewStore()); err != nil {
		var edgeErr *EdgeError
		subject := (*hcl.Range)(nil)
		if errors.As(err, &edgeErr) {
			subject = edgeErr.Edge.Range.Ptr()
		}
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid edge",
			Detail:   err.Error(),
			Subject:  subject,
		})
	}
	return workflow, diags
}

func buildNode(block *hclNode) (Node, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	invalid := func(summary, detail string, subject hcl.Range) {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   detail,
			Subject:  subject.Ptr(),
		})
	}

	node := Node{
		Name:  block.Name,
		Kind:  graph.NodeKind(block.Kind),
		Range: block.DefRange,
		Config: graph.NodeConfig{
			Title:        block.Title,
			Provider:     block.Provider,
			Model:        block.Model,
			SystemPrompt: block.System,
			Thinking:     block.Thinking,
			Text:         block.Text,
			Transform:    block.Transform,
			Path:         block.Path,
			Folder:       block.Folder,
			FileName:     block.FileName,
			Format:       block.Format,
		},
	}
	if node.Config.Title == "" {
		node.Config.Title = block.Name
	}

	if !node.Kind.Valid() {
		invalid("Invalid node kind", fmt.Sprintf("Node %q has kind %q; expected one of text, chat, transform, file_import, file_export.", block.Name, block.Kind), block.DefRange)
	}
	if node.Kind == graph.KindChat && (block.Provider == "" || block.Model == "") {
		invalid("Incomplete chat node", fmt.Sprintf("Chat node %q needs both provider and model.", block.Name), block.DefRange)
	}
	if node.Kind == graph.KindTransform && block.Transform == "" {
		invalid("Incomplete transform node", fmt.Sprintf("Transform node %q needs a transform operation.", block.Name), block.DefRange)
	}
	if block.Format != "" {
		if _, err := fileio.ParseFormat(block.Format); err != nil {
			invalid("Invalid format", fmt.Sprintf("Node %q: %v.", block.Name, err), block.DefRange)
		}
	}

	params, err := paramsFromCty(block.Params)
	if err != nil {
		invalid("Invalid params", fmt.Sprintf("Node %q: %v.", block.Name, err), block.DefRange)
	}
	node.Config.Params = params

	for _, message := range block.Messages {
		role := graph.Role(message.Role)
		if role != graph.RoleUser && role != graph.RoleAssistant {
			invalid("Invalid message role", fmt.Sprintf("Role %q is not one of user, assistant.", message.Role), message.DefRange)
			continue
		}
		node.Conversation = append(node.Conversation, graph.Message{Role: role, Content: message.Content})
	}
	if len(node.Conversation) > 0 && node.Kind != graph.KindChat {
		invalid("Unexpected message", fmt.Sprintf("Only chat nodes carry messages; %q is %s.", block.Name, block.Kind), block.DefRange)
	}

	return node, diags
}

// EdgeError reports an edge the store rejected.
type EdgeError struct {
	Edge Edge
	Err  error
}

// Error implements the error interface.
func (edgeError *EdgeError) Error() string {
	return fmt.Sprintf("edge %s -> %s: %v", edgeError.Edge.From, edgeError.Edge.To, edgeError.Err)
}

// Unwrap returns the store error.
func (edgeError *EdgeError) Unwrap() error {
	return edgeError.Err
}

// Apply creates the workflow's nodes and edges in store and returns the new
// node ids keyed by name. On failure the nodes created so far are removed.
func (workflow *Workflow) Apply(store *graph.Store) (map[string]graph.NodeID, error) {
	ids := make(map[string]graph.NodeID, len(workflow.Nodes))
	rollback := func() {
		for _, nodeID := range ids {
			_ = store.RemoveNode(nodeID)
		}
	}

	for _, node := range workflow.Nodes {
		nodeID := store.AddNode(node.Kind, node.Config.Clone())
		ids[node.Name] = nodeID
		for _, message := range node.Conversation {
			if err := store.AppendMessage(nodeID, message); err != nil {
				rollback()
				return nil, fmt.Errorf("node %s: %w", node.Name, err)
			}
		}
	}

	for _, edge := range workflow.Edges {
		source, sourceOK := ids[edge.From]
		target, targetOK := ids[edge.To]
		if !sourceOK || !targetOK {
			rollback()
			return nil, &EdgeError{Edge: edge, Err: ErrUnknownNode}
		}
		if err := store.AddEdge(source, target, edge.Slot); err != nil {
			rollback()
			return nil, &EdgeError{Edge: edge, Err: err}
		}
	}
	return ids, nil
}

// Node returns the declaration named name.
func (workflow *Workflow) Node(name string) (Node, error) {
	for _, node := range workflow.Nodes {
		if node.Name == name {
			return node, nil
		}
	}
	return Node{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
}

// Names inverts the mapping returned by Apply.
func Names(ids map[string]graph.NodeID) map[graph.NodeID]string {
	names := make(map[graph.NodeID]string, len(ids))
	for name, nodeID := range ids {
		names[nodeID] = name
	}
	return names
}
