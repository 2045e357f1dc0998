package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	graphURI = "mosaik://graph"

	// defaultRunTimeout bounds how long trigger_run and chat wait.
	defaultRunTimeout = 10 * time.Minute
)

// RunResult is what trigger_run and chat return once the run finished.
type RunResult struct {
	RunID   engine.RunID                  `json:"run_id"`
	Outcome graph.Status                  `json:"outcome"`
	Outputs map[graph.NodeID]string       `json:"outputs"`
	Failed  map[graph.NodeID]FailedResult `json:"failed,omitempty"`
}

// FailedResult describes a node that did not succeed.
type FailedResult struct {
	Status graph.Status `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Server wraps an engine as an MCP server.
type Server struct {
	engine     *engine.Engine
	mcpServer  *server.MCPServer
	runTimeout time.Duration
}

type Option func(*options)

type options struct {
	version    string
	runTimeout time.Duration
}

// WithVersion sets the version reported to clients.
func WithVersion(version string) Option {
	return func(opts *options) {
		opts.version = version
	}
}

// WithRunTimeout bounds how long run tools wait for completion. The run is
// cancelled when the bound is hit.
func WithRunTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.runTimeout = timeout
	}
}

// New creates a new MCP server for mosaik.
func New(mosaik *engine.Engine, opts ...Option) *Server {
	settings := options{version: "dev", runTimeout: defaultRunTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	s := &Server{
		engine: mosaik,
		mcpServer: server.NewMCPServer("mosaik", settings.version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
		runTimeout: settings.runTimeout,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin and stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get every node and edge of the canvas, with live statuses."),
	), s.handleGetGraph)

	s.mcpServer.AddTool(mcp.NewTool("graph_version",
		mcp.WithDescription("Get the graph version, which increases on every edit."),
	), s.handleGraphVersion)

	s.mcpServer.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a node and return it."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("One of text, chat, transform, file_import, file_export"),
			mcp.Enum(string(graph.KindText), string(graph.KindChat), string(graph.KindTransform), string(graph.KindFileImport), string(graph.KindFileExport))),
		mcp.WithString("title", mcp.Description("Display title")),
		mcp.WithString("text", mcp.Description("Text payload of a text node")),
		mcp.WithString("provider", mcp.Description("Provider id of a chat node")),
		mcp.WithString("model", mcp.Description("Model of a chat node")),
		mcp.WithString("system_prompt", mcp.Description("System prompt of a chat node")),
		mcp.WithBoolean("thinking", mcp.Description("Stream reasoning on a chat node")),
		mcp.WithString("transform", mcp.Description("Operation of a transform node")),
		mcp.WithString("folder", mcp.Description("Target folder of a file_export node")),
		mcp.WithString("file_name", mcp.Description("File name without extension of a file_export node")),
		mcp.WithString("format", mcp.Description("txt or md")),
		mcp.WithString("params", mcp.Description("JSON object of node parameters")),
	), s.handleCreateNode)

	s.mcpServer.AddTool(mcp.NewTool("connect",
		mcp.WithDescription("Connect two nodes so the source output feeds the target."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target node id")),
		mcp.WithString("slot", mcp.Description("Target input slot; \"system\" feeds the system prompt")),
	), s.handleConnect)

	s.mcpServer.AddTool(mcp.NewTool("trigger_run",
		mcp.WithDescription("Run the graph, or one node and everything downstream of it, and wait for the outputs."),
		mcp.WithString("start", mcp.Description("Node to start from; omit to run the whole graph")),
		mcp.WithBoolean("force", mcp.Description("Re-execute nodes whose outputs are fresh")),
	), s.handleTriggerRun)

	s.mcpServer.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a message to a chat node and wait for its reply."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Chat node id")),
		mcp.WithString("text", mcp.Description("Message; omit to regenerate the last reply")),
	), s.handleChat)

	s.mcpServer.AddTool(mcp.NewTool("cancel_run",
		mcp.WithDescription("Cancel an active run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by trigger_run")),
	), s.handleCancelRun)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Current Graph",
		mcp.WithResourceDescription("Nodes and edges of the canvas"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Graph())
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetGraph(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Graph())
}

func (s *Server) handleGraphVersion(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]uint64{"version": s.engine.GraphVersion()})
}

func (s *Server) handleCreateNode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	config := graph.NodeConfig{
		Title:        request.GetString("title", ""),
		Text:         request.GetString("text", ""),
		Provider:     request.GetString("provider", ""),
		Model:        request.GetString("model", ""),
		SystemPrompt: request.GetString("system_prompt", ""),
		Thinking:     request.GetBool("thinking", false),
		Transform:    request.GetString("transform", ""),
		Folder:       request.GetString("folder", ""),
		FileName:     request.GetString("file_name", ""),
		Format:       request.GetString("format", ""),
	}
	if raw := request.GetString("params", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config.Params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("params must be a JSON object: %v", err)), nil
		}
	}

	nodeID, err := s.engine.CreateNode(graph.NodeKind(kind), config)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	node, err := s.engine.Node(nodeID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(node)
}

func (s *Server) handleConnect(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := request.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.Connect(graph.NodeID(source), graph.NodeID(target), request.GetString("slot", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]uint64{"version": s.engine.GraphVersion()})
}

func (s *Server) handleTriggerRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var opts []engine.TriggerOption
	if request.GetBool("force", false) {
		opts = append(opts, engine.WithForce())
	}
	runID, err := s.engine.TriggerRun(ctx, graph.NodeID(request.GetString("start", "")), opts...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.awaitRun(ctx, runID)
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := request.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runID, err := s.engine.Chat(ctx, graph.NodeID(nodeID), request.GetString("text", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.awaitRun(ctx, runID)
}

// awaitRun waits for the run and summarizes it. If the caller goes away or
// the timeout hits, the run is cancelled rather than left orphaned.
func (s *Server) awaitRun(ctx context.Context, runID engine.RunID) (*mcp.CallToolResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	snapshot, err := s.engine.Wait(waitCtx, runID)
	if err != nil {
		_ = s.engine.CancelRun(runID)
		return mcp.NewToolResultError(fmt.Sprintf("run %s did not finish: %v", runID, err)), nil
	}
	return jsonResult(summarize(snapshot))
}

func summarize(snapshot engine.RunSnapshot) RunResult {
	result := RunResult{
		RunID:   snapshot.ID,
		Outcome: snapshot.Outcome,
		Outputs: make(map[graph.NodeID]string, len(snapshot.Nodes)),
	}
	for nodeID, state := range snapshot.Nodes {
		if state.Status == graph.StatusSucceeded {
			result.Outputs[nodeID] = state.Output
			continue
		}
		if result.Failed == nil {
			result.Failed = make(map[graph.NodeID]FailedResult)
		}
		result.Failed[nodeID] = FailedResult{Status: state.Status, Reason: state.Reason, Error: state.Error}
	}
	return result
}

func (s *Server) handleCancelRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.CancelRun(engine.RunID(runID)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancellation requested for %s", runID)), nil
}
