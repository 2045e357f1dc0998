package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
)

type createNodeRequest struct {
	Kind   graph.NodeKind   `json:"kind"`
	Config graph.NodeConfig `json:"config"`
}

type edgeRequest struct {
	Source graph.NodeID `json:"source"`
	Target graph.NodeID `json:"target"`
	Slot   string       `json:"slot,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

type versionResponse struct {
	Version uint64 `json:"version"`
}

func nodeIDParam(request *http.Request) graph.NodeID {
	return graph.NodeID(chi.URLParam(request, "nodeID"))
}

func (server *Server) getHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) getGraph(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, server.engine.Graph())
}

func (server *Server) getGraphVersion(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, versionResponse{Version: server.engine.GraphVersion()})
}

func (server *Server) createNode(writer http.ResponseWriter, request *http.Request) {
	var body createNodeRequest
	if err := decodeJSON(writer, request, &body, false); err != nil {
		server.writeError(writer, request, err)
		return
	}
	nodeID, err := server.engine.CreateNode(body.Kind, body.Config)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondNode(writer, request, nodeID, http.StatusCreated)
}

func (server *Server) respondNode(writer http.ResponseWriter, request *http.Request, nodeID graph.NodeID, status int) {
	node, err := server.engine.Node(nodeID)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, status, node)
}

func (server *Server) getNode(writer http.ResponseWriter, request *http.Request) {
	server.respondNode(writer, request, nodeIDParam(request), http.StatusOK)
}

func (server *Server) deleteNode(writer http.ResponseWriter, request *http.Request) {
	if err := server.engine.DeleteNode(nodeIDParam(request)); err != nil {
		server.writeError(writer, request, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (server *Server) updateConfig(writer http.ResponseWriter, request *http.Request) {
	var config graph.NodeConfig
	if err := decodeJSON(writer, request, &config, false); err != nil {
		server.writeError(writer, request, err)
		return
	}
	nodeID := nodeIDParam(request)
	if err := server.engine.UpdateConfig(nodeID, config); err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondNode(writer, request, nodeID, http.StatusOK)
}

func (server *Server) setText(writer http.ResponseWriter, request *http.Request) {
	var body textRequest
	if err := decodeJSON(writer, request, &body, false); err != nil {
		server.writeError(writer, request, err)
		return
	}
	nodeID := nodeIDParam(request)
	if err := server.engine.SetText(nodeID, body.Text); err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondNode(writer, request, nodeID, http.StatusOK)
}

func (server *Server) clearConversation(writer http.ResponseWriter, request *http.Request) {
	nodeID := nodeIDParam(request)
	if err := server.engine.ClearConversation(nodeID); err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondNode(writer, request, nodeID, http.StatusOK)
}

// importFile replaces a node's text with the request body. The file name,
// and with it the format, comes from ?name=.
func (server *Server) importFile(writer http.ResponseWriter, request *http.Request) {
	name := request.URL.Query().Get("name")
	if name == "" {
		server.writeError(writer, request, fmt.Errorf("%w: missing ?name=", errBadRequest))
		return
	}
	content, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxImportBytes))
	if err != nil {
		server.writeError(writer, request, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	nodeID := nodeIDParam(request)
	if err := server.engine.ImportFile(nodeID, name, content); err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondNode(writer, request, nodeID, http.StatusOK)
}

func (server *Server) exportNode(writer http.ResponseWriter, request *http.Request) {
	format, err := fileio.ParseFormat(request.URL.Query().Get("format"))
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	nodeID := nodeIDParam(request)
	content, err := server.engine.ExportNode(nodeID, format)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if format == fileio.FormatMarkdown {
		contentType = "text/markdown; charset=utf-8"
	}
	writer.Header().Set("Content-Type", contentType)
	writer.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": string(nodeID) + "." + string(format),
	}))
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(content)
}

func (server *Server) connect(writer http.ResponseWriter, request *http.Request) {
	var body edgeRequest
	if err := decodeJSON(writer, request, &body, false); err != nil {
		server.writeError(writer, request, err)
		return
	}
	if err := server.engine.Connect(body.Source, body.Target, body.Slot); err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusCreated, versionResponse{Version: server.engine.GraphVersion()})
}

func (server *Server) disconnect(writer http.ResponseWriter, request *http.Request) {
	var body edgeRequest
	if err := decodeJSON(writer, request, &body, false); err != nil {
		server.writeError(writer, request, err)
		return
	}
	if err := server.engine.Disconnect(body.Source, body.Target, body.Slot); err != nil {
		server.writeError(writer, request, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}
