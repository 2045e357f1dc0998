package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
)

type triggerRequest struct {
	// Start is empty for a whole-graph run.
	Start graph.NodeID `json:"start,omitempty"`
	Force bool         `json:"force,omitempty"`
	Wait  bool         `json:"wait,omitempty"`
}

type chatRequest struct {
	Text string `json:"text"`
	Wait bool   `json:"wait,omitempty"`
}

type runResponse struct {
	RunID engine.RunID `json:"run_id"`
}

type runsResponse struct {
	Active []engine.RunID `json:"active"`
}

type modelsResponse struct {
	ProviderID string   `json:"provider_id"`
	Models     []string `json:"models"`
}

func runIDParam(request *http.Request) engine.RunID {
	return engine.RunID(chi.URLParam(request, "runID"))
}

func (server *Server) triggerRun(writer http.ResponseWriter, request *http.Request) {
	var body triggerRequest
	if err := decodeJSON(writer, request, &body, true); err != nil {
		server.writeError(writer, request, err)
		return
	}

	var opts []engine.TriggerOption
	if body.Force {
		opts = append(opts, engine.WithForce())
	}
	runID, err := server.engine.TriggerRun(request.Context(), body.Start, opts...)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondRun(writer, request, runID, body.Wait)
}

func (server *Server) chat(writer http.ResponseWriter, request *http.Request) {
	var body chatRequest
	if err := decodeJSON(writer, request, &body, true); err != nil {
		server.writeError(writer, request, err)
		return
	}
	runID, err := server.engine.Chat(request.Context(), nodeIDParam(request), body.Text)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	server.respondRun(writer, request, runID, body.Wait)
}

// respondRun answers 202 with the run id, or waits and answers 200 with the
// final snapshot. A client that disconnects while waiting leaves the run
// going.
func (server *Server) respondRun(writer http.ResponseWriter, request *http.Request, runID engine.RunID, wait bool) {
	if !wait {
		writeJSON(writer, http.StatusAccepted, runResponse{RunID: runID})
		return
	}
	snapshot, err := server.engine.Wait(request.Context(), runID)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

func (server *Server) listRuns(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, runsResponse{Active: server.engine.ActiveRuns()})
}

func (server *Server) getRun(writer http.ResponseWriter, request *http.Request) {
	snapshot, err := server.engine.Run(runIDParam(request))
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

func (server *Server) cancelRun(writer http.ResponseWriter, request *http.Request) {
	if err := server.engine.CancelRun(runIDParam(request)); err != nil {
		server.writeError(writer, request, err)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}

func (server *Server) getRunHistory(writer http.ResponseWriter, request *http.Request) {
	if server.history == nil {
		writeJSON(writer, http.StatusNotFound, errorResponse{Error: "run history is not configured"})
		return
	}
	events, err := server.history.History(request.Context(), runIDParam(request))
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, events)
}

func (server *Server) getRecentRuns(writer http.ResponseWriter, request *http.Request) {
	if server.history == nil {
		writeJSON(writer, http.StatusNotFound, errorResponse{Error: "run history is not configured"})
		return
	}
	limit := 20
	if raw := request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			server.writeError(writer, request, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = parsed
	}
	summaries, err := server.history.RecentRuns(request.Context(), limit)
	if err != nil {
		server.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, summaries)
}

// streamEvents relays the sink as server-sent events until the client goes
// away. ?run_id= restricts the stream to one run.
func (server *Server) streamEvents(writer http.ResponseWriter, request *http.Request) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		writeJSON(writer, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}
	only := engine.RunID(request.URL.Query().Get("run_id"))

	subscription := server.engine.Subscribe()
	defer subscription.Close()

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.WriteHeader(http.StatusOK)
	fmt.Fprint(writer, ": connected\n\n")
	flusher.Flush()

	for event := range subscription.Events(request.Context()) {
		if only != "" && event.RunID != only {
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(writer, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
		flusher.Flush()
	}
}

func (server *Server) listProviders(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, server.engine.Capabilities())
}

// listModels asks the adapter for its models when it can enumerate them and
// falls back to its advertised catalogue otherwise.
func (server *Server) listModels(writer http.ResponseWriter, request *http.Request) {
	providerID := chi.URLParam(request, "providerID")
	provider, exists := server.engine.Registry().Provider(providerID)
	if !exists {
		server.writeError(writer, request, fmt.Errorf("%w: %q", ai.ErrUnknownProvider, providerID))
		return
	}

	response := modelsResponse{ProviderID: providerID, Models: []string{}}
	if lister, ok := provider.(ai.ModelLister); ok {
		models, err := lister.ListModels(request.Context())
		if err != nil {
			writeJSON(writer, http.StatusBadGateway, errorResponse{Error: err.Error()})
			return
		}
		response.Models = append(response.Models, models...)
	} else if describer, ok := provider.(ai.Describer); ok {
		response.Models = append(response.Models, describer.Capability().Models...)
	}
	writeJSON(writer, http.StatusOK, response)
}
