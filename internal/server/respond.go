package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
	"github.com/leofalp/mosaik/providers/recorder/redisrec"
)

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to the HTTP status reported for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound),
		errors.Is(err, engine.ErrRunNotFound),
		errors.Is(err, ai.ErrUnknownProvider),
		errors.Is(err, redisrec.ErrRunNotRecorded):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrCycleDetected),
		errors.Is(err, graph.ErrDuplicateEdge),
		errors.Is(err, engine.ErrRunConflict):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, graph.ErrInvalidKind),
		errors.Is(err, engine.ErrNotChatNode),
		errors.Is(err, fileio.ErrUnsupportedFormat),
		errors.Is(err, fileio.ErrInvalidEncoding):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (server *Server) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && server.observer != nil {
		server.observer.Error(request.Context(), "Request failed",
			observability.String(observability.AttrHTTPURL, request.URL.Path),
			observability.Error(err),
		)
	}
	writeJSON(writer, status, errorResponse{Error: err.Error()})
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(value)
}

// decodeJSON reads a bounded JSON body into target. An empty body leaves
// target untouched when allowEmpty is set.
func decodeJSON(writer http.ResponseWriter, request *http.Request, target any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxJSONBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}
