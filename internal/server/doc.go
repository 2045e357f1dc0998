// Package server exposes an engine over HTTP/JSON for canvas front ends.
//
// Graph edits, runs and file transfers are plain JSON endpoints. Live
// progress is streamed from GET /events as server-sent events, one per sink
// event, with the sink sequence number as the SSE id.
package server
