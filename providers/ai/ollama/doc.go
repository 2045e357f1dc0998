// Package ollama implements [ai.Provider] for a local Ollama server.
//
// Chat requests go to POST /api/chat with streaming enabled; the response is
// newline-delimited JSON where every line carries a message fragment
// (content and, for reasoning models, thinking) and the last line has
// done=true. Available models are listed from GET /api/tags.
//
// [New] reads OLLAMA_HOST (default http://localhost:11434).
package ollama
