// Package anthropic implements [ai.Provider] for Anthropic's Messages API.
//
// Requests are always streamed: text deltas become content fragments,
// thinking deltas become reasoning fragments, and in-stream error events are
// mapped onto the shared failure reasons (overloaded and rate-limit errors
// become RateLimited, authentication and permission errors AuthRejected).
//
// [New] reads ANTHROPIC_API_KEY and ANTHROPIC_API_BASE_URL from the
// environment; the With* methods override them.
package anthropic
