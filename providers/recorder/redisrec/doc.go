// Package redisrec mirrors the engine's event log into Redis so run history
// survives the process.
//
// Each event is appended to the stream {prefix}:run:{run_id}:events, trimmed
// approximately to a maximum length. A hash {prefix}:run:{run_id} accumulates
// the run summary, and finished runs are indexed in the sorted set
// {prefix}:runs scored by finish time.
package redisrec
