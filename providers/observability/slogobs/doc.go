// Package slogobs implements observability.Provider on top of log/slog.
//
// Spans are logged at start and end, counters and histograms are logged on
// every observation, and log calls map onto slog levels with an extra TRACE
// level below DEBUG. The handler writes one of three layouts (compact, pretty,
// json) and colors level names with termenv when the output is a terminal.
//
// The format and level default to the MOSAIK_LOG_FORMAT and MOSAIK_LOG_LEVEL
// environment variables, falling back to LOG_FORMAT and LOG_LEVEL.
package slogobs
