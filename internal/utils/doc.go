// Package utils provides shared low-level helpers for the provider adapters:
// JSON-over-HTTP requests, streaming POSTs whose body is left open for the
// caller, and scanners for the two streaming framings backends use,
// Server-Sent Events ([SSEScanner]) and newline-delimited JSON
// ([NDJSONScanner]).
package utils
