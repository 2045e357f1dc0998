package slogobs

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Format selects the layout of log lines.
type Format string

const (
	// FormatCompact writes one line per record with attributes as JSON:
	//	2026-03-01 10:40:35 DEBUG Node started → {"mosaik.node.id":"a1"}
	FormatCompact Format = "compact"

	// FormatPretty writes the message line followed by one line per attribute.
	FormatPretty Format = "pretty"

	// FormatJSON writes one JSON object per record.
	FormatJSON Format = "json"
)

var formats = map[string]Format{
	"compact": FormatCompact,
	"pretty":  FormatPretty,
	"json":    FormatJSON,
}

// ParseFormat parses a format name. Unknown names select FormatCompact.
func ParseFormat(name string) Format {
	if format, ok := formats[strings.ToLower(strings.TrimSpace(name))]; ok {
		return format
	}
	return FormatCompact
}

func (format Format) String() string {
	return string(format)
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// FormatFromEnv reads MOSAIK_LOG_FORMAT, then LOG_FORMAT.
func FormatFromEnv() Format {
	return ParseFormat(lookupEnv("MOSAIK_LOG_FORMAT", "LOG_FORMAT"))
}

// LevelFromEnv reads MOSAIK_LOG_LEVEL, then LOG_LEVEL. Unknown values fall
// back to INFO with a warning on stderr.
func LevelFromEnv() slog.Level {
	level, err := ParseLevel(lookupEnv("MOSAIK_LOG_LEVEL", "LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using INFO\n", err)
	}
	return level
}
