package slogobs

import (
	"io"
	"log/slog"
	"os"
)

// Option configures an Observer.
type Option func(*settings)

// settings is what New builds the observer from. A logger, when set, is used
// as is and the handler options are ignored.
type settings struct {
	handler HandlerOptions
	logger  *slog.Logger
}

// WithFormat selects the line layout.
func WithFormat(format Format) Option {
	return func(s *settings) {
		s.handler.Format = format
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level slog.Level) Option {
	return func(s *settings) {
		s.handler.Level = level
	}
}

// WithOutput redirects log lines, which go to stderr by default.
func WithOutput(output io.Writer) Option {
	return func(s *settings) {
		s.handler.Output = output
	}
}

// WithColors forces ANSI colors on or off. Without it, colors are enabled
// when the output is a terminal and the format is not JSON.
func WithColors(enabled bool) Option {
	return func(s *settings) {
		s.handler.Colors = &enabled
	}
}

// WithLogger logs through an existing slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// newSettings starts from the environment and applies opts on top.
func newSettings(opts ...Option) settings {
	s := settings{handler: HandlerOptions{
		Format: FormatFromEnv(),
		Level:  LevelFromEnv(),
		Output: os.Stderr,
	}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
