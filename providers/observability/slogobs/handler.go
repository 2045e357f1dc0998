package slogobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Handler is a slog.Handler that writes compact, pretty or JSON lines.
type Handler struct {
	format Format
	level  slog.Leveler
	output io.Writer
	colors bool
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Format Format
	Level  slog.Leveler
	Output io.Writer // Defaults to os.Stderr

	// Colors forces ANSI colors on or off. Nil enables them when Output is a
	// terminal and Format is not JSON.
	Colors *bool
}

// NewHandler creates a new Handler with the given options.
func NewHandler(opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}
	handler := &Handler{
		format: opts.Format,
		level:  opts.Level,
		output: opts.Output,
		mu:     &sync.Mutex{},
	}
	if handler.output == nil {
		handler.output = os.Stderr
	}
	if handler.format == "" {
		handler.format = FormatCompact
	}
	if handler.level == nil {
		handler.level = slog.LevelInfo
	}

	if opts.Colors != nil {
		handler.colors = *opts.Colors
	} else if handler.format != FormatJSON {
		handler.colors = isTerminal(handler.output)
	}
	return handler
}

// Enabled reports whether the handler handles records at the given level.
func (handler *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle formats and writes a log record.
func (handler *Handler) Handle(_ context.Context, record slog.Record) error {
	var line []byte
	var err error
	switch handler.format {
	case FormatPretty:
		line = handler.formatPretty(record)
	case FormatJSON:
		line, err = handler.formatJSON(record)
	default:
		line = handler.formatCompact(record)
	}
	if err != nil {
		return err
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	_, err = handler.output.Write(line)
	return err
}

// WithAttrs returns a new Handler with additional attributes.
func (handler *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *handler
	clone.attrs = append(append([]slog.Attr{}, handler.attrs...), attrs...)
	return &clone
}

// WithGroup returns a new Handler whose attribute keys are prefixed by name.
func (handler *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	clone := *handler
	clone.groups = append(append([]string{}, handler.groups...), name)
	return &clone
}

// formatCompact renders "2006-01-02 15:04:05 LEVEL Message → {json attrs}".
func (handler *Handler) formatCompact(record slog.Record) []byte {
	var builder strings.Builder
	builder.WriteString(record.Time.Format("2006-01-02 15:04:05"))
	builder.WriteByte(' ')
	builder.WriteString(handler.paintLevel(record.Level, fmt.Sprintf("%5s", levelString(record.Level))))
	builder.WriteByte(' ')
	builder.WriteString(record.Message)

	attrs := handler.collectAttrs(record)
	if len(attrs) > 0 {
		builder.WriteString(" → ")
		encoded, err := json.Marshal(attrs)
		if err != nil {
			builder.WriteString("[json-error]")
		} else {
			builder.Write(encoded)
		}
	}
	builder.WriteByte('\n')
	return []byte(builder.String())
}

// formatPretty renders the header line followed by one indented line per
// attribute, sorted by key.
func (handler *Handler) formatPretty(record slog.Record) []byte {
	var builder strings.Builder
	builder.WriteString(record.Time.Format("2006-01-02 15:04:05"))
	builder.WriteByte(' ')
	level := levelString(record.Level)
	builder.WriteString(handler.paintLevel(record.Level, level))
	builder.WriteString(strings.Repeat(" ", 7-len(level)))
	builder.WriteString(record.Message)
	builder.WriteByte('\n')

	attrs := handler.collectAttrs(record)
	keys := sortedKeys(attrs)
	for index, key := range keys {
		branch := "├─"
		if index == len(keys)-1 {
			branch = "└─"
		}
		fmt.Fprintf(&builder, "                    %s %s: %v\n", branch, key, attrs[key])
	}
	return []byte(builder.String())
}

// formatJSON renders one object with time, level and msg merged with the
// attributes at the top level.
func (handler *Handler) formatJSON(record slog.Record) ([]byte, error) {
	data := handler.collectAttrs(record)
	data["time"] = record.Time.Format("2006-01-02T15:04:05.000Z07:00")
	data["level"] = levelString(record.Level)
	data["msg"] = record.Message

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}

func (handler *Handler) collectAttrs(record slog.Record) map[string]interface{} {
	attrs := make(map[string]interface{}, len(handler.attrs)+record.NumAttrs())
	for _, attr := range handler.attrs {
		handler.addAttr(attrs, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		handler.addAttr(attrs, attr)
		return true
	})
	return attrs
}

func (handler *Handler) addAttr(attrs map[string]interface{}, attr slog.Attr) {
	key := attr.Key
	if len(handler.groups) > 0 {
		key = strings.Join(handler.groups, ".") + "." + key
	}
	value := attr.Value.Resolve()
	if err, ok := value.Any().(error); ok {
		attrs[key] = err.Error()
		return
	}
	attrs[key] = value.Any()
}

func (handler *Handler) paintLevel(level slog.Level, text string) string {
	if !handler.colors {
		return text
	}
	return termenv.String(text).Foreground(colorForLevel(level)).String()
}

func colorForLevel(level slog.Level) termenv.Color {
	switch {
	case level < slog.LevelDebug:
		return termenv.ANSIBrightBlack
	case level < slog.LevelInfo:
		return termenv.ANSIBlue
	case level < slog.LevelWarn:
		return termenv.ANSIGreen
	case level < slog.LevelError:
		return termenv.ANSIYellow
	default:
		return termenv.ANSIRed
	}
}

func sortedKeys(attrs map[string]interface{}) []string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// isTerminal reports whether output is a file connected to a terminal.
func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	if !ok || file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
