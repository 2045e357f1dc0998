package fileio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Format is an export or import file format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

var (
	// ErrUnsupportedFormat is returned for anything other than txt or md.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrInvalidEncoding is returned when file bytes are not valid UTF-8.
	ErrInvalidEncoding = errors.New("file is not valid UTF-8 text")

	// ErrMissingFolder is returned when an export target has no folder.
	ErrMissingFolder = errors.New("export folder is not set")

	// ErrMissingName is returned when an export target has no file name.
	ErrMissingName = errors.New("export file name is not set")
)

// utf8BOM is stripped from the start of imported files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFormat parses a format name. The empty string selects FormatText.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "", "txt", "text":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromName infers the format from a file name's extension.
func FormatFromName(fileName string) (Format, error) {
	extension := filepath.Ext(fileName)
	if extension == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, fileName)
	}
	return ParseFormat(extension)
}

// Decode turns file bytes into node text. A leading byte order mark is
// removed and CRLF line endings are normalized to LF.
func Decode(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return "", ErrInvalidEncoding
	}
	return strings.ReplaceAll(string(content), "\r\n", "\n"), nil
}

// ReadText reads and decodes a txt or md file. It returns the decoded text
// and the base file name.
func ReadText(path string) (string, string, error) {
	if _, err := FormatFromName(path); err != nil {
		return "", "", err
	}

	content, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the user importing the file
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}

	text, err := Decode(content)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", path, err)
	}
	return text, filepath.Base(path), nil
}

// ExportPath returns the file an export node writes to.
func ExportPath(folder, name string, format Format) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return "", ErrMissingFolder
	}
	if strings.TrimSpace(name) == "" {
		return "", ErrMissingName
	}
	if format != FormatText && format != FormatMarkdown {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return filepath.Join(folder, name+"."+string(format)), nil
}

// WriteText writes text to {folder}/{name}.{format} and returns the path.
// The folder must already exist.
func WriteText(folder, name string, format Format, text string) (string, error) {
	path, err := ExportPath(folder, name, format)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
