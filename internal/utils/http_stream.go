package utils

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// DoPostStream POSTs body as JSON and returns the response with its body left
// open for incremental reading. The caller must close the body. Non-2xx
// responses are drained, closed and returned as *ai.HTTPStatusError.
func DoPostStream(ctx context.Context, client *http.Client, url string, body any, headers ...HeaderOption) (*http.Response, error) {
	span := observability.SpanFromContext(ctx)

	if client == nil {
		client = http.DefaultClient
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.stream_request.prepared",
			observability.String(observability.AttrHTTPMethod, http.MethodPost),
			observability.String(observability.AttrHTTPURL, url),
			observability.Int(observability.AttrHTTPRequestBodySize, len(jsonBody)),
		)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for _, header := range headers {
		request.Header.Set(header.Key, header.Value)
	}

	requestStart := time.Now()
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error sending stream request: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer CloseWithLog(response.Body)
		errorBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodySize))
		if readErr != nil {
			return nil, &ai.HTTPStatusError{StatusCode: response.StatusCode, Body: "failed to read body: " + readErr.Error()}
		}
		return nil, &ai.HTTPStatusError{StatusCode: response.StatusCode, Body: TruncateString(string(errorBody), DefaultMaxStringLength)}
	}

	if span != nil {
		span.AddEvent("http.stream_response.started",
			observability.Int(observability.AttrHTTPStatusCode, response.StatusCode),
			observability.Duration(observability.AttrDuration, time.Since(requestStart)),
		)
	}
	return response, nil
}

// maxLineSize is the largest single SSE or NDJSON line accepted (1 MB). The
// bufio.Scanner default of 64 KiB is too small for long completions.
const maxLineSize = 1 * 1024 * 1024

func newLineScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

// SSEEvent is one dispatched Server-Sent Event.
type SSEEvent struct {
	Name string // Value of the "event:" field; empty when absent
	Data string // "data:" lines joined with newlines
}

// SSEScanner reads Server-Sent Events from an io.Reader. It joins multi-line
// data fields, skips comments, and treats the "[DONE]" sentinel as io.EOF.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner creates an SSEScanner over reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{scanner: newLineScanner(reader)}
}

// Next returns the next event with a non-empty data field, or io.EOF.
// Lines longer than 1 MB yield an error wrapping bufio.ErrTooLong.
func (sseScanner *SSEScanner) Next() (SSEEvent, error) {
	var event SSEEvent
	var dataLines []string

	for sseScanner.scanner.Scan() {
		line := sseScanner.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			event = SSEEvent{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Name = value
		case "data":
			if strings.TrimSpace(value) == "[DONE]" {
				return SSEEvent{}, io.EOF
			}
			dataLines = append(dataLines, value)
		}
	}

	if err := sseScanner.scanner.Err(); err != nil {
		return SSEEvent{}, fmt.Errorf("SSE scanner error: %w", err)
	}
	if len(dataLines) > 0 {
		event.Data = strings.Join(dataLines, "\n")
		return event, nil
	}
	return SSEEvent{}, io.EOF
}

// NDJSONScanner reads newline-delimited JSON objects, skipping blank lines.
type NDJSONScanner struct {
	scanner *bufio.Scanner
}

// NewNDJSONScanner creates an NDJSONScanner over reader.
func NewNDJSONScanner(reader io.Reader) *NDJSONScanner {
	return &NDJSONScanner{scanner: newLineScanner(reader)}
}

// Next decodes the next line into target. It returns io.EOF at the end of
// input.
func (ndjsonScanner *NDJSONScanner) Next(target any) error {
	for ndjsonScanner.scanner.Scan() {
		line := bytes.TrimSpace(ndjsonScanner.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, target); err != nil {
			return fmt.Errorf("error decoding NDJSON line: %w\nLine preview: %s", err, TruncateString(string(line), DefaultMaxStringLength))
		}
		return nil
	}
	if err := ndjsonScanner.scanner.Err(); err != nil {
		return fmt.Errorf("NDJSON scanner error: %w", err)
	}
	return io.EOF
}
