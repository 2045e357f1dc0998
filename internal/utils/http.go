package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// maxResponseBodySize caps how much of a response body is read into memory.
const maxResponseBodySize int64 = 10 * 1024 * 1024

// HeaderOption is an extra request header set after the defaults.
type HeaderOption struct {
	Key   string
	Value string
}

// DoGetJSON performs a GET request and decodes the JSON response into T.
// Non-2xx responses are returned as *ai.HTTPStatusError so that callers can
// classify them with ai.Classify.
func DoGetJSON[T any](ctx context.Context, client *http.Client, url string, headers ...HeaderOption) (*T, error) {
	span := observability.SpanFromContext(ctx)

	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	for _, header := range headers {
		request.Header.Set(header.Key, header.Value)
	}

	requestStart := time.Now()
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer CloseWithLog(response.Body)

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.response.received",
			observability.String(observability.AttrHTTPMethod, http.MethodGet),
			observability.String(observability.AttrHTTPURL, url),
			observability.Int(observability.AttrHTTPStatusCode, response.StatusCode),
			observability.Int(observability.AttrHTTPResponseBodySize, len(body)),
			observability.Duration(observability.AttrDuration, time.Since(requestStart)),
		)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &ai.HTTPStatusError{StatusCode: response.StatusCode, Body: TruncateString(string(body), DefaultMaxStringLength)}
	}

	var decoded T
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("error unmarshaling response body (status %d): %w\nResponse preview: %s", response.StatusCode, err, TruncateString(string(body), DefaultMaxStringLength))
	}
	return &decoded, nil
}
