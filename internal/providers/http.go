package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrMalformedResponse marks a 200 response whose body could not be read as
// an answer: invalid JSON, or no choice/output to take the answer from.
var ErrMalformedResponse = errors.New("malformed provider response")

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 4 << 10
)

// postJSON sends body to url and decodes a 200 response into out. Any other
// status becomes an *HTTPError so RetryDo can decide whether to try again.
func postJSON(ctx context.Context, client *http.Client, name, url string, header http.Header, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", name, msg),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrMalformedResponse, name, err)
	}
	return nil
}

// decodeArgs turns a tool call's raw argument object into a map. Arguments
// that are not a JSON object leave the map empty; RawArguments keeps them.
func decodeArgs(raw []byte) map[string]interface{} {
	args := make(map[string]interface{})
	_ = json.Unmarshal(raw, &args)
	return args
}
