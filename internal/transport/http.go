// Package transport implements the primitives every backend is built
// on: a retrying HTTP JSON client, a bidirectional WebSocket framer, a
// process spawn/terminate helper, and atomic file writes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/actionplane/browserctl/internal/berrors"
)

// HTTPClient wraps net/http with the retry policy from spec.md §4.1:
// exponential backoff base 1s cap 10s, max 3 retries, retrying on
// network errors and HTTP 429/5xx only.
type HTTPClient struct {
	client         *http.Client
	connectTimeout time.Duration
	totalTimeout   time.Duration
	maxRetries     uint
}

func NewHTTPClient() *HTTPClient {
	connectTimeout := 10 * time.Second
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	return &HTTPClient{
		client:         &http.Client{Timeout: 30 * time.Second, Transport: tr},
		connectTimeout: connectTimeout,
		totalTimeout:   30 * time.Second,
		maxRetries:     3,
	}
}

type retryableStatus struct{ status int }

func (e *retryableStatus) Error() string { return fmt.Sprintf("http status %d", e.status) }

// DoJSON performs method against url with an optional JSON body,
// retrying per the policy above, and decodes the response body into out
// (when out is non-nil and the response has a body).
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return berrors.Wrap(berrors.Parse, "marshal request body", err)
		}
		bodyBytes = b
	}

	attempts := 0
	var lastErr error
	err := retry.Do(
		func() error {
			attempts++
			req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
			if err != nil {
				lastErr = err
				return retry.Unrecoverable(err)
			}
			if bodyBytes != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := c.client.Do(req)
			if err != nil {
				lastErr = err
				return err // network error: retryable
			}
			defer resp.Body.Close()

			if resp.StatusCode == 429 || resp.StatusCode >= 500 {
				lastErr = &retryableStatus{resp.StatusCode}
				return lastErr
			}
			if resp.StatusCode >= 400 {
				data, _ := io.ReadAll(resp.Body)
				lastErr = fmt.Errorf("http status %d: %s", resp.StatusCode, string(data))
				return retry.Unrecoverable(lastErr)
			}

			if out != nil {
				data, err := io.ReadAll(resp.Body)
				if err != nil {
					lastErr = err
					return retry.Unrecoverable(err)
				}
				if len(data) > 0 {
					if err := json.Unmarshal(data, out); err != nil {
						lastErr = err
						return retry.Unrecoverable(err)
					}
				}
			}
			return nil
		},
		retry.Attempts(c.maxRetries+1),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)

	if err != nil {
		return berrors.NewRetryExhausted(url, attempts, lastErr)
	}
	return nil
}

// Get performs a GET request and decodes the response into out.
func (c *HTTPClient) Get(ctx context.Context, url string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, out)
}

// PostJSON performs a POST request with a JSON body and decodes the
// response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body, out any) error {
	return c.DoJSON(ctx, http.MethodPost, url, body, out)
}

// Probe does a best-effort GET, returning true only on a 2xx response,
// never retrying and never surfacing an error. Used by aliveness checks
// (C2, C5) that want a single fast attempt.
func Probe(ctx context.Context, url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
