package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// Client sends single commands to a running bridge.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	// newBackOff is the retry schedule for rate-limited or unavailable replies.
	newBackOff func() backoff.BackOff
}

// NewClient creates a Client for the bridge at baseURL, e.g.
// "http://127.0.0.1:8765".
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge address %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid bridge address %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(u.String(), "/") + "/api/v1/command",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("client"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}, nil
}

// Send posts req and returns the bridge's response. delivered is false when
// the bridge dropped the request and sent no response. Rate-limited and
// unavailable replies are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, req schemas.Request) (resp schemas.Response, delivered bool, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return schemas.Response{}, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to execute HTTP request: %w", err))
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch httpResp.StatusCode {
		case http.StatusNoContent:
			resp, delivered = schemas.Response{}, false
			return nil
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			c.logger.Warn("Bridge is busy, retrying.", zap.Int("status", httpResp.StatusCode))
			return fmt.Errorf("bridge returned status %d", httpResp.StatusCode)
		}

		var decoded schemas.Response
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("bridge returned status %d with undecodable body: %w", httpResp.StatusCode, err))
		}
		resp, delivered = decoded, true
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return schemas.Response{}, false, err
	}
	return resp, delivered, nil
}
