// Package httpclient is the JSON-over-HTTP transport shared by the provider
// adapters. A request is attempted at most twice: network errors, timeouts,
// 429 and 5xx responses are retried once and then reported as
// collaborator_unavailable. Other statuses are returned to the caller.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

const maxErrorBody = 512

// RequestFunc builds a fresh request for each attempt
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client performs bounded, single-retry HTTP calls against one collaborator
type Client struct {
	name       string
	http       *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a client whose every attempt is bounded by timeout
func New(name string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:       name,
		http:       &http.Client{Timeout: timeout},
		retryDelay: 200 * time.Millisecond,
		logger:     logger,
	}
}

// WithRetryDelay overrides the pause before the retry
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	c.retryDelay = d
	return c
}

// Do sends the request, retrying once on a transient failure
func (c *Client) Do(ctx context.Context, build RequestFunc) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindCollaboratorUnavailable, ctx.Err(), "%s request cancelled", c.name)
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.once(ctx, build)
		if err == nil && !transientStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, truncate(resp.Body))
		}
		c.logger.Warn("Collaborator call failed",
			zap.String("collaborator", c.name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs.Wrap(errs.KindCollaboratorUnavailable, lastErr, "%s unavailable", c.name)
}

func (c *Client) once(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Rejected converts a non-2xx, non-transient response into a collaborator_rejected error
func (c *Client) Rejected(resp *Response, action string) error {
	c.logger.Error("Collaborator rejected request",
		zap.String("collaborator", c.name),
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(resp.Body)))
	return errs.New(errs.KindCollaboratorRejected, "%s rejected %s: status %d: %s",
		c.name, action, resp.StatusCode, truncate(resp.Body))
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
