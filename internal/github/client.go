// Package github provides the GitHub REST v3 client used by the issue
// runner. It is the sole network egress point: every other package that
// talks to GitHub does so through Client.
//
// Retry behavior is split between RetryPolicy (pure classification and wait
// computation) and the transport loop in request, so the policy is testable
// without real network I/O or real timers.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "issuerunner/0.1.0"
)

// APIError wraps an unrecoverable GitHub API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status=%d body=%s", e.Status, e.Body)
}

// decision classifies a single response for the retry loop.
type decision int

const (
	// decideReturn: success, return the parsed body.
	decideReturn decision = iota
	// decideFail: unrecoverable, fail without retrying.
	decideFail
	// decideRetry: transient, sleep the backoff and consume one retry unit.
	decideRetry
	// decideRateLimit: throttled, sleep until the reset without consuming budget.
	decideRateLimit
)

// RetryPolicy decides how the request loop reacts to each response.
// The zero value is not useful; use DefaultPolicy.
type RetryPolicy struct {
	// MaxRetries bounds the number of attempts that consume budget.
	MaxRetries int
	// MaxRateLimitWait caps how long a single rate-limit sleep may last.
	MaxRateLimitWait time.Duration
}

// DefaultPolicy mirrors the defaults the runner operates with: three
// attempts, and at most one hour spent waiting out a rate limit window.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, MaxRateLimitWait: time.Hour}
}

// Classify maps a response status to a retry decision. hasReset reports
// whether the response carried a rate-limit reset timestamp.
//
//   - 200/201: success.
//   - 403 with a reset timestamp: throttled, wait without consuming budget.
//   - 404/422: requests that will never succeed as-is; fail immediately.
//   - >= 500: transient server error, retry with backoff.
//   - anything else: fail immediately.
func (p RetryPolicy) Classify(status int, hasReset bool) decision {
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return decideReturn
	case status == http.StatusForbidden && hasReset:
		return decideRateLimit
	case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return decideFail
	case status >= 500:
		return decideRetry
	default:
		return decideFail
	}
}

// Backoff returns the wait before retrying a transient failure.
// attempt is 0-based, giving the 1s, 2s, 4s, ... doubling schedule.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// RateLimitWait returns how long to sleep for a rate limit that resets at
// reset, capped at MaxRateLimitWait. Never negative.
func (p RetryPolicy) RateLimitWait(reset, now time.Time) time.Duration {
	wait := reset.Sub(now)
	if wait < 0 {
		wait = 0
	}
	if wait > p.MaxRateLimitWait {
		wait = p.MaxRateLimitWait
	}
	return wait
}

// Client is a GitHub REST v3 client scoped to a single repository.
type Client struct {
	BaseURL    string
	Owner      string
	Repo       string
	Token      string
	HTTPClient *http.Client
	Policy     RetryPolicy

	// Sleep and Now are swappable so tests can run the retry loop without
	// real timers. Sleep must return early with the context error when the
	// context is cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// NewClient creates a Client for owner/repo authenticated with token.
func NewClient(owner, repo, token string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		Owner:      owner,
		Repo:       repo,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Policy:     DefaultPolicy(),
		Sleep:      sleepCtx,
		Now:        time.Now,
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// request performs method on path (relative to BaseURL) with the retry and
// rate-limit discipline from Policy, decoding a success body into out when
// out is non-nil. body, when non-nil, is JSON-encoded.
//
// Rate-limit waits do not consume retry budget; transient failures do.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.Policy.MaxRetries; {
		resp, respBody, err := c.do(ctx, method, path, query, body)
		if err != nil {
			// Transport-level failure: connection reset, timeout, DNS.
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt+1 >= c.Policy.MaxRetries {
				break
			}
			if err := c.Sleep(ctx, c.Policy.Backoff(attempt)); err != nil {
				return err
			}
			attempt++
			continue
		}

		reset, hasReset := rateLimitReset(resp)

		switch c.Policy.Classify(resp.StatusCode, hasReset) {
		case decideReturn:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s response: %w", method, path, err)
			}
			return nil

		case decideFail:
			return &APIError{Status: resp.StatusCode, Body: string(respBody)}

		case decideRateLimit:
			wait := c.Policy.RateLimitWait(reset, c.Now())
			if err := c.Sleep(ctx, wait); err != nil {
				return err
			}
			// Throttling is not a failure; the attempt count is unchanged.
			continue

		case decideRetry:
			lastErr = &APIError{Status: resp.StatusCode, Body: string(respBody)}
			if attempt+1 >= c.Policy.MaxRetries {
				break
			}
			if err := c.Sleep(ctx, c.Policy.Backoff(attempt)); err != nil {
				return err
			}
			attempt++
			continue
		}
		break
	}

	if apiErr, ok := lastErr.(*APIError); ok {
		return apiErr
	}
	return &APIError{Status: 0, Body: fmt.Sprintf("retries exhausted: %v", lastErr)}
}

// do executes a single HTTP attempt and returns the response with its fully
// read body. The body is read eagerly so the connection can be reused.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, []byte, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "token "+c.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, respBody, nil
}

// rateLimitReset parses the X-RateLimit-Reset header (unix seconds).
func rateLimitReset(resp *http.Response) (time.Time, bool) {
	raw := resp.Header.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
