package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// Retry and backoff constants for start and finalize requests. Chunk uploads
// and liveness checks are never retried here; the upload orchestrator owns that.
const (
	maxRetries       = 4
	baseBackoff      = 500 * time.Millisecond
	maxBackoff       = 30 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "deckup/0.1"
	maxErrorBody     = 64 * 1024
)

// requestIDHeader carries a per-request UUID so server logs can be matched
// with client logs.
const requestIDHeader = "X-Request-ID"

// Client talks to the upload endpoints of the presentation backend.
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	raw       *http.Client
	token     oauth2.TokenSource // nil: no Authorization header
	userAgent string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithStaticToken attaches a fixed bearer token. An empty token is ignored.
func WithStaticToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.token = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxRetries overrides how many times start and finalize are retried.
// Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.http.RetryMax = n
		}
	}
}

// NewClient creates a Client for baseURL (e.g.
// "http://localhost:8000/api/presentations"). httpClient is used for every
// request; start and finalize additionally get retry with backoff.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = baseBackoff
	rc.RetryWaitMax = maxBackoff
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	rc.Backoff = retryBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("attempt", attempt),
			)
		}
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      rc,
		raw:       httpClient,
		userAgent: defaultUserAgent,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sendOnceKey marks a request context whose request must not be repeated
// once it may have reached the server.
type sendOnceKey struct{}

// withSendOnce makes checkRetry retry only failures where the request never
// left the client (dial errors) and retryable status responses.
func withSendOnce(ctx context.Context) context.Context {
	return context.WithValue(ctx, sendOnceKey{}, true)
}

// checkRetry stops on cancellation, retries transport errors the default
// policy considers transient, and retries the status codes in isRetryable.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		if sendOnce, _ := ctx.Value(sendOnceKey{}).(bool); sendOnce && !isDialError(err) {
			return false, nil
		}

		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return isRetryable(resp.StatusCode), nil
}

// isDialError reports whether err happened while connecting, before any
// request bytes were written.
func isDialError(err error) bool {
	var opErr *net.OpError

	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// retryBackoff honors Retry-After on 429, otherwise exponential backoff with
// ±25% jitter.
func retryBackoff(lo, hi time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(lo, hi, attempt)
}

// calcBackoff computes lo * 2^attempt capped at hi, with ±25% jitter.
func calcBackoff(lo, hi time.Duration, attempt int) time.Duration {
	backoff := float64(lo) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(hi) {
		backoff = float64(hi)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// doJSON sends a retryable request with an optional JSON body and decodes a
// 2xx JSON response into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := marshalBody(path, in)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: creating request: %w", err)
	}

	if err := c.prepareJSON(req.Request, in != nil); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil && resp != nil {
		resp.Body.Close()
	}

	return c.finishJSON(ctx, method, path, resp, err, out)
}

// doJSONOnce is doJSON with exactly one attempt. Callers that retry on their
// own terms use it so their attempt bound is the only one.
func (c *Client) doJSONOnce(ctx context.Context, method, path string, in, out any) error {
	body, err := marshalBody(path, in)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("api: creating request: %w", err)
	}

	if err := c.prepareJSON(req, in != nil); err != nil {
		return err
	}

	resp, err := c.raw.Do(req) //nolint:bodyclose // closed in finishJSON

	return c.finishJSON(ctx, method, path, resp, err, out)
}

func marshalBody(path string, in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("api: marshaling %s request: %w", path, err)
	}

	return body, nil
}

func (c *Client) prepareJSON(req *http.Request, hasBody bool) error {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	return c.decorate(req)
}

// finishJSON turns a response (or transport error) into the call's result
// and closes the body.
func (c *Client) finishJSON(ctx context.Context, method, path string, resp *http.Response, err error, out any) error {
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("api: request canceled: %w", ctx.Err())
		}

		return fmt.Errorf("api: %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(method, path, resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}

	return nil
}

// decorate sets the headers every request carries.
func (c *Client) decorate(req *http.Request) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, uuid.NewString())

	if c.token == nil {
		return nil
	}

	tok, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("api: obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)

	return nil
}

// checkStatus returns nil for 2xx, otherwise reads the body into an *Error.
func (c *Client) checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	apiErr := newError(resp.StatusCode, resp.Header.Get(requestIDHeader), errBody)

	c.logger.Debug("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("message", apiErr.Message),
	)

	return apiErr
}
