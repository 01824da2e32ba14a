package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	headerAPIKey        = "X-CAP-API-KEY"
	headerCST           = "CST"
	headerSecurityToken = "X-SECURITY-TOKEN"
	headerRetryAfter    = "Retry-After"
)

// Request is one logical broker call. It is not modified by the executor.
type Request struct {
	Method string
	Path   string
	Body   any
	Query  url.Values
	// Host overrides the configured base URL when set.
	Host string
	// FinalOnReject ends the call on a 4xx other than 401/403/429 instead
	// of retrying it. Used for order writes the broker rejected outright.
	FinalOnReject bool
}

// Response is a broker response with the body already read.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// ParseJSON parses the response body as JSON into v
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// String returns the response body as a string
func (r *Response) String() string {
	return string(r.Body)
}

// Do sends req through the retry loop and returns the first successful response.
// After the retry budget is spent it returns ErrNoResponse whatever the cause was.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()
	attempts := c.cfg.RetryAttempts
	backoff := c.cfg.BackoffInitial

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx, StandardRequest); err != nil {
			return nil, err
		}

		// No authenticated request goes out without tokens: a failed
		// reauthentication clears them, so this attempt is spent on a login.
		if !c.session.hasTokens() {
			if err := c.session.start(ctx); err != nil {
				c.log.Error(ctx, "No session tokens and login failed",
					"request_id", requestID,
					"attempt", attempt,
					"max_attempts", attempts,
					"error", err,
				)
				if err := c.pause(ctx, attempt, &backoff); err != nil {
					return nil, err
				}
				continue
			}
		}

		usedCST, _ := c.session.tokens()
		resp, err := c.send(ctx, req, true)
		if err != nil {
			reqErr := &RequestError{Method: req.Method, Path: req.Path, Err: err}
			c.log.Error(ctx, "Broker request failed",
				"request_id", requestID,
				"attempt", attempt,
				"max_attempts", attempts,
				"error", reqErr,
			)
			if err := c.pause(ctx, attempt, &backoff); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Headers.Get(headerRetryAfter), c.cfg.DefaultRetryAfter)
			c.log.Warn(ctx, "Broker rate limit hit",
				"request_id", requestID,
				"method", req.Method,
				"path", req.Path,
				"retry_after", wait,
				"attempt", attempt,
				"max_attempts", attempts,
			)
			if attempt < attempts {
				if err := c.clock.Sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.log.Warn(ctx, "Broker rejected session, reauthenticating",
				"request_id", requestID,
				"status", resp.StatusCode,
				"attempt", attempt,
			)
			authErr := c.session.reauthenticate(ctx, usedCST)
			if authErr == nil {
				c.log.Info(ctx, "Reauthentication succeeded, retrying request",
					"request_id", requestID,
					"attempt", attempt,
					"max_attempts", attempts,
				)
				continue
			}
			c.log.Error(ctx, "Reauthentication failed",
				"request_id", requestID,
				"error", authErr,
			)
			if err := c.pause(ctx, attempt, &backoff); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= http.StatusBadRequest:
			reqErr := &RequestError{
				Method:     req.Method,
				Path:       req.Path,
				StatusCode: resp.StatusCode,
				ErrorCode:  gjson.GetBytes(resp.Body, "errorCode").String(),
				Body:       resp.String(),
			}
			c.log.Error(ctx, "Broker returned HTTP error",
				"request_id", requestID,
				"status", resp.StatusCode,
				"error_code", reqErr.ErrorCode,
				"body", reqErr.Body,
				"attempt", attempt,
				"max_attempts", attempts,
			)
			if req.FinalOnReject && resp.StatusCode < http.StatusInternalServerError {
				return nil, fmt.Errorf("%w: %w", ErrRejected, reqErr)
			}
			if err := c.pause(ctx, attempt, &backoff); err != nil {
				return nil, err
			}
			continue

		default:
			return resp, nil
		}
	}

	c.log.Error(ctx, "Max retries reached, request abandoned",
		"severity", "critical",
		"request_id", requestID,
		"method", req.Method,
		"path", req.Path,
		"attempts", attempts,
	)
	return nil, ErrNoResponse
}

// pause applies exponential backoff between attempts; nothing after the last one.
func (c *Client) pause(ctx context.Context, attempt int, backoff *time.Duration) error {
	if attempt >= c.cfg.RetryAttempts || *backoff <= 0 {
		return nil
	}
	if err := c.clock.Sleep(ctx, *backoff); err != nil {
		return err
	}
	*backoff *= 2
	if *backoff > c.cfg.BackoffMax {
		*backoff = c.cfg.BackoffMax
	}
	return nil
}

// parseRetryAfter reads an integer number of seconds, falling back to def.
func parseRetryAfter(v string, def time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// send performs exactly one HTTP exchange with the per-call timeout.
func (c *Client) send(ctx context.Context, req Request, withSession bool) (*Response, error) {
	base := c.baseURL
	if req.Host != "" {
		base = strings.TrimRight(req.Host, "/")
	}
	target := base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range c.headers(withSession) {
		httpReq.Header.Set(key, value)
	}

	c.log.Debug(ctx, "HTTP request", "method", req.Method, "url", target)

	startTime := c.clock.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug(ctx, "HTTP response",
		"method", req.Method,
		"url", target,
		"status", httpResp.StatusCode,
		"duration", c.clock.Now().Sub(startTime),
		"body_size", len(body),
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

func (c *Client) headers(withSession bool) map[string]string {
	h := map[string]string{
		headerAPIKey:   c.cfg.APIKey,
		"Content-Type": "application/json",
	}
	if !withSession {
		return h
	}
	cst, token := c.session.tokens()
	if cst != "" {
		h[headerCST] = cst
	}
	if token != "" {
		h[headerSecurityToken] = token
	}
	return h
}
