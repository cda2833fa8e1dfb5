// Package azure holds the REST adapters for the Azure services the pipeline
// consumes: batch speech-to-text, blob storage, text analytics, content safety
// and OpenAI chat completions.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-audit-go/internal/logger"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, strings.TrimSpace(body))
}

// Retryable reports whether another attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// client is the transport shared by every adapter.
type client struct {
	http       *http.Client
	log        *logger.Logger
	maxElapsed time.Duration
}

func newClient(httpClient *http.Client, log *logger.Logger) client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return client{http: httpClient, log: log, maxElapsed: 20 * time.Second}
}

// do sends the request built by build, retrying transport errors, 429 and 5xx
// with exponential backoff. 4xx fails immediately. build is called once per
// attempt so request bodies are never reused. A nil target skips decoding.
func (c client) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed

	var lastErr error
	op := func() error {
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.WithError(err).WithField("url", req.URL.Path).Debug("request failed, retrying")
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			return lastErr
		}
		if resp.StatusCode >= 300 {
			se := &StatusError{Method: req.Method, URL: req.URL.Path, Code: resp.StatusCode, Body: string(body)}
			lastErr = se
			if se.Retryable() {
				return se
			}
			return backoff.Permanent(se)
		}
		if target == nil {
			return nil
		}
		if len(body) == 0 {
			lastErr = fmt.Errorf("empty body from %s", req.URL.Path)
			return backoff.Permanent(lastErr)
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, truncate(string(body), 200))
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// jsonRequest returns a builder for a JSON request with the given headers.
func jsonRequest(method, url string, payload any, headers map[string]string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal payload: %w", err)
			}
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// isoDuration renders d as an ISO-8601 duration such as PT30M.
func isoDuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("PT%dH", int(d/time.Hour))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("PT%dM", int(d/time.Minute))
	}
	return fmt.Sprintf("PT%dS", int(d.Round(time.Second)/time.Second))
}
